package featurecache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/metrics"
	"github.com/spaolacci/murmur3"
)

const (
	metricUpdateInterval = 1 * time.Minute
	cacheName            = "feature_cache_v1"
)

// V1 is a sharded LRU cache. Entity keys are spread across shards by murmur3
// so a Put never contends with a Get on a different shard; within a shard the
// critical section is a single map/list operation. Per-key ordering is
// linearizable: the ComputedAt comparison and the overwrite happen under the
// same shard lock.
type V1 struct {
	shards    []*cacheShard
	shardMask uint32
	ttl       time.Duration

	hits    atomic.Int64
	misses  atomic.Int64
	evicts  atomic.Int64
	expired atomic.Int64
	entries atomic.Int64
}

type cacheShard struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	lruList  *list.List
	capacity int
}

type cacheEntry struct {
	key    string
	vector *FeatureVector
}

func newV1FeatureCache(capacity, shards, ttlSec int) FeatureCache {
	shardCount := nextPowerOfTwo(shards)
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &V1{
		shards:    make([]*cacheShard, shardCount),
		shardMask: uint32(shardCount - 1),
		ttl:       time.Duration(ttlSec) * time.Second,
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			items:    make(map[string]*list.Element),
			lruList:  list.New(),
			capacity: perShard,
		}
	}
	go c.publishMetric()
	return c
}

func (c *V1) shardFor(entityKey string) *cacheShard {
	h := murmur3.Sum32([]byte(entityKey))
	return c.shards[h&c.shardMask]
}

func (c *V1) Get(entityKey string) (*FeatureVector, time.Duration, error) {
	shard := c.shardFor(entityKey)
	shard.mu.Lock()
	element, ok := shard.items[entityKey]
	if !ok {
		shard.mu.Unlock()
		c.misses.Add(1)
		return nil, 0, &errors.NotFoundError{ErrorMsg: fmt.Sprintf("no feature vector for entity %s", entityKey)}
	}
	entry := element.Value.(*cacheEntry)
	age := time.Since(entry.vector.ComputedAt)
	if c.ttl > 0 && age > c.ttl {
		shard.lruList.Remove(element)
		delete(shard.items, entityKey)
		shard.mu.Unlock()
		c.entries.Add(-1)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, 0, &errors.NotFoundError{ErrorMsg: fmt.Sprintf("feature vector expired for entity %s", entityKey)}
	}
	shard.lruList.MoveToFront(element)
	vector := entry.vector
	shard.mu.Unlock()
	c.hits.Add(1)
	return vector, age, nil
}

func (c *V1) Put(entityKey string, vector *FeatureVector) bool {
	if vector == nil {
		return false
	}
	shard := c.shardFor(entityKey)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if element, ok := shard.items[entityKey]; ok {
		entry := element.Value.(*cacheEntry)
		// Out-of-order write: an older computation never overwrites a
		// newer one, regardless of arrival order.
		if vector.ComputedAt.Before(entry.vector.ComputedAt) {
			return false
		}
		element.Value = &cacheEntry{key: entityKey, vector: vector}
		shard.lruList.MoveToFront(element)
		return true
	}

	element := shard.lruList.PushFront(&cacheEntry{key: entityKey, vector: vector})
	shard.items[entityKey] = element
	c.entries.Add(1)

	for shard.lruList.Len() > shard.capacity {
		oldest := shard.lruList.Back()
		if oldest == nil {
			break
		}
		shard.lruList.Remove(oldest)
		delete(shard.items, oldest.Value.(*cacheEntry).key)
		c.entries.Add(-1)
		c.evicts.Add(1)
	}
	return true
}

func (c *V1) Delete(entityKey string) bool {
	shard := c.shardFor(entityKey)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	element, ok := shard.items[entityKey]
	if !ok {
		return false
	}
	shard.lruList.Remove(element)
	delete(shard.items, entityKey)
	c.entries.Add(-1)
	return true
}

func (c *V1) EntryCount() int64 {
	return c.entries.Load()
}

// publishMetric publishes the feature-cache metrics every 1 min, configured by metricUpdateInterval
func (c *V1) publishMetric() {
	ticker := time.NewTicker(metricUpdateInterval)
	cacheMetricTags := []string{"cache_name:" + cacheName}
	defer ticker.Stop()
	for range ticker.C {
		hits := c.hits.Load()
		misses := c.misses.Load()
		hitRate := 0.0
		if hits+misses > 0 {
			hitRate = float64(hits) / float64(hits+misses)
		}
		metrics.Gauge(HitRate, hitRate, cacheMetricTags)
		metrics.Gauge(ItemCount, float64(c.entries.Load()), cacheMetricTags)
		metrics.Gauge(EvictCount, float64(c.evicts.Load()), cacheMetricTags)
		metrics.Gauge(ExpiryCount, float64(c.expired.Load()), cacheMetricTags)
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

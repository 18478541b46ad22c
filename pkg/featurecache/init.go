package featurecache

import (
	"github.com/RetentionML/decisionflow/pkg/logger"
)

var instance FeatureCache

// Init initializes the feature cache, to be called from main.go
func Init(version int, capacity, shards int, ttl int) {
	once.Do(func() {
		switch version {
		case 1:
			instance = newV1FeatureCache(capacity, shards, ttl)
		default:
			logger.Panic("invalid feature cache version", nil)
		}
	})
}

// Instance returns the feature cache instance. Ensure that Init is called
// before calling this function
func Instance() FeatureCache {
	if instance == nil {
		logger.Panic("feature cache not initialized, call Init first", nil)
	}
	return instance
}

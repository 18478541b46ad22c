package featurecache

import (
	"sync"
	"time"
)

var (
	once sync.Once
)

const (
	HitRate     = "feature_cache_hit_rate"
	ItemCount   = "feature_cache_item_count"
	EvictCount  = "feature_cache_evict_count"
	ExpiryCount = "feature_cache_expiry_count"
)

// FeatureValue is one typed feature. Exactly one of the value fields is
// meaningful, selected by Kind.
type FeatureValue struct {
	Kind        ValueKind `json:"kind"`
	Numeric     float64   `json:"numeric,omitempty"`
	Bool        bool      `json:"bool,omitempty"`
	Categorical string    `json:"categorical,omitempty"`
}

type ValueKind int8

const (
	KindNumeric ValueKind = iota
	KindBool
	KindCategorical
)

// FeatureVector is immutable once stored: a newer computation stores a new
// vector, it never mutates one in place.
type FeatureVector struct {
	Values     map[string]FeatureValue `json:"values"`
	ComputedAt time.Time               `json:"computed_at"`
}

// FeatureCache serves point lookups of the freshest known vector per entity.
// Get returns the vector together with its freshness age. Put is
// last-write-wins by ComputedAt: a vector older than the stored one is a
// no-op and Put returns false.
type FeatureCache interface {
	Get(entityKey string) (*FeatureVector, time.Duration, error)
	Put(entityKey string, vector *FeatureVector) bool
	Delete(entityKey string) bool
	EntryCount() int64
}

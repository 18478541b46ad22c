package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RetentionML/decisionflow/internal/errors"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
)

// Registry holds the replica pool partitioned by logical model name. The
// table is copy-on-write: register/deregister rebuild the map and swap it
// atomically, so in-flight requests always read a self-consistent snapshot
// without taking a lock.
type Registry struct {
	table atomic.Pointer[map[string][]*Replica]
	mu    sync.Mutex
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string][]*Replica)
	r.table.Store(&empty)
	return r
}

// Register adds a replica under its model name. Re-registering an existing
// replica ID replaces its record (endpoint/version/weight may change on
// redeploy).
func (r *Registry) Register(replica *Replica) error {
	if replica == nil || replica.ID == "" || replica.ModelName == "" || replica.Endpoint == "" {
		return &errors.RequestError{ErrorMsg: "replica id, model name and endpoint are required"}
	}
	if replica.RegisteredAt.IsZero() {
		replica.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.copyTable()
	pool := make([]*Replica, 0, len(next[replica.ModelName])+1)
	for _, existing := range next[replica.ModelName] {
		if existing.ID != replica.ID {
			pool = append(pool, existing)
		}
	}
	pool = append(pool, replica)
	next[replica.ModelName] = pool
	r.table.Store(&next)

	metrics.Count("decisionflow.registry.register.total", 1, []string{"model", replica.ModelName, "version", replica.Version})
	logger.Info(fmt.Sprintf("Replica %s registered for model %s version %s (canary=%t weight=%.2f)",
		replica.ID, replica.ModelName, replica.Version, replica.Canary, replica.CanaryWeight))
	return nil
}

// Deregister removes the replica from every model pool it appears in.
func (r *Registry) Deregister(replicaID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.copyTable()
	removed := false
	for model, pool := range next {
		filtered := pool[:0:0]
		for _, existing := range pool {
			if existing.ID == replicaID {
				removed = true
				metrics.Count("decisionflow.registry.deregister.total", 1, []string{"model", model})
				continue
			}
			filtered = append(filtered, existing)
		}
		if len(filtered) == 0 {
			delete(next, model)
		} else {
			next[model] = filtered
		}
	}
	r.table.Store(&next)
	if removed {
		logger.Info(fmt.Sprintf("Replica %s deregistered", replicaID))
	}
	return removed
}

// Snapshot returns the current pool for a model. The slice is shared with
// other readers and must not be mutated.
func (r *Registry) Snapshot(modelName string) []*Replica {
	table := *r.table.Load()
	return table[modelName]
}

// Models returns the model names that currently have registered replicas.
func (r *Registry) Models() []string {
	table := *r.table.Load()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}

func (r *Registry) copyTable() map[string][]*Replica {
	current := *r.table.Load()
	next := make(map[string][]*Replica, len(current))
	for model, pool := range current {
		copied := make([]*Replica, len(pool))
		copy(copied, pool)
		next[model] = copied
	}
	return next
}

package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
	domainwf "github.com/yang123apple/EHS-system-sub002/internal/domain/workflow"
)

type cachedLattice struct {
	lattice    domainwf.Lattice
	lastAccess time.Time
}

// latticeCache keeps one compiled lattice per definition. Definitions are immutable
// once stored, so entries only age out; they never need invalidation on update.
type latticeCache struct {
	mu      sync.RWMutex
	entries map[string]cachedLattice
	expiry  time.Duration
	now     func() time.Time
}

func newLatticeCache(expiry time.Duration) *latticeCache {
	return &latticeCache{
		entries: make(map[string]cachedLattice),
		expiry:  expiry,
		now:     time.Now,
	}
}

// BuildLattice compiles the transition table of a definition
func BuildLattice(def *entity.WorkflowDefinition) (domainwf.Lattice, error) {
	if def == nil {
		return nil, fmt.Errorf("workflow definition is nil")
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("workflow definition %s has no steps", def.Key)
	}
	return domainwf.FromDefinition(def)
}

func (c *latticeCache) get(def *entity.WorkflowDefinition) (domainwf.Lattice, error) {
	if def == nil {
		return nil, fmt.Errorf("workflow definition is nil")
	}
	key := cacheKey(def)

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	now := c.now()
	if exists && now.Sub(entry.lastAccess) < c.expiry {
		c.mu.Lock()
		entry.lastAccess = now
		c.entries[key] = entry
		c.mu.Unlock()
		return entry.lattice, nil
	}

	l, err := BuildLattice(def)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cachedLattice{lattice: l, lastAccess: now}
	c.mu.Unlock()

	return l, nil
}

// definitions without an id (not yet stored) are keyed by key and version
func cacheKey(def *entity.WorkflowDefinition) string {
	if def.ID > 0 {
		return fmt.Sprintf("id:%d", def.ID)
	}
	return fmt.Sprintf("%s@%d", def.Key, def.Version)
}

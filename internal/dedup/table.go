package dedup

import (
	"cmp"
	"slices"
	"sync"

	"github.com/starford/scenecorpus/internal/models"
)

// Order returns the registration index of a source. Lower runs first.
type Order func(sourceID string) int

// Reason explains why a record lost a collision.
type Reason string

// Discard reasons.
const (
	ReasonPriority   Reason = "priority"
	ReasonSimplicity Reason = "simplicity"
	ReasonOrder      Reason = "order"
)

// beats reports whether a wins over b and which rule decided it. The order is
// total over distinct records, so the winner of a key never depends on the
// order in which its members were observed.
func beats(a, b models.Keyed, order Order) (bool, Reason) {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority, ReasonPriority
	}
	if a.Lines != b.Lines {
		return a.Lines < b.Lines, ReasonSimplicity
	}
	if oa, ob := order(a.SourceID), order(b.SourceID); oa != ob {
		return oa < ob, ReasonOrder
	}
	return a.Ordinal < b.Ordinal, ReasonOrder
}

// encounter sorts records by source registration order, then ordinal.
func encounter(order Order) func(a, b models.Keyed) int {
	return func(a, b models.Keyed) int {
		return cmp.Or(
			cmp.Compare(order(a.SourceID), order(b.SourceID)),
			cmp.Compare(a.Ordinal, b.Ordinal),
		)
	}
}

type slot struct {
	mu      sync.Mutex
	owner   models.Keyed
	members []models.Keyed
}

// KeyTable maps keys to their current owner. Observe may be called from many
// goroutines; the read-compare-write of one key happens under that key's lock.
type KeyTable struct {
	order Order
	slots sync.Map // string -> *slot
}

// NewKeyTable creates an empty table.
func NewKeyTable(order Order) *KeyTable {
	return &KeyTable{order: order}
}

// Observe records k under key. It reports whether k is now the owner.
func (t *KeyTable) Observe(key string, k models.Keyed) bool {
	v, loaded := t.slots.LoadOrStore(key, &slot{owner: k, members: []models.Keyed{k}})
	if !loaded {
		return true
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, k)
	if win, _ := beats(k, s.owner, t.order); win {
		s.owner = k
		return true
	}
	return false
}

// Owner returns the current owner of key.
func (t *KeyTable) Owner(key string) (models.Keyed, bool) {
	v, ok := t.slots.Load(key)
	if !ok {
		return models.Keyed{}, false
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner, true
}

// collisions returns every key with more than one member. Members are in
// encounter order and groups are ordered by their survivor.
func (t *KeyTable) collisions() []collision {
	var out []collision
	t.slots.Range(func(k, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if len(s.members) > 1 {
			members := slices.Clone(s.members)
			slices.SortFunc(members, encounter(t.order))
			out = append(out, collision{key: k.(string), owner: s.owner, members: members})
		}
		s.mu.Unlock()
		return true
	})
	byOwner := encounter(t.order)
	slices.SortFunc(out, func(a, b collision) int {
		return cmp.Or(byOwner(a.owner, b.owner), cmp.Compare(a.key, b.key))
	})
	return out
}

type collision struct {
	key     string
	owner   models.Keyed
	members []models.Keyed
}

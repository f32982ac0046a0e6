// Package dedup resolves records that collide on a description or code key.
//
// A run is two passes over the same input. The description pass goes first and
// skips placeholder descriptions; the code pass then runs over the survivors of
// the description pass. A record that loses either pass is removed. Every
// removal is reported as a Discard with the winning record and the rule that
// decided it.
package dedup

import (
	"slices"
	"sync"

	"github.com/starford/scenecorpus/internal/checksum"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/normalize"
)

// KeyKind names the key a collision happened on.
type KeyKind string

// Key kinds.
const (
	KeyDescription KeyKind = "description"
	KeyCode        KeyKind = "code"
)

// Pass labels where a discard happened.
type Pass string

// Passes.
const (
	PassWithin Pass = "within"
	PassCross  Pass = "cross"
)

// Discard is one record removed by a collision.
type Discard struct {
	Pass         Pass           `json:"pass"`
	KeyKind      KeyKind        `json:"key_kind"`
	Key          string         `json:"key"`
	Source       string         `json:"source"`
	Ref          string         `json:"ref"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata"`
	Winner       string         `json:"winner"`
	WinnerSource string         `json:"winner_source"`
	Reason       Reason         `json:"reason"`

	// Ordinals of the discarded and the winning record as seen by the pass.
	Ordinal       int `json:"-"`
	WinnerOrdinal int `json:"-"`
}

// Group is the set of records that shared one key.
type Group struct {
	KeyKind  KeyKind
	Key      string
	Survivor models.Keyed
	Members  []models.Keyed
	Discards []Discard
}

// Sources returns the distinct sources among the members in encounter order.
func (g Group) Sources() []string {
	var out []string
	for _, m := range g.Members {
		if !slices.Contains(out, m.SourceID) {
			out = append(out, m.SourceID)
		}
	}
	return out
}

// NearDuplicate lists surviving records whose descriptions differ only in case.
type NearDuplicate struct {
	Key  string   `json:"key"`
	Refs []string `json:"refs"`
}

// Result is the outcome of one deduplication run.
type Result struct {
	Survivors      []models.Keyed
	Groups         []Group
	Discards       []Discard
	NearDuplicates []NearDuplicate
}

// Engine deduplicates batches of keyed records.
type Engine struct {
	order Order
}

// New creates an engine that breaks final ties by order.
func New(order Order) *Engine {
	return &Engine{order: order}
}

// Run deduplicates batches. Each batch is observed by its own goroutine, so
// batches are usually one per source; the result does not depend on how the
// goroutines interleave. Survivors come back in encounter order.
func (e *Engine) Run(pass Pass, batches ...[]models.Keyed) Result {
	descTable := NewKeyTable(e.order)
	e.observe(batches, descTable, func(k models.Keyed) (string, bool) {
		if k.IsPlaceholder() {
			return "", false
		}
		return k.DescriptionKey, true
	})
	descGroups := e.groups(pass, KeyDescription, descTable)
	afterDesc := filterBatches(batches, losers(descGroups))

	codeTable := NewKeyTable(e.order)
	e.observe(afterDesc, codeTable, func(k models.Keyed) (string, bool) {
		return k.CodeKey, true
	})
	codeGroups := e.groups(pass, KeyCode, codeTable)
	final := filterBatches(afterDesc, losers(codeGroups))

	var survivors []models.Keyed
	for _, b := range final {
		survivors = append(survivors, b...)
	}
	slices.SortFunc(survivors, encounter(e.order))

	res := Result{
		Survivors:      survivors,
		Groups:         append(descGroups, codeGroups...),
		NearDuplicates: nearDuplicates(survivors),
	}
	for _, g := range res.Groups {
		res.Discards = append(res.Discards, g.Discards...)
	}
	return res
}

func (e *Engine) observe(batches [][]models.Keyed, table *KeyTable, keyOf func(models.Keyed) (string, bool)) {
	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, k := range batch {
				if key, ok := keyOf(k); ok {
					table.Observe(key, k)
				}
			}
		}()
	}
	wg.Wait()
}

func (e *Engine) groups(pass Pass, kind KeyKind, table *KeyTable) []Group {
	cols := table.collisions()
	out := make([]Group, 0, len(cols))
	for _, c := range cols {
		g := Group{KeyKind: kind, Key: c.key, Survivor: c.owner, Members: c.members}
		for _, m := range c.members {
			if m.Ref() == c.owner.Ref() {
				continue
			}
			_, reason := beats(c.owner, m, e.order)
			g.Discards = append(g.Discards, Discard{
				Pass:         pass,
				KeyKind:      kind,
				Key:          checksum.Short(c.key),
				Source:       m.SourceID,
				Ref:          m.Ref(),
				Description:  m.Description,
				Metadata:     m.Metadata,
				Winner:       c.owner.Ref(),
				WinnerSource: c.owner.SourceID,
				Reason:       reason,

				Ordinal:       m.Ordinal,
				WinnerOrdinal: c.owner.Ordinal,
			})
		}
		out = append(out, g)
	}
	return out
}

func losers(groups []Group) map[string]bool {
	out := map[string]bool{}
	for _, g := range groups {
		for _, d := range g.Discards {
			out[d.Ref] = true
		}
	}
	return out
}

func filterBatches(batches [][]models.Keyed, drop map[string]bool) [][]models.Keyed {
	out := make([][]models.Keyed, len(batches))
	for i, b := range batches {
		kept := make([]models.Keyed, 0, len(b))
		for _, k := range b {
			if !drop[k.Ref()] {
				kept = append(kept, k)
			}
		}
		out[i] = kept
	}
	return out
}

func nearDuplicates(survivors []models.Keyed) []NearDuplicate {
	byFold := map[string][]string{}
	var folds []string
	for _, k := range survivors {
		if k.IsPlaceholder() {
			continue
		}
		f := normalize.FoldKey(k.DescriptionKey)
		if _, ok := byFold[f]; !ok {
			folds = append(folds, f)
		}
		byFold[f] = append(byFold[f], k.Ref())
	}
	var out []NearDuplicate
	for _, f := range folds {
		if refs := byFold[f]; len(refs) > 1 {
			out = append(out, NearDuplicate{Key: checksum.Short(f), Refs: refs})
		}
	}
	return out
}

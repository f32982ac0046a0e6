// Package report accumulates run statistics and writes the run report.
package report

import (
	"encoding/json"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/starford/scenecorpus/internal/dedup"
	"github.com/starford/scenecorpus/internal/models"
)

// Status is the outcome of one source's stage.
type Status string

// Source statuses.
const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusCached  Status = "cached"
	StatusFailed  Status = "failed"
	// StatusSkipped marks a source that was neither named in a subset run nor
	// cached. It contributes nothing and is not a failure.
	StatusSkipped Status = "skipped"
)

// SourceStats are the per-source counters.
type SourceStats struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Priority int    `json:"priority"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`

	Extracted  int            `json:"extracted"`
	Rejected   map[string]int `json:"rejected"`
	Duplicates map[string]int `json:"duplicates"`
	Surviving  int            `json:"surviving"`

	// CrossDiscarded counts records dropped by the cross-source pass.
	CrossDiscarded int `json:"cross_discarded"`
	// Contribution is the number of records in the final artifact.
	Contribution int `json:"contribution"`

	DurationMS int64 `json:"duration_ms"`
}

// RejectedTotal sums the rejection histogram.
func (s SourceStats) RejectedTotal() int {
	return sum(s.Rejected)
}

// DuplicatesTotal sums the within-source duplicate histogram.
func (s SourceStats) DuplicatesTotal() int {
	return sum(s.Duplicates)
}

// Report is the run report.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryCount   bool      `json:"dry_count"`

	Sources []SourceStats `json:"sources"`
	Failed  []string      `json:"failed_sources"`

	RejectionReasons map[string]int            `json:"rejection_reasons"`
	DuplicateReasons map[string]int            `json:"duplicate_reasons"`
	Overlap          map[string]map[string]int `json:"overlap"`
	Splits           map[string]int            `json:"splits"`
	FinalCount       int                       `json:"final_count"`

	NearDuplicates []dedup.NearDuplicate `json:"near_duplicates"`
	Discards       []dedup.Discard       `json:"discards"`
}

// Source returns the stats for id.
func (r *Report) Source(id string) (SourceStats, bool) {
	i := slices.IndexFunc(r.Sources, func(s SourceStats) bool { return s.ID == id })
	if i < 0 {
		return SourceStats{}, false
	}
	return r.Sources[i], true
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(rd io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Builder collects statistics while sources run concurrently.
type Builder struct {
	mu     sync.Mutex
	report Report
	index  map[string]int
}

// NewBuilder starts a report for the given sources in registration order.
func NewBuilder(runID string, started time.Time, dryCount bool, sources []SourceStats) *Builder {
	b := &Builder{
		report: Report{
			RunID:     runID,
			StartedAt: started,
			DryCount:  dryCount,
			Sources:   make([]SourceStats, len(sources)),
		},
		index: make(map[string]int, len(sources)),
	}
	for i, s := range sources {
		if s.Status == "" {
			s.Status = StatusPending
		}
		s.Rejected = map[string]int{}
		s.Duplicates = map[string]int{}
		b.report.Sources[i] = s
		b.index[s.ID] = i
	}
	return b
}

// Update applies fn to the stats of source id.
func (b *Builder) Update(id string, fn func(*SourceStats)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.index[id]; ok {
		fn(&b.report.Sources[i])
	}
}

// Snapshot returns a copy of the stats for source id.
func (b *Builder) Snapshot(id string) SourceStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report.Sources[b.index[id]]
}

// Succeeded returns the ids of sources that did not fail, in registration order.
func (b *Builder) Succeeded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, s := range b.report.Sources {
		if s.Status == StatusOK || s.Status == StatusCached {
			out = append(out, s.ID)
		}
	}
	return out
}

// Finish folds in the cross-source result and returns the finished report.
// res may be nil when no source succeeded.
func (b *Builder) Finish(finished time.Time, res *dedup.Result, withinDiscards []dedup.Discard) *Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.report
	r.Sources = slices.Clone(r.Sources)
	r.FinishedAt = finished
	r.RejectionReasons = map[string]int{}
	r.DuplicateReasons = map[string]int{}
	r.Splits = map[string]int{}
	r.Overlap = map[string]map[string]int{}
	r.Discards = append([]dedup.Discard{}, withinDiscards...)

	if res != nil {
		r.Overlap = Overlap(res.Groups)
		r.NearDuplicates = res.NearDuplicates
		r.Discards = append(r.Discards, res.Discards...)
		r.FinalCount = len(res.Survivors)

		contrib := map[string]int{}
		for _, k := range res.Survivors {
			contrib[k.SourceID]++
			r.Splits[string(k.Split)]++
		}
		cross := map[string]int{}
		for _, d := range res.Discards {
			cross[d.Source]++
		}
		for i := range r.Sources {
			r.Sources[i].Contribution = contrib[r.Sources[i].ID]
			r.Sources[i].CrossDiscarded = cross[r.Sources[i].ID]
		}
	}
	for _, split := range []models.Split{models.SplitTrain, models.SplitTest, models.SplitUnassigned} {
		if _, ok := r.Splits[string(split)]; !ok {
			r.Splits[string(split)] = 0
		}
	}

	for _, s := range r.Sources {
		if s.Status == StatusFailed {
			r.Failed = append(r.Failed, s.ID)
		}
		for reason, n := range s.Rejected {
			r.RejectionReasons[reason] += n
		}
	}
	for _, d := range r.Discards {
		r.DuplicateReasons[string(d.Reason)]++
	}
	return &r
}

// Overlap counts, for each pair of distinct sources, the collision groups
// containing records from both. The matrix is symmetric.
func Overlap(groups []dedup.Group) map[string]map[string]int {
	out := map[string]map[string]int{}
	add := func(a, b string) {
		if out[a] == nil {
			out[a] = map[string]int{}
		}
		out[a][b]++
	}
	for _, g := range groups {
		srcs := g.Sources()
		for i := range srcs {
			for j := i + 1; j < len(srcs); j++ {
				add(srcs[i], srcs[j])
				add(srcs[j], srcs[i])
			}
		}
	}
	return out
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

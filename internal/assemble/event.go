package assemble

import "github.com/starford/scenecorpus/internal/report"

// Event kinds emitted while a run progresses.
const (
	EventSourceStarted  = "source.started"
	EventSourceFinished = "source.finished"
	EventSourceFailed   = "source.failed"
	EventRunFinished    = "run.finished"
)

// Event describes one step of a run. Stats is set for source events and
// Report for run.finished.
type Event struct {
	Kind   string              `json:"kind"`
	RunID  string              `json:"run_id"`
	Source string              `json:"source,omitempty"`
	Stats  *report.SourceStats `json:"stats,omitempty"`
	Report *report.Report      `json:"report,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Observer receives run events. It is called from worker goroutines and must
// not block.
type Observer func(Event)

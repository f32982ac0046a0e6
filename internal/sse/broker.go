// Package sse streams pipeline run progress to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"
)

// keepAlive is how often an idle stream gets a comment line so proxies do not
// drop it during long extractions.
const keepAlive = 15 * time.Second

// ReportUpdated carries a RunSnapshot. It is throttled while a run is in
// flight and always sent when the run ends.
const ReportUpdated = "report.updated"

// Phase is the step of a run a Progress event reports.
type Phase int

// Phases.
const (
	PhaseSourceStarted Phase = iota
	PhaseSourceFinished
	PhaseSourceFailed
	PhaseRunFinished
)

// Progress is one run progress event. Kind is the SSE event name.
type Progress struct {
	Kind  string `json:"-"`
	Phase Phase  `json:"-"`

	RunID      string `json:"run_id"`
	Source     string `json:"source,omitempty"`
	Extracted  int    `json:"extracted,omitempty"`
	Surviving  int    `json:"surviving,omitempty"`
	FinalCount int    `json:"final_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunSnapshot summarises the latest run from the progress seen so far.
type RunSnapshot struct {
	RunID      string   `json:"run_id"`
	Running    []string `json:"running"`
	Finished   []string `json:"finished"`
	Failed     []string `json:"failed"`
	Done       bool     `json:"done"`
	FinalCount int      `json:"final_count"`
}

func (s *RunSnapshot) apply(p Progress) {
	if p.RunID != s.RunID {
		*s = RunSnapshot{RunID: p.RunID, Running: []string{}, Finished: []string{}, Failed: []string{}}
	}
	s.Running = slices.DeleteFunc(s.Running, func(id string) bool { return id == p.Source })
	switch p.Phase {
	case PhaseSourceStarted:
		s.Running = append(s.Running, p.Source)
	case PhaseSourceFinished:
		s.Finished = append(s.Finished, p.Source)
	case PhaseSourceFailed:
		s.Failed = append(s.Failed, p.Source)
	case PhaseRunFinished:
		s.Running = s.Running[:0]
		s.Done = true
		s.FinalCount = p.FinalCount
	}
}

func (s RunSnapshot) clone() RunSnapshot {
	s.Running = slices.Clone(s.Running)
	s.Finished = slices.Clone(s.Finished)
	s.Failed = slices.Clone(s.Failed)
	return s
}

// Broker manages SSE client connections and broadcasts run progress.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, the run snapshot and the report throttle timestamp). Public methods
// communicate with this loop through channels, so no mutexes are required.
type Broker struct {
	reportMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	progressCh    chan Progress
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given report.updated throttle interval.
func NewBroker(reportThrottle time.Duration) *Broker {
	if reportThrottle <= 0 {
		reportThrottle = 2 * time.Second
	}

	b := &Broker{
		reportMin:     reportThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		progressCh:    make(chan Progress, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(kind string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", kind, payload)
}

// send delivers msg unless the client buffer is full.
func send(ch chan []byte, msg []byte) {
	select {
	case ch <- msg:
	default:
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var snapshot RunSnapshot
	var lastReport time.Time

	broadcast := func(msg []byte) {
		if msg == nil {
			return
		}
		for ch := range clients {
			send(ch, msg)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			// Late joiners start from the current run state.
			if snapshot.RunID != "" {
				send(ch, encode(ReportUpdated, snapshot.clone()))
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case p := <-b.progressCh:
			snapshot.apply(p)
			broadcast(encode(p.Kind, p))

			now := time.Now()
			if p.Phase == PhaseRunFinished || now.Sub(lastReport) >= b.reportMin {
				lastReport = now
				broadcast(encode(ReportUpdated, snapshot.clone()))
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishProgress broadcasts p and folds it into the run snapshot.
func (b *Broker) PublishProgress(p Progress) {
	if b.closed.Load() {
		return
	}
	select {
	case b.progressCh <- p:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

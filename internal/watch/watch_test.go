package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/assemble"
	"github.com/starford/scenecorpus/internal/source"
	"github.com/starford/scenecorpus/internal/testutil"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	conflict int
}

func (f *fakeRunner) Run(_ context.Context, opts assemble.Options) (*assemble.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slices.Clone(opts.Sources))
	if f.conflict > 0 {
		f.conflict--
		return nil, apperr.ErrConflict
	}
	return &assemble.Result{}, nil
}

func (f *fakeRunner) snapshot() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func start(t *testing.T, runner Runner, targets []Target) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, runner, targets, 50*time.Millisecond, testutil.Logger()) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	})
	time.Sleep(100 * time.Millisecond)
}

func TestTargets(t *testing.T) {
	specs := []source.Spec{
		{ID: "docs", Kind: source.KindDocs, BaseURL: "http://x", Pages: []string{"a"}},
		{ID: "notes", Kind: source.KindNotes, Path: "notes"},
		{ID: "bench", Kind: source.KindBench, Path: "bench.parquet", Disabled: true},
		{ID: "community", Kind: source.KindJSON, Path: "data/community.json"},
	}
	got := Targets(specs)
	want := []Target{{SourceID: "notes", Path: "notes"}, {SourceID: "community", Path: "data/community.json"}}
	if !slices.Equal(got, want) {
		t.Errorf("Targets = %+v, want %+v", got, want)
	}
}

func TestWatch_DirectoryChangeRerunsSource(t *testing.T) {
	root := t.TempDir()
	notes := filepath.Join(root, "notes")
	if err := os.MkdirAll(notes, 0o755); err != nil {
		t.Fatal(err)
	}
	jsonFile := filepath.Join(root, "community.json")
	_ = os.WriteFile(jsonFile, []byte("[]"), 0o644)

	runner := &fakeRunner{}
	start(t, runner, []Target{{SourceID: "notes", Path: notes}, {SourceID: "community", Path: jsonFile}})

	_ = os.WriteFile(filepath.Join(notes, "circle.md"), []byte("# Circle"), 0o644)
	_ = os.WriteFile(filepath.Join(notes, "square.md"), []byte("# Square"), 0o644)

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return len(runner.snapshot()) >= 1
	}, "no run after notes change")

	calls := runner.snapshot()
	if !slices.Equal(calls[0], []string{"notes"}) {
		t.Errorf("first run sources = %v, want [notes]", calls[0])
	}
	if len(calls) != 1 {
		t.Errorf("runs = %d, want 1 (debounced)", len(calls))
	}
}

func TestWatch_FileTargetIgnoresSiblings(t *testing.T) {
	root := t.TempDir()
	jsonFile := filepath.Join(root, "community.json")
	_ = os.WriteFile(jsonFile, []byte("[]"), 0o644)

	runner := &fakeRunner{}
	start(t, runner, []Target{{SourceID: "community", Path: jsonFile}})

	_ = os.WriteFile(filepath.Join(root, "unrelated.txt"), []byte("x"), 0o644)
	time.Sleep(200 * time.Millisecond)
	if n := len(runner.snapshot()); n != 0 {
		t.Fatalf("runs after unrelated change = %d, want 0", n)
	}

	_ = os.WriteFile(jsonFile, []byte(`[{"description":"d","code":"c"}]`), 0o644)
	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		calls := runner.snapshot()
		return len(calls) == 1 && slices.Equal(calls[0], []string{"community"})
	}, "file change did not rerun community")
}

func TestWatch_RetriesOnConflict(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{conflict: 1}
	start(t, runner, []Target{{SourceID: "notes", Path: root}})

	_ = os.WriteFile(filepath.Join(root, "a.md"), []byte("# A"), 0o644)

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return len(runner.snapshot()) >= 2
	}, "conflicting run was not retried")

	calls := runner.snapshot()
	if !slices.Equal(calls[0], calls[1]) {
		t.Errorf("retry sources = %v, want %v", calls[1], calls[0])
	}
}

func TestWatch_NewSubdirectory(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	start(t, runner, []Target{{SourceID: "notes", Path: root}})

	sub := filepath.Join(root, "topic")
	_ = os.Mkdir(sub, 0o755)
	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return len(runner.snapshot()) >= 1
	}, "mkdir did not trigger a run")
	before := len(runner.snapshot())

	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "nested.md"), []byte("# Nested"), 0o644)
	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return len(runner.snapshot()) > before
	}, "write in new subdirectory not seen")
}

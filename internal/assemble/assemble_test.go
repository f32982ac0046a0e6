package assemble

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"testing"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/artifact"
	"github.com/starford/scenecorpus/internal/dedup"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/report"
	"github.com/starford/scenecorpus/internal/source"
	"github.com/starford/scenecorpus/internal/testutil"
	"github.com/starford/scenecorpus/internal/validate"
)

const tangentDesc = "Display a large circle with two tangent lines meeting at an external point"

type fixture struct {
	store *artifact.Store
	reg   *source.Registry
	exts  map[string]*testutil.Extractor
}

type srcDef struct {
	id       string
	priority int
	ext      source.Extractor
}

func newFixture(t *testing.T, defs ...srcDef) *fixture {
	t.Helper()
	_, store := testutil.TestStore(t)
	f := &fixture{store: store, reg: source.NewRegistry(), exts: map[string]*testutil.Extractor{}}
	for _, d := range defs {
		if e, ok := d.ext.(*testutil.Extractor); ok {
			f.exts[d.id] = e
		}
		if err := f.reg.Register(source.Source{ID: d.id, Kind: "test", Priority: d.priority, Extractor: d.ext}); err != nil {
			t.Fatal(err)
		}
	}
	f.reg.Freeze()
	return f
}

func (f *fixture) assembler(opts ...Option) *Assembler {
	v := validate.New(validate.Options{MinCodeChars: 20}, testutil.Logger())
	return New(f.reg, f.store, v, Config{Parallelism: 2}, testutil.Logger(), opts...)
}

func raw(desc, code string) models.RawRecord {
	return models.RawRecord{Description: desc, Code: code}
}

func records(prefix string, n int) []models.RawRecord {
	out := make([]models.RawRecord, n)
	for i := range out {
		name := fmt.Sprintf("%s%d", prefix, i)
		out[i] = raw("Animate "+name, testutil.Scene(name, "self.play(Create(Circle()))"))
	}
	return out
}

func stats(t *testing.T, r *report.Report, id string) report.SourceStats {
	t.Helper()
	s, ok := r.Source(id)
	if !ok {
		t.Fatalf("no stats for %s", id)
	}
	return s
}

func TestRunHighestPriorityWins(t *testing.T) {
	f := newFixture(t,
		srcDef{"docs", 2, &testutil.Extractor{Records: []models.RawRecord{
			raw(tangentDesc, testutil.Scene("TangentDocs", "c = Circle(radius=3)", "self.play(Create(c))")),
		}}},
		srcDef{"bench", 5, &testutil.Extractor{Records: []models.RawRecord{
			raw(tangentDesc, "```python\n"+testutil.Scene("TangentBench", "c = Circle(radius=2.5)", "self.add(c)", "self.wait()")+"```"),
		}}},
		srcDef{"community", 1, &testutil.Extractor{Records: []models.RawRecord{
			raw(tangentDesc, testutil.Scene("TangentCommunity")),
		}}},
	)

	res, err := f.assembler().Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Final) != 1 {
		t.Fatalf("final = %d records, want 1", len(res.Final))
	}
	got := res.Final[0]
	if got.SourceID != "bench" || got.Priority != 5 {
		t.Errorf("survivor = %s/%d, want bench/5", got.SourceID, got.Priority)
	}
	if got.Code == "" || got.Code[0] == '`' {
		t.Errorf("survivor code still fenced: %q", got.Code)
	}

	rep := res.Report
	if rep.FinalCount != 1 || len(rep.Failed) != 0 {
		t.Errorf("report final=%d failed=%v", rep.FinalCount, rep.Failed)
	}
	if len(rep.Discards) != 2 {
		t.Fatalf("discards = %+v", rep.Discards)
	}
	for _, d := range rep.Discards {
		if d.Pass != dedup.PassCross || d.Reason != dedup.ReasonPriority || d.WinnerSource != "bench" {
			t.Errorf("discard = %+v", d)
		}
	}
	if rep.Overlap["bench"]["docs"] != 1 || rep.Overlap["docs"]["community"] != 1 {
		t.Errorf("overlap = %v", rep.Overlap)
	}
	if s := stats(t, rep, "bench"); s.Contribution != 1 || s.Status != report.StatusOK {
		t.Errorf("bench stats = %+v", s)
	}
	if s := stats(t, rep, "docs"); s.CrossDiscarded != 1 || s.Contribution != 0 {
		t.Errorf("docs stats = %+v", s)
	}

	final, err := f.store.ReadFinal()
	if err != nil {
		t.Fatalf("ReadFinal: %v", err)
	}
	if len(final) != 1 || final[0].SourceID != "bench" {
		t.Errorf("persisted final = %+v", final)
	}
	onDisk, err := f.store.ReadReport()
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.RunID != rep.RunID {
		t.Errorf("report run id = %q, want %q", onDisk.RunID, rep.RunID)
	}
}

func TestRunPartialFailure(t *testing.T) {
	f := newFixture(t,
		srcDef{"a", 3, &testutil.Extractor{Records: records("Alpha", 3)}},
		srcDef{"b", 2, &testutil.Extractor{Err: fmt.Errorf("b: connection refused: %w", apperr.ErrSourceUnavailable)}},
		srcDef{"c", 1, &testutil.Extractor{Records: records("Gamma", 2)}},
	)

	res, err := f.assembler().Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Final) != 5 {
		t.Errorf("final = %d, want 5", len(res.Final))
	}
	rep := res.Report
	if !slices.Equal(rep.Failed, []string{"b"}) {
		t.Errorf("failed = %v", rep.Failed)
	}
	b := stats(t, rep, "b")
	if b.Status != report.StatusFailed || b.Contribution != 0 || b.Error == "" {
		t.Errorf("b stats = %+v", b)
	}
	for _, id := range []string{"a", "c"} {
		if _, err := f.store.Manifest(id); err != nil {
			t.Errorf("%s intermediate missing: %v", id, err)
		}
	}
	if _, err := f.store.Manifest("b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("b manifest err = %v, want ErrNotFound", err)
	}
}

func TestRunCountsRejections(t *testing.T) {
	f := newFixture(t,
		srcDef{"a", 1, &testutil.Extractor{Records: []models.RawRecord{
			raw("", testutil.Scene("NoDesc")),
			raw("Too short", "x = 1"),
			raw("Broken", "class Broken(Scene:\n    def construct(self):\n        pass\n"),
			raw("Nested fence", "```python\n```python\nclass A(Scene):\n    pass\n```\n```"),
			raw("Fine", testutil.Scene("Fine")),
		}}},
	)
	res, err := f.assembler().Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	s := stats(t, res.Report, "a")
	if s.Extracted != 5 || s.RejectedTotal() != 4 || s.Surviving != 1 {
		t.Errorf("stats = %+v", s)
	}
	for _, reason := range []validate.Reason{
		validate.ReasonEmptyDescription,
		validate.ReasonCodeTooShort,
		validate.ReasonSyntaxError,
		validate.ReasonAmbiguousFence,
	} {
		if s.Rejected[string(reason)] != 1 {
			t.Errorf("rejected[%q] = %d, want 1", reason, s.Rejected[string(reason)])
		}
	}
	if !f.store.Provider().Exists(artifact.RejectedPath("a")) {
		t.Error("rejected table not written")
	}
}

func TestRunWithinSourceDuplicates(t *testing.T) {
	code := testutil.Scene("Dot", "self.play(FadeIn(Dot(color=GREEN)))")
	f := newFixture(t,
		srcDef{"a", 1, &testutil.Extractor{Records: []models.RawRecord{
			raw("Show a green dot", code),
			raw("Show a green dot", code+"        # same thing\n"),
			raw("A different prompt", code),
		}}},
	)
	res, err := f.assembler().Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	s := stats(t, res.Report, "a")
	if s.Surviving != 1 || s.DuplicatesTotal() != 2 {
		t.Errorf("stats = %+v", s)
	}
	within := 0
	for _, d := range res.Report.Discards {
		if d.Pass == dedup.PassWithin {
			within++
		}
	}
	if within != 2 {
		t.Errorf("within discards = %d, want 2", within)
	}
}

func TestRunDiscardRefsUseTableRows(t *testing.T) {
	dot := testutil.Scene("Dot", "self.play(FadeIn(Dot(color=GREEN)))")
	f := newFixture(t,
		srcDef{"a", 1, &testutil.Extractor{Records: []models.RawRecord{
			raw("Too short", "x = 1"),
			raw("Animate Alpha", testutil.Scene("Alpha", "self.play(Create(Circle()))")),
			raw("Show a green dot", dot),
			raw("Show a green dot", dot+"        # same thing\n"),
		}}},
		srcDef{"b", 2, &testutil.Extractor{Records: []models.RawRecord{
			raw("Animate Alpha", testutil.Scene("Alpha", "self.play(Write(Square()))")),
		}}},
	)
	res, err := f.assembler().Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	var within, cross []dedup.Discard
	for _, d := range res.Report.Discards {
		if d.Pass == dedup.PassWithin {
			within = append(within, d)
		} else {
			cross = append(cross, d)
		}
	}
	if len(within) != 1 || len(cross) != 1 {
		t.Fatalf("discards = %+v", res.Report.Discards)
	}

	// Extraction positions 2 and 3 collide; 2 survives as row 1 of a's table.
	w := within[0]
	if w.Ref != "a@3" || w.Winner != "a#1" {
		t.Errorf("within ref=%q winner=%q, want a@3 and a#1", w.Ref, w.Winner)
	}
	if w.Metadata[models.MetaExtractedOrdinal] != 3 {
		t.Errorf("metadata = %v", w.Metadata)
	}

	// Alpha is row 0 of a's table and loses to b on priority.
	c := cross[0]
	if c.Ref != "a#0" || c.Winner != "b#0" || c.Reason != dedup.ReasonPriority {
		t.Errorf("cross = %+v", c)
	}
}

func TestRunDryCount(t *testing.T) {
	f := newFixture(t, srcDef{"a", 1, &testutil.Extractor{Records: records("Alpha", 2)}})
	res, err := f.assembler().Run(context.Background(), Options{DryCount: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Report.DryCount || res.Report.FinalCount != 2 {
		t.Errorf("report = %+v", res.Report)
	}
	if f.store.Provider().Exists(artifact.DatasetPath) {
		t.Error("dry count wrote the final dataset")
	}
	if !f.store.Provider().Exists(artifact.ReportPath) {
		t.Error("dry count should still write the report")
	}
}

func TestRunReusesCache(t *testing.T) {
	f := newFixture(t,
		srcDef{"a", 2, &testutil.Extractor{Records: records("Alpha", 3)}},
		srcDef{"b", 1, &testutil.Extractor{Records: append(records("Beta", 2), raw("Animate Alpha0", testutil.Scene("Other")))}},
	)
	asm := f.assembler()
	first, err := asm.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := asm.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	for id, ext := range f.exts {
		if n := ext.Calls.Load(); n != 1 {
			t.Errorf("%s extracted %d times, want 1", id, n)
		}
		if s := stats(t, second.Report, id); s.Status != report.StatusCached {
			t.Errorf("%s status = %s, want cached", id, s.Status)
		}
	}
	if !slices.EqualFunc(first.Final, second.Final, func(a, b models.Record) bool {
		return a.SourceID == b.SourceID && a.Code == b.Code && a.Description == b.Description
	}) {
		t.Error("cached run produced a different dataset")
	}
	if len(first.Report.Discards) != len(second.Report.Discards) {
		t.Errorf("discards %d vs %d", len(first.Report.Discards), len(second.Report.Discards))
	}
	for i := range first.Report.Discards {
		if first.Report.Discards[i].Ref != second.Report.Discards[i].Ref {
			t.Errorf("discard %d ref %q vs %q", i, first.Report.Discards[i].Ref, second.Report.Discards[i].Ref)
		}
	}

	// Force re-extracts everything.
	if _, err := asm.Run(context.Background(), Options{Force: true}); err != nil {
		t.Fatal(err)
	}
	for id, ext := range f.exts {
		if n := ext.Calls.Load(); n != 2 {
			t.Errorf("%s extracted %d times after force, want 2", id, n)
		}
	}
}

func TestRunSubset(t *testing.T) {
	f := newFixture(t,
		srcDef{"a", 2, &testutil.Extractor{Records: records("Alpha", 2)}},
		srcDef{"b", 1, &testutil.Extractor{Records: records("Beta", 2)}},
	)
	asm := f.assembler()

	// Nothing cached: the unnamed source is skipped.
	res, err := asm.Run(context.Background(), Options{Sources: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	if s := stats(t, res.Report, "b"); s.Status != report.StatusSkipped {
		t.Errorf("b status = %s, want skipped", s.Status)
	}
	if res.Report.FinalCount != 2 {
		t.Errorf("final = %d, want 2", res.Report.FinalCount)
	}

	if _, err := asm.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	res, err = asm.Run(context.Background(), Options{Sources: []string{"b"}})
	if err != nil {
		t.Fatal(err)
	}
	if n := f.exts["a"].Calls.Load(); n != 1 {
		t.Errorf("a extracted %d times, want 1", n)
	}
	if n := f.exts["b"].Calls.Load(); n != 2 {
		t.Errorf("b extracted %d times, want 2", n)
	}
	if stats(t, res.Report, "a").Status != report.StatusCached || stats(t, res.Report, "b").Status != report.StatusOK {
		t.Errorf("statuses = %+v", res.Report.Sources)
	}
	if res.Report.FinalCount != 4 {
		t.Errorf("final = %d, want 4", res.Report.FinalCount)
	}
}

func TestRunFailedSourceIgnoresCache(t *testing.T) {
	ext := &testutil.Extractor{Records: records("Alpha", 2)}
	f := newFixture(t,
		srcDef{"a", 2, ext},
		srcDef{"b", 1, &testutil.Extractor{Records: records("Beta", 1)}},
	)
	asm := f.assembler()
	if _, err := asm.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	ext.Err = fmt.Errorf("gone: %w", apperr.ErrSourceUnavailable)
	res, err := asm.Run(context.Background(), Options{Sources: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.FinalCount != 1 || stats(t, res.Report, "a").Contribution != 0 {
		t.Errorf("report = %+v", res.Report)
	}
}

func TestRunNoSourcesSucceeded(t *testing.T) {
	unavailable := fmt.Errorf("down: %w", apperr.ErrSourceUnavailable)
	f := newFixture(t,
		srcDef{"a", 1, &testutil.Extractor{Err: unavailable}},
		srcDef{"b", 2, &testutil.Extractor{Err: unavailable}},
	)
	res, err := f.assembler().Run(context.Background(), Options{})
	if !errors.Is(err, apperr.ErrNoSourcesSucceeded) {
		t.Fatalf("err = %v, want ErrNoSourcesSucceeded", err)
	}
	if res == nil || len(res.Report.Failed) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if f.store.Provider().Exists(artifact.DatasetPath) {
		t.Error("final dataset written with no successful source")
	}
	if !f.store.Provider().Exists(artifact.ReportPath) {
		t.Error("report not written")
	}
}

func TestRunUnknownSource(t *testing.T) {
	f := newFixture(t, srcDef{"a", 1, &testutil.Extractor{}})
	_, err := f.assembler().Run(context.Background(), Options{Sources: []string{"nope"}})
	if !errors.Is(err, apperr.ErrUnknownSource) {
		t.Errorf("err = %v, want ErrUnknownSource", err)
	}
}

type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExtractor) Extract(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		close(b.started)
		select {
		case <-b.release:
		case <-ctx.Done():
			yield(models.RawRecord{}, ctx.Err())
			return
		}
		yield(raw("Animate Block", testutil.Scene("Block")), nil)
	}
}

func TestRunConflict(t *testing.T) {
	blk := &blockingExtractor{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, srcDef{"a", 1, blk})
	asm := f.assembler()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = asm.Run(context.Background(), Options{})
	}()
	<-blk.started

	if !asm.Running() {
		t.Error("Running() = false during a run")
	}
	if _, err := asm.Run(context.Background(), Options{}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	close(blk.release)
	wg.Wait()
	if firstErr != nil {
		t.Errorf("first run: %v", firstErr)
	}
	if asm.Running() {
		t.Error("Running() = true after the run")
	}
}

func TestRunCancelled(t *testing.T) {
	blk := &blockingExtractor{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, srcDef{"a", 1, blk})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-blk.started
		cancel()
	}()
	if _, err := f.assembler().Run(ctx, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRunEvents(t *testing.T) {
	f := newFixture(t,
		srcDef{"a", 1, &testutil.Extractor{Records: records("Alpha", 1)}},
		srcDef{"b", 2, &testutil.Extractor{Err: fmt.Errorf("x: %w", apperr.ErrSourceUnavailable)}},
	)
	var mu sync.Mutex
	kinds := map[string]int{}
	asm := f.assembler(WithObserver(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds[e.Kind]++
	}))
	if _, err := asm.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	want := map[string]int{
		EventSourceStarted:  2,
		EventSourceFinished: 1,
		EventSourceFailed:   1,
		EventRunFinished:    1,
	}
	for k, n := range want {
		if kinds[k] != n {
			t.Errorf("%s events = %d, want %d", k, kinds[k], n)
		}
	}
}

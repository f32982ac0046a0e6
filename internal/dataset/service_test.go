package dataset

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/assemble"
	"github.com/starford/scenecorpus/internal/index"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/source"
	"github.com/starford/scenecorpus/internal/testutil"
	"github.com/starford/scenecorpus/internal/validate"
)

func newService(t *testing.T, exts map[string]source.Extractor, order ...string) *Service {
	t.Helper()
	_, store := testutil.TestStore(t)
	reg := source.NewRegistry()
	for i, id := range order {
		if err := reg.Register(source.Source{ID: id, Kind: "test", Priority: len(order) - i, Extractor: exts[id]}); err != nil {
			t.Fatal(err)
		}
	}
	reg.Freeze()
	v := validate.New(validate.Options{MinCodeChars: 20}, testutil.Logger())
	asm := assemble.New(reg, store, v, assemble.Config{}, testutil.Logger())
	svc := NewService(testutil.TestDB(t), store, asm, testutil.Logger())
	t.Cleanup(svc.Close)
	return svc
}

func twoSources() map[string]source.Extractor {
	return map[string]source.Extractor{
		"bench": &testutil.Extractor{Records: []models.RawRecord{
			{Description: "Draw a red square", Code: testutil.Scene("RedSquare", "self.add(Square(color=RED))")},
			{Description: "Draw a blue circle", Code: testutil.Scene("BlueCircle", "self.add(Circle(color=BLUE))"), Split: models.SplitTest},
		}},
		"docs": &testutil.Extractor{Records: []models.RawRecord{
			{Description: "Draw a blue circle", Code: testutil.Scene("DocsCircle", "self.play(Create(Circle()))")},
			{Description: "Write some text", Code: testutil.Scene("Hello", "self.play(Write(Text('hello')))")},
		}},
	}
}

func TestRunPopulatesCatalog(t *testing.T) {
	svc := newService(t, twoSources(), "bench", "docs")
	ctx := context.Background()

	if _, err := svc.Run(ctx, assemble.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	items, total, err := svc.ListRecords(ctx, index.RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 3 {
		t.Fatalf("total = %d, items = %+v", total, items)
	}

	rec, err := svc.GetRecord(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.SourceID != "bench" || rec.Split != models.SplitTest {
		t.Errorf("record 1 = %+v", rec)
	}
	if _, err := svc.GetRecord(ctx, 99); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	hits, err := svc.Search(ctx, "text", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].SourceID != "docs" {
		t.Errorf("hits = %+v", hits)
	}

	rep, err := svc.Report(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.FinalCount != 3 {
		t.Errorf("final count = %d", rep.FinalCount)
	}
	runs, _ := svc.Runs(ctx, 10)
	if len(runs) != 1 || runs[0].RunID != rep.RunID {
		t.Errorf("runs = %+v", runs)
	}

	srcs, err := svc.Sources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 2 || srcs[0].ID != "bench" || srcs[0].Records != 2 || !srcs[1].Cached {
		t.Errorf("sources = %+v", srcs)
	}
}

func TestReportBeforeAnyRun(t *testing.T) {
	svc := newService(t, twoSources(), "bench", "docs")
	if _, err := svc.Report(context.Background()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	runs, err := svc.Runs(context.Background(), 5)
	if err != nil || runs == nil || len(runs) != 0 {
		t.Errorf("runs = %v, err = %v", runs, err)
	}
}

type gate struct {
	started chan struct{}
	release chan struct{}
}

func (g *gate) Extract(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		close(g.started)
		select {
		case <-g.release:
		case <-ctx.Done():
			yield(models.RawRecord{}, ctx.Err())
			return
		}
		yield(models.RawRecord{Description: "Gate", Code: testutil.Scene("Gate")}, nil)
	}
}

func TestStartRunConflict(t *testing.T) {
	g := &gate{started: make(chan struct{}), release: make(chan struct{})}
	svc := newService(t, map[string]source.Extractor{"g": g}, "g")

	if err := svc.StartRun(assemble.Options{}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	<-g.started
	if !svc.Running() {
		t.Error("Running() = false")
	}
	if err := svc.StartRun(assemble.Options{}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	close(g.release)
	svc.Wait()
	if svc.Running() {
		t.Error("Running() = true after completion")
	}
	_, total, _ := svc.ListRecords(context.Background(), index.RecordFilter{})
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestStartRunUnknownSource(t *testing.T) {
	svc := newService(t, twoSources(), "bench", "docs")
	if err := svc.StartRun(assemble.Options{Sources: []string{"missing"}}); !errors.Is(err, apperr.ErrUnknownSource) {
		t.Errorf("err = %v, want ErrUnknownSource", err)
	}
}

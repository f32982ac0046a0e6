package index

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/artifact"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/report"
	"github.com/starford/scenecorpus/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "scenecorpus-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRecords() []models.Record {
	return []models.Record{
		{Description: "Draw a blue circle", Code: "class A(Scene):\n    pass", SourceID: "bench", Priority: 5, Split: models.SplitTrain, Metadata: map[string]any{"type": "basic"}},
		{Description: "Fade in a square", Code: "class B(Scene):\n    pass", SourceID: "docs", Priority: 2, Split: models.SplitUnassigned},
		{Description: "Rotate a triangle", Code: "class C(Scene):\n    pass", SourceID: "bench", Priority: 5, Split: models.SplitTest},
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	for _, table := range []string{"records", "runs", "meta"} {
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestReplaceAndGetRecord(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceRecords(Rows(sampleRecords()), "abc123"); err != nil {
		t.Fatalf("ReplaceRecords: %v", err)
	}
	r, err := db.GetRecord(0)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if r.SourceID != "bench" || r.Priority != 5 || r.Split != models.SplitTrain {
		t.Errorf("record = %+v", r)
	}
	if r.Metadata["type"] != "basic" {
		t.Errorf("metadata = %v", r.Metadata)
	}
	cs, err := db.DatasetChecksum()
	if err != nil {
		t.Fatal(err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q", cs)
	}
}

func TestReplaceDropsOldRows(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceRecords(Rows(sampleRecords()), "1")
	if err := db.ReplaceRecords(Rows(sampleRecords()[:1]), "2"); err != nil {
		t.Fatal(err)
	}
	_, total, err := db.ListRecords(RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if _, err := db.GetRecord(2); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDatasetChecksum_Empty(t *testing.T) {
	db := testDB(t)
	cs, err := db.DatasetChecksum()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestListRecords_FilterAndPage(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceRecords(Rows(sampleRecords()), "1")

	rows, total, err := db.ListRecords(RecordFilter{Source: "bench", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(rows) != 1 || rows[0].ID != 0 {
		t.Errorf("page 1: total=%d rows=%+v", total, rows)
	}
	rows, _, _ = db.ListRecords(RecordFilter{Source: "bench", Limit: 1, Offset: 1})
	if len(rows) != 1 || rows[0].ID != 2 {
		t.Errorf("page 2: rows=%+v", rows)
	}
	rows, total, _ = db.ListRecords(RecordFilter{Split: "unassigned"})
	if total != 1 || rows[0].SourceID != "docs" {
		t.Errorf("split filter: total=%d rows=%+v", total, rows)
	}
}

func TestSourceCounts(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceRecords(Rows(sampleRecords()), "1")
	counts, err := db.SourceCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts["bench"] != 2 || counts["docs"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.ReplaceRecords(Rows(sampleRecords()), "1")

	results, err := db.Search("triangle", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != 2 {
		t.Errorf("search results = %+v, want 1 hit for row 2", results)
	}
}

func TestRuns(t *testing.T) {
	db := testDB(t)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	older := &report.Report{RunID: "r1", StartedAt: start, FinishedAt: start.Add(time.Minute), FinalCount: 3}
	newer := &report.Report{RunID: "r2", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(2 * time.Hour), Failed: []string{"community"}, FinalCount: 7}
	for _, r := range []*report.Report{older, newer} {
		if err := db.RecordRun(r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	latest, err := db.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if latest.RunID != "r2" || latest.FinalCount != 7 {
		t.Errorf("latest = %+v", latest)
	}

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "r2" {
		t.Fatalf("runs = %+v", runs)
	}
	if len(runs[0].Failed) != 1 || runs[0].Failed[0] != "community" {
		t.Errorf("failed = %v", runs[0].Failed)
	}

	// Re-recording replaces.
	newer.FinalCount = 8
	_ = db.RecordRun(newer)
	runs, _ = db.ListRuns(10)
	if len(runs) != 2 || runs[0].FinalCount != 8 {
		t.Errorf("after re-record: %+v", runs)
	}
}

func TestLatestRun_Empty(t *testing.T) {
	db := testDB(t)
	if _, err := db.LatestRun(); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSync(t *testing.T) {
	db := testDB(t)
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := artifact.NewStore(fs)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Nothing assembled yet.
	if err := Sync(db, store, logger); err != nil {
		t.Fatalf("Sync empty: %v", err)
	}

	if err := store.WriteFinal(sampleRecords()); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := store.WriteReport(&report.Report{RunID: "run-1", StartedAt: now, FinishedAt: now, FinalCount: 3}, false); err != nil {
		t.Fatal(err)
	}
	if err := Sync(db, store, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	_, total, _ := db.ListRecords(RecordFilter{})
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	latest, err := db.LatestRun()
	if err != nil || latest.RunID != "run-1" {
		t.Errorf("latest = %+v, err = %v", latest, err)
	}

	first, _ := db.DatasetChecksum()
	if err := store.WriteFinal(sampleRecords()[1:]); err != nil {
		t.Fatal(err)
	}
	_ = Sync(db, store, logger)
	second, _ := db.DatasetChecksum()
	if first == second {
		t.Error("checksum should change with the dataset")
	}
	_, total, _ = db.ListRecords(RecordFilter{})
	if total != 2 {
		t.Errorf("total after resync = %d, want 2", total)
	}
}

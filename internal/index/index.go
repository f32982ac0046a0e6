package index

import "github.com/starford/scenecorpus/internal/report"

// Catalog defines the query surface over the assembled dataset.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type Catalog interface {
	ReplaceRecords(rows []RecordRow, datasetChecksum string) error
	DatasetChecksum() (string, error)
	GetRecord(id int) (*RecordRow, error)
	ListRecords(f RecordFilter) ([]RecordRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	SourceCounts() (map[string]int, error)
	RecordRun(r *report.Report) error
	LatestRun() (*report.Report, error)
	ListRuns(limit int) ([]RunRow, error)
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)

// Package artifact reads and writes the persisted record tables.
//
// Layout under the output root:
//
//	intermediate/<source>.jsonl           admitted, validated, within-source deduplicated records
//	intermediate/<source>.manifest.json   counts and checksum of the table above
//	intermediate/<source>.rejected.jsonl  rejected records with reasons
//	final/dataset.jsonl                   cross-source deduplicated records
//	final/dataset.parquet                 optional Parquet copy
//	final/chat.jsonl                      optional chat-format export
//	report.json, report.xlsx              run report
package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/checksum"
	"github.com/starford/scenecorpus/internal/dedup"
	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/report"
	"github.com/starford/scenecorpus/internal/storage"
)

// Paths relative to the output root.
const (
	IntermediateDir = "intermediate"
	DatasetPath     = "final/dataset.jsonl"
	ParquetPath     = "final/dataset.parquet"
	ChatPath        = "final/chat.jsonl"
	ReportPath      = "report.json"
	ReportXLSXPath  = "report.xlsx"
)

// IntermediatePath returns the table path for a source.
func IntermediatePath(sourceID string) string {
	return IntermediateDir + "/" + sourceID + ".jsonl"
}

// ManifestPath returns the manifest path for a source.
func ManifestPath(sourceID string) string {
	return IntermediateDir + "/" + sourceID + ".manifest.json"
}

// RejectedPath returns the rejected-records path for a source.
func RejectedPath(sourceID string) string {
	return IntermediateDir + "/" + sourceID + ".rejected.jsonl"
}

// Manifest describes one intermediate table.
type Manifest struct {
	SourceID  string             `json:"source_id"`
	Kind      string             `json:"kind"`
	Priority  int                `json:"priority"`
	RunID     string             `json:"run_id"`
	WrittenAt time.Time          `json:"written_at"`
	Records   int                `json:"records"`
	Checksum  string             `json:"checksum"`
	Stats     report.SourceStats `json:"stats"`
	// Discards are the within-source duplicate removals of the run that
	// wrote the table.
	Discards []dedup.Discard `json:"discards"`
}

// Rejection is one rejected record as persisted.
type Rejection struct {
	Ordinal     int            `json:"ordinal"`
	Description string         `json:"description"`
	Code        string         `json:"code"`
	Reason      string         `json:"reason"`
	Detail      string         `json:"detail,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

// Store persists artifacts through a storage provider.
type Store struct {
	fs storage.Provider
}

// NewStore creates a store over fs.
func NewStore(fs storage.Provider) *Store {
	return &Store{fs: fs}
}

// Provider returns the underlying storage.
func (s *Store) Provider() storage.Provider { return s.fs }

// WriteIntermediate replaces the intermediate artifacts of one source. The
// manifest is written last, so a table without a manifest is never loaded.
func (s *Store) WriteIntermediate(m Manifest, recs []models.Record, rejected []Rejection) error {
	if err := s.fs.Delete(ManifestPath(m.SourceID)); err != nil {
		return err
	}

	data, err := encodeRecords(recs)
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", m.SourceID, err)
	}
	if err := s.fs.Write(IntermediatePath(m.SourceID), data); err != nil {
		return err
	}

	err = s.fs.WriteFunc(RejectedPath(m.SourceID), func(w io.Writer) error {
		return writeLines(w, rejected)
	})
	if err != nil {
		return err
	}

	m.Records = len(recs)
	m.Checksum = checksum.Sum(data)
	mdata, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode manifest %s: %w", m.SourceID, err)
	}
	return s.fs.Write(ManifestPath(m.SourceID), mdata)
}

// Manifest returns the manifest of a source's intermediate table.
func (s *Store) Manifest(sourceID string) (*Manifest, error) {
	data, err := s.fs.Read(ManifestPath(sourceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact: manifest %s: %w", sourceID, apperr.ErrNotFound)
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("artifact: decode manifest %s: %w", sourceID, err)
	}
	return &m, nil
}

// LoadIntermediate reads a source's table after verifying it against its
// manifest. Records are restamped with priority and get ordinals from row order.
func (s *Store) LoadIntermediate(sourceID string, priority int) ([]models.Record, *Manifest, error) {
	m, err := s.Manifest(sourceID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.fs.Read(IntermediatePath(sourceID))
	if err != nil {
		return nil, nil, err
	}
	if sum := checksum.Sum(data); sum != m.Checksum {
		return nil, nil, fmt.Errorf("artifact: %s: checksum mismatch", sourceID)
	}
	recs, err := decodeRecords(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: decode %s: %w", sourceID, err)
	}
	for i := range recs {
		recs[i] = recs[i].WithPriority(priority)
		recs[i].SourceID = sourceID
		recs[i].Ordinal = i
	}
	return recs, m, nil
}

// WriteFinal replaces the final table.
func (s *Store) WriteFinal(recs []models.Record) error {
	return s.fs.WriteFunc(DatasetPath, func(w io.Writer) error {
		return writeLines(w, withMetadata(recs))
	})
}

// ReadFinal reads the final table. Ordinals are row positions.
func (s *Store) ReadFinal() ([]models.Record, error) {
	rc, err := s.fs.Open(DatasetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact: final dataset: %w", apperr.ErrNotFound)
		}
		return nil, err
	}
	defer rc.Close()
	recs, err := decodeRecords(rc)
	if err != nil {
		return nil, fmt.Errorf("artifact: decode final: %w", err)
	}
	for i := range recs {
		recs[i].Ordinal = i
	}
	return recs, nil
}

// WriteReport writes report.json and, when xlsx is set, report.xlsx.
func (s *Store) WriteReport(r *report.Report, xlsx bool) error {
	if err := s.fs.WriteFunc(ReportPath, r.WriteJSON); err != nil {
		return err
	}
	if xlsx {
		return s.fs.WriteFunc(ReportXLSXPath, r.WriteXLSX)
	}
	return nil
}

// ReadReport reads the last written report.
func (s *Store) ReadReport() (*report.Report, error) {
	rc, err := s.fs.Open(ReportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact: report: %w", apperr.ErrNotFound)
		}
		return nil, err
	}
	defer rc.Close()
	return report.ReadJSON(rc)
}

func encodeRecords(recs []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeLines(&buf, withMetadata(recs)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeLines[T any](w io.Writer, rows []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func decodeRecords(r io.Reader) ([]models.Record, error) {
	var out []models.Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec models.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// withMetadata returns recs with nil metadata replaced by empty maps, so every
// row carries the full column set.
func withMetadata(recs []models.Record) []models.Record {
	out := make([]models.Record, len(recs))
	for i, r := range recs {
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		out[i] = r
	}
	return out
}

package index

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/artifact"
	"github.com/starford/scenecorpus/internal/checksum"
)

// Sync brings the catalog up to date with the artifacts on disk:
//   - the final dataset is reloaded when its checksum changed
//   - the last report is recorded as a run
//
// Missing artifacts are not an error; nothing has been assembled yet.
func Sync(db Catalog, store *artifact.Store, logger *slog.Logger) error {
	data, err := store.Provider().Read(artifact.DatasetPath)
	switch {
	case err == nil:
		cs := checksum.Sum(data)
		stored, err := db.DatasetChecksum()
		if err != nil {
			return err
		}
		if stored != cs {
			recs, err := store.ReadFinal()
			if err != nil {
				return fmt.Errorf("index: sync: %w", err)
			}
			if err := db.ReplaceRecords(Rows(recs), cs); err != nil {
				return err
			}
			logger.Info("sync: dataset indexed", slog.Int("records", len(recs)))
		} else {
			logger.Debug("sync: dataset unchanged")
		}
	case store.Provider().Exists(artifact.DatasetPath):
		return fmt.Errorf("index: sync: %w", err)
	default:
		logger.Debug("sync: no dataset yet")
	}

	rep, err := store.ReadReport()
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		logger.Warn("sync: read report failed", slog.String("error", err.Error()))
		return nil
	}
	return db.RecordRun(rep)
}

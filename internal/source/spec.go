package source

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Source kinds.
const (
	KindBench = "bench"
	KindJSON  = "jsondataset"
	KindDocs  = "docs"
	KindNotes = "notes"
)

// Spec is the configuration of one source.
type Spec struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Priority int    `yaml:"priority"`
	Disabled bool   `yaml:"disabled"`

	// Path is the Parquet file (bench), JSON file (jsondataset) or
	// directory (notes).
	Path string `yaml:"path"`

	// Documentation pages, fetched relative to BaseURL.
	BaseURL       string        `yaml:"base_url"`
	Pages         []string      `yaml:"pages"`
	CacheDir      string        `yaml:"cache_dir"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Validate validates the source configuration.
func (s *Spec) Validate() error {
	if err := validation.ValidateStruct(s,
		validation.Field(&s.ID, validation.Required),
		validation.Field(&s.Kind, validation.Required, validation.In(KindBench, KindJSON, KindDocs, KindNotes)),
		validation.Field(&s.RatePerSecond, validation.Min(0.0)),
	); err != nil {
		return fmt.Errorf("source %s: %w", s.ID, err)
	}
	switch s.Kind {
	case KindDocs:
		return validation.ValidateStruct(s,
			validation.Field(&s.BaseURL, validation.Required),
			validation.Field(&s.Pages, validation.Required),
		)
	default:
		return validation.ValidateStruct(s,
			validation.Field(&s.Path, validation.Required),
		)
	}
}

// Build constructs the source described by spec.
func Build(spec Spec, logger *slog.Logger) (Source, error) {
	logger = logger.With(slog.String("source", spec.ID))
	var ex Extractor
	switch spec.Kind {
	case KindBench:
		ex = NewBench(spec.Path, logger)
	case KindJSON:
		ex = NewJSONDataset(spec.Path, logger)
	case KindNotes:
		ex = NewNotes(spec.Path, logger)
	case KindDocs:
		docs, err := NewDocs(DocsOptions{
			BaseURL:       spec.BaseURL,
			Pages:         spec.Pages,
			CacheDir:      spec.CacheDir,
			RatePerSecond: spec.RatePerSecond,
			Timeout:       spec.Timeout,
		}, logger)
		if err != nil {
			return Source{}, err
		}
		ex = docs
	default:
		return Source{}, fmt.Errorf("source %s: unknown kind %q", spec.ID, spec.Kind)
	}
	return Source{ID: spec.ID, Kind: spec.Kind, Priority: spec.Priority, Extractor: ex}, nil
}

// Load builds every enabled spec, registers them in configuration order, and
// freezes the registry.
func Load(specs []Spec, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, spec := range specs {
		if spec.Disabled {
			continue
		}
		src, err := Build(spec, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(src); err != nil {
			return nil, err
		}
	}
	reg.Freeze()
	return reg, nil
}

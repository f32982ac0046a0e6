package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/scenecorpus/internal/artifact"
	"github.com/starford/scenecorpus/internal/source"
	"github.com/starford/scenecorpus/internal/validate"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Pipeline PipelineConfig    `yaml:"pipeline"`
	Sandbox  SandboxConfig     `yaml:"sandbox"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
	Sources  []source.Spec     `yaml:"sources"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.validateSources()
}

func (c *Config) validateSources() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources: at least one source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("sources: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// PipelineConfig controls validation, assembly and exports.
type PipelineConfig struct {
	// OutputDir is the root of intermediate tables, the final dataset and reports.
	OutputDir   string `yaml:"output_dir"`
	Parallelism int    `yaml:"parallelism"`

	MinCodeChars int      `yaml:"min_code_chars"`
	SceneBases   []string `yaml:"scene_bases"`
	Aliases      []string `yaml:"aliases"`

	Strict           bool `yaml:"strict"`
	MinLinesPerScene int  `yaml:"min_lines_per_scene"`

	ExportParquet bool   `yaml:"export_parquet"`
	ExportChat    bool   `yaml:"export_chat"`
	ReportXLSX    bool   `yaml:"report_xlsx"`
	SystemPrompt  string `yaml:"system_prompt"`

	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OutputDir, validation.Required),
		validation.Field(&c.Parallelism, validation.Required, validation.Min(1)),
		validation.Field(&c.MinCodeChars, validation.Min(0)),
		validation.Field(&c.MinLinesPerScene, validation.Min(0)),
		validation.Field(&c.WatchDebounce, validation.Min(time.Duration(0))),
	)
}

// ValidateOptions returns the validator options described by c and sandbox.
func (c *PipelineConfig) ValidateOptions(sandbox SandboxConfig) validate.Options {
	opts := validate.Options{
		MinCodeChars:     c.MinCodeChars,
		SceneBases:       c.SceneBases,
		Aliases:          c.Aliases,
		Strict:           c.Strict,
		MinLinesPerScene: c.MinLinesPerScene,
	}
	if sandbox.Enabled {
		opts.Executor = validate.NewManimExecutor(sandbox.Command, sandbox.Timeout)
	}
	return opts
}

// SandboxConfig controls optional render validation.
type SandboxConfig struct {
	Enabled bool          `yaml:"enabled"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the sandbox configuration.
func (c *SandboxConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Command, validation.Required),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
	)
}

// SQLiteConfig holds SQLite catalog configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
// Sources have no default and must come from the config file.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Pipeline: PipelineConfig{
			OutputDir:        "./out",
			Parallelism:      4,
			MinCodeChars:     50,
			SceneBases:       validate.DefaultSceneBases,
			MinLinesPerScene: 3,
			ExportChat:       true,
			ReportXLSX:       true,
			SystemPrompt:     artifact.DefaultSystemPrompt,
			WatchDebounce:    time.Second,
		},
		Sandbox: SandboxConfig{
			Command: "manim",
			Timeout: 60 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "./scenecorpus.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

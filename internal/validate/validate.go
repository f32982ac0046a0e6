// Package validate decides whether a record is a plausible training example.
package validate

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/normalize"
	"github.com/starford/scenecorpus/internal/pysource"
)

// Reason explains a rejection. Reasons are stable strings used as report keys.
type Reason string

// Rejection reasons.
const (
	ReasonEmptyDescription   Reason = "empty description"
	ReasonCodeTooShort       Reason = "code too short"
	ReasonGenerationArtifact Reason = "generation artifact"
	ReasonAmbiguousFence     Reason = "ambiguous fence"
	ReasonSyntaxError        Reason = "syntax error"
	ReasonNoStructuralMarker Reason = "no structural marker"
	ReasonTooFewLines        Reason = "too few lines per scene"
	ReasonRenderFailed       Reason = "render failed"
)

// DefaultSceneBases are the base classes recognised as scenes.
var DefaultSceneBases = []string{
	"Scene",
	"ThreeDScene",
	"MovingCameraScene",
	"ZoomedScene",
	"VectorScene",
	"LinearTransformationScene",
	"SpecialThreeDScene",
}

// animationCalls are self methods that produce observable output over time.
var animationCalls = map[string]bool{
	"play":                             true,
	"wait":                             true,
	"begin_ambient_camera_rotation":    true,
	"begin_3dillusion_camera_rotation": true,
	"move_camera":                      true,
	"stop_ambient_camera_rotation":     true,
	"stop_3dillusion_camera_rotation":  true,
}

// endOfText never appears in a legitimate sample.
const endOfText = "<|endoftext|>"

// sequenceMarkers are model sequence delimiters. They are also Pango
// strikethrough tags, so inside a string literal they are MarkupText content.
var sequenceMarkers = []string{"<s>", "</s>"}

// Options configures a Validator.
type Options struct {
	MinCodeChars int
	SceneBases   []string
	// Aliases are additional names accepted as scene bases.
	Aliases []string
	// Strict enables the per-scene line minimum and the still annotation.
	Strict           bool
	MinLinesPerScene int
	// Executor, when set, renders every otherwise valid record.
	Executor Executor
}

// Result is the verdict for one record. When Valid is false, Reason is set.
// A valid Record may carry annotations the input did not have.
type Result struct {
	Record models.Record
	Valid  bool
	Reason Reason
	Detail string
}

// Reject builds a rejection result.
func Reject(rec models.Record, reason Reason, detail string) Result {
	return Result{Record: rec, Reason: reason, Detail: detail}
}

// Validator runs the structural checks in increasing cost order.
type Validator struct {
	opts   Options
	bases  map[string]bool
	logger *slog.Logger
}

// New creates a Validator.
func New(opts Options, logger *slog.Logger) *Validator {
	if len(opts.SceneBases) == 0 {
		opts.SceneBases = DefaultSceneBases
	}
	bases := make(map[string]bool, len(opts.SceneBases)+len(opts.Aliases))
	for _, b := range opts.SceneBases {
		bases[b] = true
	}
	for _, a := range opts.Aliases {
		bases[a] = true
	}
	return &Validator{opts: opts, bases: bases, logger: logger}
}

// Validate checks rec and short-circuits on the first failure.
func (v *Validator) Validate(ctx context.Context, rec models.Record) Result {
	if strings.TrimSpace(rec.Description) == "" {
		return Reject(rec, ReasonEmptyDescription, "")
	}
	if len(strings.TrimSpace(rec.Code)) < v.opts.MinCodeChars {
		return Reject(rec, ReasonCodeTooShort, "")
	}
	if tok, ok := edgeArtifact(rec); ok {
		return Reject(rec, ReasonGenerationArtifact, tok)
	}
	if normalize.IsFenced(rec.Code) {
		return Reject(rec, ReasonAmbiguousFence, "")
	}

	mod, err := pysource.Inspect(ctx, rec.Code)
	if err != nil {
		return Reject(rec, ReasonSyntaxError, err.Error())
	}
	if tok, ok := strayMarker(rec.Code, mod); ok {
		return Reject(rec, ReasonGenerationArtifact, tok)
	}
	if mod.SyntaxError {
		return Reject(rec, ReasonSyntaxError, lineDetail(mod.ErrorLine))
	}

	scenes := v.scenes(mod)
	if len(scenes) == 0 {
		return Reject(rec, ReasonNoStructuralMarker, "")
	}

	if v.opts.Strict {
		lines := normalize.LineCount(normalize.CodeKey(rec.Code))
		if v.opts.MinLinesPerScene > 0 && lines/len(scenes) < v.opts.MinLinesPerScene {
			return Reject(rec, ReasonTooFewLines, "")
		}
		if !animated(scenes) {
			rec = rec.WithMetadata(models.MetaStill, true)
		}
	}

	if v.opts.Executor != nil {
		res := v.opts.Executor.TryExecute(ctx, rec.Code)
		if !res.OK {
			v.logger.Debug("render failed",
				slog.String("record", rec.Ref()),
				slog.String("reason", res.Reason))
			return Reject(rec, ReasonRenderFailed, res.Reason)
		}
	}

	return Result{Record: rec, Valid: true}
}

// edgeArtifact finds end-of-text anywhere, or a sequence marker that leads or
// trails the code or the description.
func edgeArtifact(rec models.Record) (string, bool) {
	for _, text := range []string{rec.Code, rec.Description} {
		if strings.Contains(text, endOfText) {
			return endOfText, true
		}
		trimmed := strings.TrimSpace(text)
		for _, tok := range sequenceMarkers {
			if strings.HasPrefix(trimmed, tok) || strings.HasSuffix(trimmed, tok) {
				return tok, true
			}
		}
	}
	return "", false
}

// strayMarker finds a sequence marker in code outside string literals and
// comments.
func strayMarker(code string, mod *pysource.Module) (string, bool) {
	for _, tok := range sequenceMarkers {
		for off := 0; ; {
			i := strings.Index(code[off:], tok)
			if i < 0 {
				break
			}
			if !mod.InLiteral(off + i) {
				return tok, true
			}
			off += i + len(tok)
		}
	}
	return "", false
}

// scenes returns the classes that inherit from a scene base, directly or
// through other classes defined in the same module.
func (v *Validator) scenes(mod *pysource.Module) []pysource.Class {
	local := make(map[string]pysource.Class, len(mod.Classes))
	for _, c := range mod.Classes {
		local[c.Name] = c
	}
	memo := map[string]bool{}
	var isScene func(name string, visiting map[string]bool) bool
	isScene = func(name string, visiting map[string]bool) bool {
		if r, ok := memo[name]; ok {
			return r
		}
		c, ok := local[name]
		if !ok || visiting[name] {
			return false
		}
		visiting[name] = true
		r := false
		for _, b := range c.Bases {
			if v.bases[b] || isScene(b, visiting) {
				r = true
				break
			}
		}
		memo[name] = r
		return r
	}

	var out []pysource.Class
	for _, c := range mod.Classes {
		if isScene(c.Name, map[string]bool{}) {
			out = append(out, c)
		}
	}
	return out
}

func animated(scenes []pysource.Class) bool {
	for _, s := range scenes {
		for _, call := range s.SelfCalls {
			if animationCalls[call] {
				return true
			}
		}
	}
	return false
}

func lineDetail(line int) string {
	if line == 0 {
		return ""
	}
	return "line " + strconv.Itoa(line)
}

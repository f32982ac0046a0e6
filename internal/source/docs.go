package source

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/starford/scenecorpus/internal/models"
	"github.com/starford/scenecorpus/internal/storage"
)

var sceneNameRe = regexp.MustCompile(`class\s+(\w+)\s*\([^)]*Scene[^)]*\)`)

var animationMarkers = []string{"self.play(", "self.wait(", ".animate.", ".play(", ".wait("}

// DocsOptions configures a Docs extractor.
type DocsOptions struct {
	BaseURL string
	Pages   []string
	// CacheDir holds fetched pages. Cached pages are never refetched.
	CacheDir      string
	RatePerSecond float64
	Timeout       time.Duration
	Client        *http.Client
}

// Docs scrapes example blocks from documentation pages.
type Docs struct {
	opts    DocsOptions
	cache   storage.Provider
	limiter *rate.Limiter
	client  *http.Client
	logger  *slog.Logger
}

// NewDocs creates a documentation extractor.
func NewDocs(opts DocsOptions, logger *slog.Logger) (*Docs, error) {
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	d := &Docs{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		client:  client,
		logger:  logger,
	}
	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("docs: create cache dir: %w", err)
		}
		cache, err := storage.NewFS(opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("docs: init cache: %w", err)
		}
		d.cache = cache
	}
	return d, nil
}

// Extract fetches each page in order and yields its example blocks. A page
// that cannot be fetched is skipped; the source is unavailable only when no
// page could be fetched.
func (d *Docs) Extract(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		var fetched int
		var lastErr error
		for _, page := range d.opts.Pages {
			html, err := d.page(ctx, page)
			if err != nil {
				if ctx.Err() != nil {
					yield(models.RawRecord{}, ctx.Err())
					return
				}
				d.logger.Warn("skip page", slog.String("page", page), slog.String("error", err.Error()))
				lastErr = err
				continue
			}
			fetched++

			examples, err := ParseDocsPage(html)
			if err != nil {
				d.logger.Warn("skip page", slog.String("page", page), slog.String("error", err.Error()))
				continue
			}
			d.logger.Debug("page parsed", slog.String("page", page), slog.Int("examples", len(examples)))
			for _, ex := range examples {
				ex.Metadata[models.MetaSourcePage] = page
				ex.Metadata[models.MetaURL] = d.opts.BaseURL + page
				if !yield(ex, nil) {
					return
				}
			}
		}
		if fetched == 0 && len(d.opts.Pages) > 0 {
			yield(models.RawRecord{}, unavailable(KindDocs, lastErr))
		}
	}
}

func (d *Docs) page(ctx context.Context, page string) (string, error) {
	key := strings.ReplaceAll(page, "/", "_")
	if d.cache != nil && d.cache.Exists(key) {
		data, err := d.cache.Read(key)
		if err == nil {
			return string(data), nil
		}
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}
	url := d.opts.BaseURL + page
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if d.cache != nil {
		if err := d.cache.Write(key, data); err != nil {
			d.logger.Warn("cache write failed", slog.String("page", page), slog.String("error", err.Error()))
		}
	}
	return string(data), nil
}

// ParseDocsPage extracts example code blocks from a documentation page.
func ParseDocsPage(html string) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var out []models.RawRecord
	doc.Find("div.highlight").Each(func(_ int, block *goquery.Selection) {
		pre := block.Find("pre").First()
		if pre.Length() == 0 {
			return
		}
		code := strings.TrimSpace(pre.Text())
		if !strings.Contains(code, "class") || !strings.Contains(code, "Scene") {
			return
		}

		scene := "UnknownScene"
		if m := sceneNameRe.FindStringSubmatch(code); m != nil {
			scene = m[1]
		}
		desc := describe(block)
		needs := desc == ""
		if needs {
			desc = models.PlaceholderDescription + " - Example demonstrating " + scene
		}

		md := map[string]any{
			models.MetaSceneName:        scene,
			models.MetaHasAnimation:     containsAny(code, animationMarkers),
			models.MetaNeedsDescription: needs,
		}
		if section := sectionTitle(block); section != "" {
			md["section"] = section
		}
		out = append(out, models.RawRecord{
			Description: desc,
			Code:        code,
			Split:       models.SplitUnassigned,
			Metadata:    md,
		})
	})
	return out, nil
}

// describe looks for prose right before the block, then for the docstring of
// the enclosing API entry.
func describe(block *goquery.Selection) string {
	container := block
	if parent := block.Parent(); parent.Is("div[class^='highlight-']") {
		container = parent
	}
	if prev := container.Prev(); prev.Is("p, h1, h2, h3, h4") {
		if t := clean(prev.Text()); t != "" {
			return t
		}
	}

	entry := block.Closest("dl.class, dl.method, dl.function")
	if entry.Length() == 0 {
		return ""
	}
	id, _ := entry.Find("dt.sig").First().Attr("id")
	name := id[strings.LastIndex(id, ".")+1:]
	summary := clean(entry.Find("dd p").First().Text())
	if name == "" || summary == "" {
		return ""
	}
	return name + ": " + summary
}

func sectionTitle(block *goquery.Selection) string {
	section := block.Closest("section")
	if section.Length() == 0 {
		return ""
	}
	return clean(section.ChildrenFiltered("h1, h2, h3, h4").First().Text())
}

func clean(s string) string {
	s = strings.TrimSuffix(strings.TrimSpace(s), "¶")
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

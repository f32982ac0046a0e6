package source

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/models"
)

const docsPage = `<html><body>
<section id="basic">
<h2>Basic Concepts¶</h2>
<p>Display a large circle with two tangent lines.</p>
<div class="highlight-python notranslate"><div class="highlight"><pre><span class="k">class</span> Tangents(Scene):
    def construct(self):
        self.play(Create(Circle()))
</pre></div></div>
<div class="admonition"></div>
<div class="highlight-python notranslate"><div class="highlight"><pre>class Still(Scene):
    def construct(self):
        self.add(Dot())
</pre></div></div>
<div class="highlight-python notranslate"><div class="highlight"><pre>import numpy as np</pre></div></div>
</section>
<dl class="class"><dt class="sig" id="manim.mobject.geometry.arc.Dot"></dt>
<dd><p>A circle with a very small radius.</p>
<div class="admonition"></div>
<div class="highlight-python notranslate"><div class="highlight"><pre>class DotExample(Scene):
    def construct(self):
        self.add(Dot())
</pre></div></div></dd></dl>
</body></html>`

func TestParseDocsPage(t *testing.T) {
	got, err := ParseDocsPage(docsPage)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("examples = %d, want 3", len(got))
	}

	if got[0].Description != "Display a large circle with two tangent lines." {
		t.Errorf("description 0 = %q", got[0].Description)
	}
	if got[0].Metadata[models.MetaSceneName] != "Tangents" || got[0].Metadata[models.MetaHasAnimation] != true {
		t.Errorf("metadata 0 = %v", got[0].Metadata)
	}
	if got[0].Metadata["section"] != "Basic Concepts" {
		t.Errorf("section = %v", got[0].Metadata["section"])
	}

	if !models.IsPlaceholder(got[1].Description) || got[1].Metadata[models.MetaNeedsDescription] != true {
		t.Errorf("record 1 = %+v", got[1])
	}
	if got[1].Description != models.PlaceholderDescription+" - Example demonstrating Still" {
		t.Errorf("placeholder = %q", got[1].Description)
	}

	if got[2].Description != "Dot: A circle with a very small radius." {
		t.Errorf("description 2 = %q", got[2].Description)
	}
}

func TestDocsExtractCachesPages(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.html" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, docsPage)
	}))
	defer srv.Close()

	d, err := NewDocs(DocsOptions{
		BaseURL:       srv.URL,
		Pages:         []string{"examples.html", "missing.html"},
		CacheDir:      t.TempDir(),
		RatePerSecond: 1000,
	}, discard())
	if err != nil {
		t.Fatal(err)
	}

	first, err := collect(t, d)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("examples = %d", len(first))
	}
	if first[0].Metadata[models.MetaURL] != srv.URL+"/examples.html" || first[0].Metadata[models.MetaSourcePage] != "examples.html" {
		t.Errorf("metadata = %v", first[0].Metadata)
	}

	before := hits.Load()
	if _, err := collect(t, d); err != nil {
		t.Fatal(err)
	}
	// Only the missing page is requested again.
	if hits.Load() != before+1 {
		t.Errorf("hits = %d, want %d", hits.Load(), before+1)
	}
}

func TestDocsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d, err := NewDocs(DocsOptions{BaseURL: srv.URL, Pages: []string{"a.html"}, RatePerSecond: 1000}, discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := collect(t, d); !errors.Is(err, apperr.ErrSourceUnavailable) {
		t.Errorf("err = %v", err)
	}
}

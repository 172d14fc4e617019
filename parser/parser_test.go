package parser

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestParser(t *testing.T, opts Options) *Parser {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	return p
}

const listingHTML = `<!DOCTYPE html>
<html><body>
<section>
  <div data-test="product-item">
    <h3>Acme Notes</h3>
    <p>Take notes   faster</p>
    <a href="/posts/acme-notes">view</a>
    <span class="vote-count">1.2K</span>
    <span class="comment-count">34 comments</span>
    <span class="maker-name">Jane</span>
    <a class="topic-link">Productivity</a>
    <time datetime="2024-04-30T08:00:00Z">yesterday</time>
    <img src="https://cdn.test/acme.png">
  </div>
  <div data-test="product-item">
    <h2>Beta Board</h2>
    <a href="https://beta.test/">site</a>
    <span class="vote-count">n/a</span>
  </div>
  <div data-test="product-item">
    <span class="vote-count">12</span>
  </div>
</section>
</body></html>`

func TestParsePrimarySelector(t *testing.T) {
	p := newTestParser(t, Options{TaglineFallback: "No description available"})

	products, err := p.Parse([]byte(listingHTML), "https://site.test/topics/x")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}

	first := products[0]
	if first.Name != "Acme Notes" {
		t.Fatalf("name = %q", first.Name)
	}
	if first.Tagline != "Take notes faster" {
		t.Fatalf("tagline = %q", first.Tagline)
	}
	if first.URL != "https://site.test/posts/acme-notes" {
		t.Fatalf("url = %q", first.URL)
	}
	if first.Votes != 1200 || first.Comments != 34 {
		t.Fatalf("votes/comments = %d/%d", first.Votes, first.Comments)
	}
	if first.Maker != "Jane" || first.Category != "Productivity" {
		t.Fatalf("maker/category = %q/%q", first.Maker, first.Category)
	}
	if first.LaunchDate == nil || !first.LaunchDate.Equal(time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("launch date = %v", first.LaunchDate)
	}
	if first.ImageURL != "https://cdn.test/acme.png" {
		t.Fatalf("image = %q", first.ImageURL)
	}
	if first.SourceURL != "https://site.test/topics/x" {
		t.Fatalf("source url = %q", first.SourceURL)
	}
	if !first.ScrapedAt.Equal(fixedNow) {
		t.Fatalf("scraped at = %v", first.ScrapedAt)
	}

	second := products[1]
	if second.Tagline != "No description available" {
		t.Fatalf("fallback tagline = %q", second.Tagline)
	}
	if second.Votes != 0 {
		t.Fatalf("unparsable votes should default to 0, got %d", second.Votes)
	}
	if second.LaunchDate != nil {
		t.Fatalf("expected no launch date")
	}
}

func TestParseFallbackSelectors(t *testing.T) {
	tests := []struct {
		name string
		html string
		want []string
	}{
		{
			name: "class contains product",
			html: `<html><body><div class="ProductCard"><h3>One</h3></div><div class="productCard"><h3>Two</h3></div></body></html>`,
			want: []string{"One", "Two"},
		},
		{
			name: "article",
			html: `<html><body><article><h2>Alpha</h2></article><article><h2>Beta</h2></article></body></html>`,
			want: []string{"Alpha", "Beta"},
		},
		{
			name: "generic card",
			html: `<html><body><div class="card"><a class="name" href="/a">Gamma</a></div></body></html>`,
			want: []string{"Gamma"},
		},
		{
			name: "wrapper around single card",
			html: `<html><body><div class="product-list"><div class="product"><h3>Inner</h3></div></div></body></html>`,
			want: []string{"Inner"},
		},
		{
			name: "wrapper around several cards",
			html: `<html><body><div class="product-list">
				<div class="product-card"><h3>Alpha</h3></div>
				<div class="product-card"><h3>Beta</h3></div>
				<div class="product-card"><h3>Gamma</h3></div>
			</div></body></html>`,
			want: []string{"Alpha", "Beta", "Gamma"},
		},
		{
			name: "card with nested detail block",
			html: `<html><body>
				<div class="product-card"><h3>Alpha</h3><div class="product-meta"><span class="vote">7</span></div></div>
				<div class="product-card"><h3>Beta</h3></div>
			</body></html>`,
			want: []string{"Alpha", "Beta"},
		},
	}

	p := newTestParser(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, err := p.Parse([]byte(tt.html), "https://site.test/")
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(products) != len(tt.want) {
				t.Fatalf("expected %d products, got %d", len(tt.want), len(products))
			}
			for i, name := range tt.want {
				if products[i].Name != name {
					t.Fatalf("product %d name = %q, want %q", i, products[i].Name, name)
				}
			}
		})
	}
}

func TestParseEmptyListing(t *testing.T) {
	p := newTestParser(t, Options{})
	products, err := p.Parse([]byte(`<html><body><h1>Nothing today</h1></body></html>`), "https://site.test/")
	if err != nil {
		t.Fatalf("empty listing should not error, got %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected no products, got %d", len(products))
	}
}

func TestParseMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "nil", raw: nil},
		{name: "whitespace", raw: []byte(" \n\t ")},
		{name: "json", raw: []byte(`{"products": []}`)},
		{name: "plain text", raw: []byte("Access denied")},
	}

	p := newTestParser(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.raw, "https://site.test/")
			if !errors.Is(err, ErrMalformedInput) {
				t.Fatalf("expected ErrMalformedInput, got %v", err)
			}
		})
	}
}

func TestParseAcceptsBOM(t *testing.T) {
	p := newTestParser(t, Options{})
	raw := append([]byte("\xef\xbb\xbf  "), []byte(`<article><h2>Bom</h2></article>`)...)
	products, err := p.Parse(raw, "https://site.test/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(products) != 1 || products[0].Name != "Bom" {
		t.Fatalf("unexpected products: %+v", products)
	}
}

func TestNewRejectsBadSelector(t *testing.T) {
	if _, err := New(Options{ContainerSelectors: []string{"div[["}}); err == nil {
		t.Fatalf("expected selector compile error")
	}
}

func TestCustomContainerSelectors(t *testing.T) {
	p := newTestParser(t, Options{ContainerSelectors: []string{"li.entry"}})
	products, err := p.Parse([]byte(`<ul><li class="entry"><h3>Only</h3></li></ul><article><h2>Ignored</h2></article>`), "https://site.test/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(products) != 1 || products[0].Name != "Only" {
		t.Fatalf("unexpected products: %+v", products)
	}
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"no digits", 0},
		{"42", 42},
		{"1,234 upvotes", 1234},
		{"1.2K", 1200},
		{"3k", 3000},
		{"2.5M", 2500000},
		{"12 mins ago", 12},
		{"▲ 987", 987},
		{"3000000000", 2147483647},
		{"99999999999999999K", 2147483647},
	}

	for _, tt := range tests {
		if got := ExtractNumber(tt.input); got != tt.want {
			t.Errorf("ExtractNumber(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParseKeepsContainerWithHugeCount(t *testing.T) {
	p := newTestParser(t, Options{})
	html := `<html><body><div data-test="product-item"><h3>Huge</h3><span class="vote">99999999999999999K</span></div></body></html>`
	products, err := p.Parse([]byte(html), "https://site.test/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(products) != 1 || products[0].Votes != 2147483647 {
		t.Fatalf("products = %+v", products)
	}
}

func TestResolveURL(t *testing.T) {
	base, _ := url.Parse("https://site.test/topics/ai")
	tests := []struct {
		href string
		want string
	}{
		{"/posts/x", "https://site.test/posts/x"},
		{"https://other.test/a", "https://other.test/a"},
		{"#", ""},
		{"javascript:void(0)", ""},
		{"mailto:a@b.test", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ResolveURL(base, tt.href); got != tt.want {
			t.Errorf("ResolveURL(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	if d := ParseDate("2024-04-30"); d == nil || d.Day() != 30 {
		t.Fatalf("date only: %v", d)
	}
	if d := ParseDate("2024-04-30T10:11:12+02:00"); d == nil || d.Hour() != 8 {
		t.Fatalf("rfc3339 should convert to UTC: %v", d)
	}
	if d := ParseDate("last week"); d != nil {
		t.Fatalf("expected nil, got %v", d)
	}
}

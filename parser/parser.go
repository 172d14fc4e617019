// Package parser turns listing markup into products.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-products/models"
)

// ErrMalformedInput is returned when content cannot be read as markup.
var ErrMalformedInput = errors.New("malformed input")

// DefaultContainerSelectors are tried in order; the first with matches wins.
var DefaultContainerSelectors = []string{
	`[data-test="product-item"]`,
	`div[class*="product" i]`,
	`article`,
	`div[class*="card" i], div[class*="item" i], div[class*="post" i]`,
}

var fieldSelectors = struct {
	name, tagline, link, votes, comments, maker, category, launched, image []string
}{
	name:     []string{`h3`, `h2`, `a[class*="name" i]`, `[class*="title" i]`},
	tagline:  []string{`p`, `[class*="tagline" i]`, `[class*="description" i]`, `[class*="subtitle" i]`},
	link:     []string{`a[href]`},
	votes:    []string{`[class*="vote" i]`},
	comments: []string{`[class*="comment" i]`},
	maker:    []string{`[class*="maker" i]`},
	category: []string{`[class*="topic" i]`, `[class*="category" i]`},
	launched: []string{`time[datetime]`},
	image:    []string{`img[src]`},
}

// Options tune a Parser.
type Options struct {
	// ContainerSelectors overrides DefaultContainerSelectors when non-empty.
	ContainerSelectors []string
	// TaglineFallback is stored when a container has no tagline.
	TaglineFallback string
	// Now stamps ScrapedAt; defaults to time.Now.
	Now func() time.Time
}

type fieldMatchers struct {
	name, tagline, link, votes, comments, maker, category, launched, image []cascadia.Selector
}

// Parser extracts products from listing pages. It is safe for concurrent use.
type Parser struct {
	containers []cascadia.Selector
	fields     fieldMatchers
	fallback   string
	now        func() time.Time
}

// New compiles the configured selectors.
func New(opts Options) (*Parser, error) {
	containerSrc := opts.ContainerSelectors
	if len(containerSrc) == 0 {
		containerSrc = DefaultContainerSelectors
	}
	containers, err := compileAll(containerSrc)
	if err != nil {
		return nil, err
	}

	p := &Parser{
		containers: containers,
		fallback:   opts.TaglineFallback,
		now:        opts.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}

	fs := fieldSelectors
	targets := []struct {
		dst *[]cascadia.Selector
		src []string
	}{
		{&p.fields.name, fs.name},
		{&p.fields.tagline, fs.tagline},
		{&p.fields.link, fs.link},
		{&p.fields.votes, fs.votes},
		{&p.fields.comments, fs.comments},
		{&p.fields.maker, fs.maker},
		{&p.fields.category, fs.category},
		{&p.fields.launched, fs.launched},
		{&p.fields.image, fs.image},
	}
	for _, t := range targets {
		compiled, err := compileAll(t.src)
		if err != nil {
			return nil, err
		}
		*t.dst = compiled
	}
	return p, nil
}

func compileAll(selectors []string) ([]cascadia.Selector, error) {
	out := make([]cascadia.Selector, 0, len(selectors))
	for _, s := range selectors {
		sel, err := cascadia.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("compile selector %q: %w", s, err)
		}
		out = append(out, sel)
	}
	return out, nil
}

// Parse extracts the products listed in raw. Containers without a usable
// name are skipped. An empty listing is not an error.
func (p *Parser) Parse(raw []byte, sourceURL string) ([]models.Product, error) {
	doc, err := p.document(raw)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		base = nil
	}

	scrapedAt := p.now().UTC()
	containers := p.findContainers(doc)

	extracted := make([]models.Product, len(containers))
	valid := make([]bool, len(containers))
	index := make(map[*html.Node]int, len(containers))
	for i, c := range containers {
		index[c.Nodes[0]] = i
		extracted[i] = p.extract(c, base, sourceURL, scrapedAt)
		if err := extracted[i].Validate(); err != nil {
			slog.Debug("container skipped",
				slog.String("url", sourceURL),
				slog.String("outcome_kind", string(models.KindInvalidRecord)),
				slog.Any("error", err),
			)
			continue
		}
		valid[i] = true
	}

	// A wrapper matching the container selector reads its fields from the
	// first card inside it. That copy is dropped in favour of the card.
	echo := make([]bool, len(containers))
	for j, c := range containers {
		if !valid[j] {
			continue
		}
		for parent := c.Nodes[0].Parent; parent != nil; parent = parent.Parent {
			if i, ok := index[parent]; ok && valid[i] && extracted[i].Key() == extracted[j].Key() {
				echo[i] = true
			}
		}
	}

	products := make([]models.Product, 0, len(containers))
	for i := range containers {
		if valid[i] && !echo[i] {
			products = append(products, extracted[i])
		}
	}
	return products, nil
}

func (p *Parser) document(raw []byte) (*goquery.Document, error) {
	trimmed := bytes.TrimLeftFunc(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf")), unicode.IsSpace)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedInput)
	}
	if trimmed[0] != '<' {
		return nil, fmt.Errorf("%w: content is not markup", ErrMalformedInput)
	}

	root, err := html.Parse(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// findContainers returns every match of the first container selector that
// yields anything, nested matches included.
func (p *Parser) findContainers(doc *goquery.Document) []*goquery.Selection {
	for _, sel := range p.containers {
		matches := doc.FindMatcher(sel)
		if matches.Length() == 0 {
			continue
		}
		out := make([]*goquery.Selection, 0, matches.Length())
		matches.Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
		return out
	}
	return nil
}

func (p *Parser) extract(c *goquery.Selection, base *url.URL, sourceURL string, scrapedAt time.Time) models.Product {
	product := models.Product{
		Name:      CleanText(firstText(c, p.fields.name)),
		SourceURL: sourceURL,
		Tagline:   CleanText(firstText(c, p.fields.tagline)),
		Votes:     ExtractNumber(firstText(c, p.fields.votes)),
		Comments:  ExtractNumber(firstText(c, p.fields.comments)),
		Maker:     CleanText(firstText(c, p.fields.maker)),
		Category:  CleanText(firstText(c, p.fields.category)),
		ScrapedAt: scrapedAt,
	}
	if product.Tagline == "" {
		product.Tagline = p.fallback
	}
	if href, ok := firstAttr(c, p.fields.link, "href"); ok {
		product.URL = ResolveURL(base, href)
	}
	if src, ok := firstAttr(c, p.fields.image, "src"); ok {
		product.ImageURL = ResolveURL(base, src)
	}
	if dt, ok := firstAttr(c, p.fields.launched, "datetime"); ok {
		product.LaunchDate = ParseDate(dt)
	}
	return product
}

func first(c *goquery.Selection, matchers []cascadia.Selector) *goquery.Selection {
	for _, m := range matchers {
		if found := c.FindMatcher(m).First(); found.Length() > 0 {
			return found
		}
	}
	return nil
}

func firstText(c *goquery.Selection, matchers []cascadia.Selector) string {
	if s := first(c, matchers); s != nil {
		return s.Text()
	}
	return ""
}

func firstAttr(c *goquery.Selection, matchers []cascadia.Selector, attr string) (string, bool) {
	if s := first(c, matchers); s != nil {
		return s.Attr(attr)
	}
	return "", false
}

package scraper

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"scrapeq/internal/config"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Extractor pulls links and titles out of raw HTML with regular expressions.
type Extractor struct {
	index  *regexp.Regexp
	detail *regexp.Regexp
	next   *regexp.Regexp
	title  *regexp.Regexp
}

func NewExtractor(cfg config.ScraperConfig) (*Extractor, error) {
	if err := config.ValidatePatterns(cfg); err != nil {
		return nil, err
	}
	return &Extractor{
		index:  regexp.MustCompile(cfg.IndexPattern),
		detail: regexp.MustCompile(cfg.DetailPattern),
		next:   regexp.MustCompile(cfg.NextPattern),
		title:  regexp.MustCompile(cfg.TitlePattern),
	}, nil
}

// ListingLinks returns the listing pages linked from an index page.
func (e *Extractor) ListingLinks(pageURL string, body []byte) ([]string, error) {
	return links(e.index, pageURL, body)
}

// DetailLinks returns the detail pages linked from a listing page.
func (e *Extractor) DetailLinks(pageURL string, body []byte) ([]string, error) {
	return links(e.detail, pageURL, body)
}

// HasNext reports whether a listing page links to a following page.
func (e *Extractor) HasNext(body []byte) bool {
	return e.next.Match(body)
}

// Title returns the text of the first title match with tags stripped.
func (e *Extractor) Title(body []byte) (string, bool) {
	m := e.title.FindSubmatch(body)
	if m == nil {
		return "", false
	}
	text := tagPattern.ReplaceAllString(string(m[1]), " ")
	text = strings.Join(strings.Fields(html.UnescapeString(text)), " ")
	return text, text != ""
}

// links resolves every first-group match against pageURL, in page order, without duplicates.
func links(re *regexp.Regexp, pageURL string, body []byte) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}

	seen := make(map[string]bool)
	var out []string
	for _, m := range re.FindAllSubmatch(body, -1) {
		ref, err := url.Parse(html.UnescapeString(string(m[1])))
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		link := abs.String()
		if seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out, nil
}

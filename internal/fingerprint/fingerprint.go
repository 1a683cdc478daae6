// Package fingerprint implements the content-stability hash: a pure,
// deterministic function from raw HTML bytes to a (content_hash,
// clean_hash) pair, robust to incidental page noise (ads, scripts, inline
// styles) so that change detection yields meaningful events.
package fingerprint

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/hashutil"
)

// Fingerprinter holds the noise-stripping configuration that makes up the
// implicit "fingerprinter version": changing it silently invalidates
// comparisons against stored last_clean_hash values.
type Fingerprinter struct {
	stripTags    map[string]struct{}
	adSelectors  []adSelector
	extractAttrs []string
}

// DefaultStripTags is the default noise set removed before hashing.
var DefaultStripTags = []string{"script", "style", "iframe", "noscript", "meta", "link", "svg"}

// DefaultAdSelectors is the default ad-container selector set.
var DefaultAdSelectors = []string{".ad", ".ads", ".advertisement", ".sponsored", ".promo", "ad-"}

// DefaultExtractAttrs is the default retained-attribute set.
var DefaultExtractAttrs = []string{"href", "src", "alt", "title"}

// New builds a Fingerprinter from the hasher configuration section. Empty
// config falls back to these defaults.
func New(cfg *config.HasherConfig) *Fingerprinter {
	stripTags := DefaultStripTags
	adSelectors := DefaultAdSelectors
	extractAttrs := DefaultExtractAttrs
	if cfg != nil {
		if len(cfg.StripTags) > 0 {
			stripTags = cfg.StripTags
		}
		if len(cfg.AdSelectors) > 0 {
			adSelectors = cfg.AdSelectors
		}
		if len(cfg.ExtractAttrs) > 0 {
			extractAttrs = cfg.ExtractAttrs
		}
	}

	tagSet := make(map[string]struct{}, len(stripTags))
	for _, t := range stripTags {
		tagSet[strings.ToLower(t)] = struct{}{}
	}

	return &Fingerprinter{
		stripTags:    tagSet,
		adSelectors:  compileAdSelectors(adSelectors),
		extractAttrs: extractAttrs,
	}
}

// Result is the content-stability hash pair produced by Fingerprint.
type Result struct {
	ContentHash string
	CleanHash   string
}

// Fingerprint computes (content_hash, clean_hash) for raw HTML bytes. The
// only error path is input that is not valid UTF-8 — the HTML parser itself
// never fails on malformed markup, it just produces the most lenient tree it
// can.
func (f *Fingerprinter) Fingerprint(raw []byte) (Result, error) {
	if !utf8.Valid(raw) {
		return Result{}, fmt.Errorf("fingerprint: input is not valid UTF-8")
	}

	contentHash := hashutil.SHA1Hex(raw)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		// goquery/x-net's parser is lenient by construction; this branch is
		// defensive only (e.g. reader errors), never a malformed-markup error.
		return Result{}, fmt.Errorf("fingerprint: parse html: %w", err)
	}

	f.stripNoise(doc)

	stream := f.extractFeatures(doc)
	serialized := serializeFeatures(stream)

	return Result{
		ContentHash: contentHash,
		CleanHash:   hashutil.SHA1Hex([]byte(serialized)),
	}, nil
}

// CleanedDOM returns the cleaned DOM HTML used as the basis for the clean
// hash, for persisting as the snapshot's dom.html artifact.
func (f *Fingerprinter) CleanedDOM(raw []byte) ([]byte, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("fingerprint: input is not valid UTF-8")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("fingerprint: parse html: %w", err)
	}

	f.stripNoise(doc)

	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("fingerprint: serialize cleaned dom: %w", err)
	}
	return []byte(html), nil
}

// stripNoise removes, in place, every node whose tag is in the noise set and
// every node matched by an ad-container selector.
func (f *Fingerprinter) stripNoise(doc *goquery.Document) {
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		if _, noisy := f.stripTags[tag]; noisy {
			sel.Remove()
		}
	})

	for _, sel := range f.adSelectors {
		doc.Find("*").FilterFunction(sel.matches).Each(func(_ int, s *goquery.Selection) {
			s.Remove()
		})
	}
}

// feature is one (tag, sorted attrs, text) record in the ordered feature
// stream extracted from the cleaned DOM.
type feature struct {
	tag   string
	attrs []attrPair
	text  string
}

type attrPair struct {
	key, value string
}

func (f *Fingerprinter) extractFeatures(doc *goquery.Document) []feature {
	var out []feature
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		node := sel.Get(0)
		if node == nil {
			return
		}
		tag := goquery.NodeName(sel)

		var attrs []attrPair
		for _, want := range f.extractAttrs {
			if val, ok := sel.Attr(want); ok {
				attrs = append(attrs, attrPair{key: want, value: val})
			}
		}
		sort.Slice(attrs, func(i, j int) bool {
			if attrs[i].key != attrs[j].key {
				return attrs[i].key < attrs[j].key
			}
			return attrs[i].value < attrs[j].value
		})

		text := collapseWhitespace(directText(sel))

		out = append(out, feature{tag: tag, attrs: attrs, text: text})
	})
	return out
}

// directText returns the concatenated text of sel's direct text-node
// children only, not the full subtree, which would double-count text
// already emitted by descendant elements.
func directText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.TrimSpace(strings.Join(fields, " "))
}

// serializeFeatures produces a stable, unambiguous byte encoding of the
// feature stream: one record per line, tab-separated fields, attribute
// pairs as "k=v" sorted lexicographically.
func serializeFeatures(stream []feature) string {
	var b strings.Builder
	for _, feat := range stream {
		var attrParts []string
		for _, a := range feat.attrs {
			attrParts = append(attrParts, fmt.Sprintf("%s=%s", a.key, a.value))
		}
		b.WriteString(feat.tag)
		b.WriteByte('\t')
		b.WriteString(strings.Join(attrParts, ","))
		b.WriteByte('\t')
		b.WriteString(feat.text)
		b.WriteByte('\n')
	}
	return b.String()
}

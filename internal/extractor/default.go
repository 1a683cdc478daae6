package extractor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"

	"github.com/talemon/core/internal/model"
	"github.com/talemon/core/internal/objectstore"
)

// pageSummary is the structured record the default Extractor produces when
// no richer, deployment-specific extraction function is configured. Real
// deployments are expected to supply their own Extractor; this one exists
// so the loop has something to run against out of the box.
type pageSummary struct {
	Title     string `json:"title"`
	WordCount int    `json:"word_count"`
	LinkCount int    `json:"link_count"`
}

// DefaultExtractor parses the cleaned DOM artifact with goquery and
// marshals a minimal summary with json-iterator.
type DefaultExtractor struct{}

func NewDefaultExtractor() *DefaultExtractor {
	return &DefaultExtractor{}
}

func (DefaultExtractor) Extract(_ context.Context, _ model.PageSnapshot, artifacts objectstore.SnapshotArtifacts) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(artifacts.CleanedDOM)))
	if err != nil {
		return nil, err
	}

	summary := pageSummary{
		Title:     strings.TrimSpace(doc.Find("title").First().Text()),
		WordCount: len(strings.Fields(doc.Text())),
		LinkCount: doc.Find("a").Length(),
	}

	data, err := jsoniter.Marshal(summary)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Package extract fetches pages and pulls heading and paragraph text out of
// them in document order.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/metrics"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// Extractor implements pipeline.Extractor.
type Extractor struct {
	fetcher pipeline.Fetcher
	tags    map[string]pipeline.Tag
	logger  *zap.Logger
}

// New builds an Extractor keeping elements whose tag is in tags. An empty
// tag list selects pipeline.DefaultTags.
func New(fetcher pipeline.Fetcher, tags []pipeline.Tag, logger *zap.Logger) (*Extractor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if len(tags) == 0 {
		tags = pipeline.DefaultTags
	}
	set := make(map[string]pipeline.Tag, len(tags))
	for _, tag := range tags {
		if !tag.Valid() {
			return nil, fmt.Errorf("unsupported tag %q", tag)
		}
		set[string(tag)] = tag
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, tags: set, logger: logger}, nil
}

// Extract fetches every URL in order and concatenates their records. The
// first failure aborts the whole extraction with a *pipeline.FetchError.
func (e *Extractor) Extract(ctx context.Context, urls []string) ([]pipeline.PageRecord, error) {
	records := make([]pipeline.PageRecord, 0)
	for _, url := range urls {
		resp, err := e.fetcher.Fetch(ctx, url)
		if err != nil {
			metrics.ObservePage(url, "error", 0)
			return nil, &pipeline.FetchError{URL: url, Err: err}
		}
		page, err := e.Parse(resp.Body)
		if err != nil {
			metrics.ObservePage(url, "parse_error", 0)
			return nil, &pipeline.FetchError{URL: url, Err: err}
		}
		metrics.ObservePage(url, "ok", len(page))
		e.logger.Debug("page extracted",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.Int("records", len(page)),
			zap.Duration("duration", resp.Duration),
		)
		records = append(records, page...)
	}
	return records, nil
}

// Parse returns one record per matching element of an HTML document.
// Nested matches each yield their own record.
func (e *Extractor) Parse(body []byte) ([]pipeline.PageRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	records := make([]pipeline.PageRecord, 0)
	// "*" walks the tree in document order; filtering afterwards keeps
	// headings and paragraphs interleaved as they appear.
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		tag, ok := e.tags[goquery.NodeName(s)]
		if !ok {
			return
		}
		records = append(records, pipeline.PageRecord{Tag: tag, Text: s.Text()})
	})
	return records, nil
}

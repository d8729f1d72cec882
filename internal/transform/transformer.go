// Package transform tabulates page records and writes them as a CSV dataset.
package transform

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// DefaultOutputPath is the dataset location when none is configured.
const DefaultOutputPath = "processed_data.csv"

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Normalize replaces every line break with a single space and trims the
// result. A CRLF pair counts as one break.
func Normalize(text string) string {
	return strings.TrimSpace(lineBreaks.Replace(text))
}

// Config controls where the dataset is written and which tags it accepts.
type Config struct {
	OutputPath string
	Tags       []pipeline.Tag
}

// Transformer implements pipeline.Transformer on top of an afero filesystem.
type Transformer struct {
	fs     afero.Fs
	path   string
	tags   map[pipeline.Tag]struct{}
	logger *zap.Logger
}

// New returns a Transformer writing to cfg.OutputPath on fs.
func New(fs afero.Fs, cfg Config, logger *zap.Logger) *Transformer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = DefaultOutputPath
	}
	if len(cfg.Tags) == 0 {
		cfg.Tags = pipeline.DefaultTags
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tags := make(map[pipeline.Tag]struct{}, len(cfg.Tags))
	for _, tag := range cfg.Tags {
		tags[tag] = struct{}{}
	}
	return &Transformer{fs: fs, path: cfg.OutputPath, tags: tags, logger: logger}
}

// Path returns the configured dataset location.
func (t *Transformer) Path() string {
	return t.path
}

// Transform validates tags and normalizes text, returning a new slice.
func (t *Transformer) Transform(records []pipeline.PageRecord) ([]pipeline.PageRecord, error) {
	out := make([]pipeline.PageRecord, len(records))
	for i, rec := range records {
		if rec.Tag == "" {
			return nil, &pipeline.SerializationError{Row: i, Reason: "empty tag"}
		}
		if _, ok := t.tags[rec.Tag]; !ok {
			return nil, &pipeline.SerializationError{Row: i, Reason: fmt.Sprintf("unsupported tag %q", rec.Tag)}
		}
		out[i] = pipeline.PageRecord{Tag: rec.Tag, Text: Normalize(rec.Text)}
	}
	return out, nil
}

// Write transforms records and overwrites the dataset file with the result.
func (t *Transformer) Write(ctx context.Context, records []pipeline.PageRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rows, err := t.Transform(records)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, rows); err != nil {
		return "", err
	}

	if dir := filepath.Dir(t.path); dir != "." {
		if err := t.fs.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := afero.WriteFile(t.fs, t.path, buf.Bytes(), 0o644); err != nil {
		return "", &pipeline.SerializationError{Row: -1, Reason: "write " + t.path, Err: err}
	}
	t.logger.Info("dataset written",
		zap.String("path", t.path),
		zap.Int("records", len(rows)),
		zap.Int("bytes", buf.Len()),
	)
	return t.path, nil
}

// Encode writes the header and one row per record to w.
func Encode(w io.Writer, records []pipeline.PageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pipeline.Header); err != nil {
		return &pipeline.SerializationError{Row: -1, Reason: "header", Err: err}
	}
	for i, rec := range records {
		if err := cw.Write([]string{string(rec.Tag), rec.Text}); err != nil {
			return &pipeline.SerializationError{Row: i, Err: err}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return &pipeline.SerializationError{Row: -1, Reason: "flush", Err: err}
	}
	return nil
}

// ReadDataset parses a dataset produced by Encode.
func ReadDataset(r io.Reader) ([]pipeline.PageRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(pipeline.Header)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != pipeline.ColumnTag || header[1] != pipeline.ColumnText {
		return nil, fmt.Errorf("unexpected header %v", header)
	}
	records := make([]pipeline.PageRecord, 0)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(records), err)
		}
		tag, err := pipeline.ParseTag(row[0])
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(records), err)
		}
		records = append(records, pipeline.PageRecord{Tag: tag, Text: row[1]})
	}
	return records, nil
}

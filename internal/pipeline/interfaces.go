package pipeline

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a GET for a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Extractor turns an ordered URL list into ordered page records.
type Extractor interface {
	Extract(ctx context.Context, urls []string) ([]PageRecord, error)
}

// Transformer normalizes records and writes them to the dataset file,
// returning the path written.
type Transformer interface {
	Write(ctx context.Context, records []PageRecord) (string, error)
}

// Archiver moves a dataset file into versioned storage.
type Archiver interface {
	Archive(ctx context.Context, src string) (Artifact, error)
}

// VersionControl stages, commits and pushes paths in a data repository.
// Paths are relative to the repository root.
type VersionControl interface {
	Stage(ctx context.Context, path string) error
	Commit(ctx context.Context, path string, message string) error
	Push(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists run records.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns up to limit runs, most recently started first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Notifier receives retry and terminal-state events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Hasher computes digests for archived artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Package pipeline defines the core types shared by the extract, transform
// and archive stages and by the workflow that sequences them.
package pipeline

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Tag is the lowercase name of an extracted HTML element.
type Tag string

// Element tags the extractor collects by default.
const (
	TagH1 Tag = "h1"
	TagH2 Tag = "h2"
	TagH3 Tag = "h3"
	TagH4 Tag = "h4"
	TagH5 Tag = "h5"
	TagH6 Tag = "h6"
	TagP  Tag = "p"
)

// DefaultTags lists the heading and paragraph tags in selector order.
var DefaultTags = []Tag{TagP, TagH1, TagH2, TagH3, TagH4, TagH5, TagH6}

// ParseTag lowercases s and checks it against the known tag set.
func ParseTag(s string) (Tag, error) {
	tag := Tag(strings.ToLower(strings.TrimSpace(s)))
	if !tag.Valid() {
		return "", fmt.Errorf("unknown html tag %q", s)
	}
	return tag, nil
}

// Valid reports whether t is one of h1..h6 or p.
func (t Tag) Valid() bool {
	switch t {
	case TagH1, TagH2, TagH3, TagH4, TagH5, TagH6, TagP:
		return true
	default:
		return false
	}
}

// PageRecord is one extracted (tag, text) pair. Order and duplicates are
// preserved exactly as found in the source documents.
type PageRecord struct {
	Tag  Tag    `json:"html_tag"`
	Text string `json:"text"`
}

// Dataset column headers, in file order.
const (
	ColumnTag  = "HTML_Tag"
	ColumnText = "Text"
)

// Header is the header row written at the top of every dataset file.
var Header = []string{ColumnTag, ColumnText}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Artifact describes a dataset file after it has been archived.
type Artifact struct {
	Path      string   `json:"path"`
	RelPath   string   `json:"rel_path"`
	Digest    string   `json:"digest"`
	SizeBytes int64    `json:"size_bytes"`
	MirrorURI string   `json:"mirror_uri,omitempty"`
	Versioned bool     `json:"versioned"`
	VCSErrors []string `json:"vcs_errors,omitempty"`
}

// State is the coarse lifecycle state of a pipeline run.
type State string

// Run states. FAILED is reachable from every non-terminal state.
const (
	StatePending      State = "PENDING"
	StateExtracting   State = "EXTRACTING"
	StateTransforming State = "TRANSFORMING"
	StateArchiving    State = "ARCHIVING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Run is the persisted record of one pipeline execution.
type Run struct {
	ID          string         `json:"id"`
	DAGID       string         `json:"dag_id"`
	LogicalDate time.Time      `json:"logical_date"`
	State       State          `json:"state"`
	Task        string         `json:"task,omitempty"`
	Attempts    map[string]int `json:"attempts"`
	Records     int            `json:"records"`
	Artifact    *Artifact      `json:"artifact,omitempty"`
	ErrorText   string         `json:"error_text,omitempty"`
	Started     time.Time      `json:"started_at"`
	Finished    *time.Time     `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r Run) Clone() Run {
	cp := r
	if r.Attempts != nil {
		cp.Attempts = make(map[string]int, len(r.Attempts))
		for k, v := range r.Attempts {
			cp.Attempts[k] = v
		}
	}
	if r.Artifact != nil {
		art := *r.Artifact
		art.VCSErrors = append([]string(nil), r.Artifact.VCSErrors...)
		cp.Artifact = &art
	}
	if r.Finished != nil {
		ts := *r.Finished
		cp.Finished = &ts
	}
	return cp
}

// EventKind classifies notifications emitted during a run.
type EventKind string

// Notification kinds.
const (
	EventRetry   EventKind = "retry"
	EventFailure EventKind = "failure"
	EventSuccess EventKind = "success"
)

// Event is delivered to a Notifier on retries and on terminal run states.
type Event struct {
	Kind    EventKind `json:"kind"`
	RunID   string    `json:"run_id"`
	DAGID   string    `json:"dag_id"`
	Owner   string    `json:"owner"`
	Task    string    `json:"task,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

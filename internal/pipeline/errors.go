package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDestinationExists is wrapped by MoveError when the archive destination is
// already occupied and the collision policy forbids replacing it.
var ErrDestinationExists = errors.New("destination already exists")

// FetchError reports a network or parse failure for a single URL.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SerializationError reports input the transformer cannot tabulate.
type SerializationError struct {
	Row    int
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	var b strings.Builder
	b.WriteString("serialize dataset")
	if e.Row >= 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *SerializationError) Unwrap() error { return e.Err }

// MoveError reports a failure relocating the dataset into the archive.
type MoveError struct {
	Src string
	Dst string
	Err error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: %v", e.Src, e.Dst, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// VCSOp names a version-control operation.
type VCSOp string

// Version-control operations, in the order the archiver runs them.
const (
	VCSStage  VCSOp = "stage"
	VCSCommit VCSOp = "commit"
	VCSPush   VCSOp = "push"
)

// VersionControlError reports a failed stage, commit or push.
type VersionControlError struct {
	Op     VCSOp
	Path   string
	Output string
	Err    error
}

func (e *VersionControlError) Error() string {
	msg := fmt.Sprintf("vcs %s", e.Op)
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += fmt.Sprintf(": %v", e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + lastLine(out)
	}
	return msg
}

func (e *VersionControlError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Package archive moves the dataset into the data repository and versions
// it with a pipeline.VersionControl client.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/hash/sha256"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/metrics"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// Collision policies.
const (
	CollisionOverwrite = "overwrite"
	CollisionFail      = "fail"
)

// VCS failure policies.
const (
	PolicyFailOnError = "fail-on-error"
	PolicyBestEffort  = "best-effort"
)

// Config controls where datasets land and how failures are treated.
type Config struct {
	// RepoDir is the data repository root.
	RepoDir string
	// DataDir is relative to RepoDir.
	DataDir     string
	OnCollision string
	VCSPolicy   string
	// MirrorPrefix is prepended to object paths written to the blob store.
	MirrorPrefix string
}

// Deps groups the collaborators of an Archiver. Mirror is optional.
type Deps struct {
	FS     afero.Fs
	VCS    pipeline.VersionControl
	Mirror pipeline.BlobStore
	Hasher pipeline.Hasher
	Clock  pipeline.Clock
	Logger *zap.Logger
}

// Archiver implements pipeline.Archiver.
type Archiver struct {
	cfg    Config
	fs     afero.Fs
	vcs    pipeline.VersionControl
	mirror pipeline.BlobStore
	hasher pipeline.Hasher
	clock  pipeline.Clock
	logger *zap.Logger
}

// New validates cfg and returns an Archiver.
func New(cfg Config, deps Deps) (*Archiver, error) {
	if deps.VCS == nil {
		return nil, errors.New("version control client is required")
	}
	if deps.Hasher == nil || deps.Clock == nil {
		return nil, errors.New("hasher and clock are required")
	}
	if cfg.RepoDir == "" {
		return nil, errors.New("repo dir is required")
	}
	switch cfg.OnCollision {
	case "":
		cfg.OnCollision = CollisionOverwrite
	case CollisionOverwrite, CollisionFail:
	default:
		return nil, fmt.Errorf("unknown collision policy %q", cfg.OnCollision)
	}
	switch cfg.VCSPolicy {
	case "":
		cfg.VCSPolicy = PolicyFailOnError
	case PolicyFailOnError, PolicyBestEffort:
	default:
		return nil, fmt.Errorf("unknown vcs policy %q", cfg.VCSPolicy)
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Archiver{
		cfg:    cfg,
		fs:     deps.FS,
		vcs:    deps.VCS,
		mirror: deps.Mirror,
		hasher: deps.Hasher,
		clock:  deps.Clock,
		logger: deps.Logger,
	}, nil
}

// Dir returns the directory datasets are moved into.
func (a *Archiver) Dir() string {
	return filepath.Join(a.cfg.RepoDir, a.cfg.DataDir)
}

// Archive moves src into the archive directory, then stages, commits and
// pushes it. If src is gone but the destination exists, a previous attempt
// already moved it and only the version-control steps are repeated.
func (a *Archiver) Archive(ctx context.Context, src string) (pipeline.Artifact, error) {
	dir := a.Dir()
	name := filepath.Base(src)
	dst := filepath.Join(dir, name)
	rel := path.Join(filepath.ToSlash(a.cfg.DataDir), name)
	logger := a.logger.With(zap.String("src", src), zap.String("path", dst))

	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return pipeline.Artifact{}, &pipeline.MoveError{Src: src, Dst: dst, Err: err}
	}
	if err := a.move(src, dst, logger); err != nil {
		return pipeline.Artifact{}, err
	}

	data, err := afero.ReadFile(a.fs, dst)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("read archived dataset: %w", err)
	}
	digest, err := a.hasher.Hash(data)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("hash archived dataset: %w", err)
	}
	art := pipeline.Artifact{
		Path:      dst,
		RelPath:   rel,
		Digest:    digest,
		SizeBytes: int64(len(data)),
	}

	if a.mirror != nil {
		uri, err := a.mirror.PutObject(ctx, path.Join(a.cfg.MirrorPrefix, a.objectDate(), name), "text/csv", bytes.NewReader(data))
		if err != nil {
			// The mirror is a convenience copy; the repository stays authoritative.
			logger.Warn("mirror upload failed", zap.Error(err))
		} else {
			art.MirrorURI = uri
		}
	}

	if err := a.version(ctx, &art, logger); err != nil {
		return pipeline.Artifact{}, err
	}
	logger.Info("dataset archived",
		zap.String("digest", sha256.Short(digest)),
		zap.Int64("size_bytes", art.SizeBytes),
		zap.Bool("versioned", art.Versioned),
	)
	return art, nil
}

func (a *Archiver) move(src, dst string, logger *zap.Logger) error {
	_, srcErr := a.fs.Stat(src)
	_, dstErr := a.fs.Stat(dst)
	dstExists := dstErr == nil

	if srcErr != nil {
		if errors.Is(srcErr, os.ErrNotExist) && dstExists {
			logger.Info("dataset already in archive, resuming at version control")
			return nil
		}
		return &pipeline.MoveError{Src: src, Dst: dst, Err: srcErr}
	}
	if dstExists && a.cfg.OnCollision == CollisionFail {
		return &pipeline.MoveError{Src: src, Dst: dst, Err: pipeline.ErrDestinationExists}
	}
	if err := a.fs.Rename(src, dst); err != nil {
		return &pipeline.MoveError{Src: src, Dst: dst, Err: err}
	}
	return nil
}

func (a *Archiver) version(ctx context.Context, art *pipeline.Artifact, logger *zap.Logger) error {
	message := fmt.Sprintf("dataset %s %s (%s)",
		path.Base(art.RelPath), a.clock.Now().UTC().Format(time.RFC3339), sha256.Short(art.Digest))

	steps := []struct {
		op pipeline.VCSOp
		fn func() error
	}{
		{pipeline.VCSStage, func() error { return a.vcs.Stage(ctx, art.RelPath) }},
		{pipeline.VCSCommit, func() error { return a.vcs.Commit(ctx, art.RelPath, message) }},
		{pipeline.VCSPush, func() error { return a.vcs.Push(ctx) }},
	}
	failed := false
	for _, step := range steps {
		err := step.fn()
		if err == nil {
			continue
		}
		metrics.ObserveVCSFailure(string(step.op))
		var vcsErr *pipeline.VersionControlError
		if !errors.As(err, &vcsErr) {
			err = &pipeline.VersionControlError{Op: step.op, Path: art.RelPath, Err: err}
		}
		if a.cfg.VCSPolicy == PolicyFailOnError || ctx.Err() != nil {
			return err
		}
		logger.Warn("version control step failed", zap.String("op", string(step.op)), zap.Error(err))
		art.VCSErrors = append(art.VCSErrors, err.Error())
		failed = true
	}
	art.Versioned = !failed
	return nil
}

func (a *Archiver) objectDate() string {
	return a.clock.Now().UTC().Format("2006-01-02")
}

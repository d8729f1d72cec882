package vcs

import (
	"context"
	"errors"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// Config describes the data repository and the tools that manage it.
type Config struct {
	// RepoDir is the working directory for every command.
	RepoDir string
	// Binary is the dvc executable; defaults to "dvc".
	Binary string
	// Remote selects a dvc remote for push; empty uses the default remote.
	Remote string
	// GitCommit also records the .dvc pointer files in git.
	GitCommit bool
	// GitBinary defaults to "git".
	GitBinary string
}

// DVC implements pipeline.VersionControl.
type DVC struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
}

// NewDVC returns a client that shells out through runner. A nil runner
// uses ExecRunner.
func NewDVC(cfg Config, runner Runner, logger *zap.Logger) *DVC {
	if cfg.Binary == "" {
		cfg.Binary = "dvc"
	}
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DVC{cfg: cfg, runner: runner, logger: logger}
}

// Stage runs `dvc add` on a repository-relative path.
func (d *DVC) Stage(ctx context.Context, rel string) error {
	if err := d.run(ctx, pipeline.VCSStage, rel, d.cfg.Binary, "add", rel); err != nil {
		return err
	}
	if !d.cfg.GitCommit {
		return nil
	}
	return d.run(ctx, pipeline.VCSStage, rel, d.cfg.GitBinary, append([]string{"add"}, pointerFiles(rel)...)...)
}

// Commit records the staged path in the dvc cache and, with GitCommit set,
// creates a git revision carrying message.
func (d *DVC) Commit(ctx context.Context, rel string, message string) error {
	if err := d.run(ctx, pipeline.VCSCommit, rel, d.cfg.Binary, "commit", "-f", rel); err != nil {
		return err
	}
	if !d.cfg.GitCommit {
		return nil
	}
	return d.run(ctx, pipeline.VCSCommit, rel, d.cfg.GitBinary, "commit", "--allow-empty", "-m", message)
}

// Push uploads cached data to the configured remote.
func (d *DVC) Push(ctx context.Context) error {
	args := []string{"push"}
	if d.cfg.Remote != "" {
		args = append(args, "-r", d.cfg.Remote)
	}
	return d.run(ctx, pipeline.VCSPush, "", d.cfg.Binary, args...)
}

func (d *DVC) run(ctx context.Context, op pipeline.VCSOp, rel string, name string, args ...string) error {
	out, err := d.runner.Run(ctx, d.cfg.RepoDir, name, args...)
	output := strings.TrimSpace(string(out))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.Join(err, ctxErr)
		}
		return &pipeline.VersionControlError{Op: op, Path: rel, Output: output, Err: err}
	}
	d.logger.Debug("vcs command finished",
		zap.String("op", string(op)),
		zap.String("cmd", name+" "+strings.Join(args, " ")),
		zap.String("output", output),
	)
	return nil
}

// pointerFiles lists the files `dvc add` generates next to rel.
func pointerFiles(rel string) []string {
	return []string{rel + ".dvc", path.Join(path.Dir(rel), ".gitignore")}
}

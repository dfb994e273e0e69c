// Package runner executes downstream scripts against a scenario store. The
// store file path travels in the environment; the script reads it directly,
// which is safe because every store is a plain SQLite file.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Result is the outcome of one script run. Partial output is kept even when
// the script fails or is cancelled.
type Result struct {
	Stdout        string
	Stderr        string
	ExitCode      int
	ProducedFiles []string
	Duration      time.Duration
}

// Runner runs scripts in a working directory and collects the files they
// produce, matched by glob patterns.
type Runner struct {
	workdir string
	globs   []string
}

// New creates a runner. Produced-file globs use doublestar syntax, e.g.
// "out/**/*.csv", relative to workdir.
func New(workdir string, producedGlobs ...string) *Runner {
	return &Runner{workdir: workdir, globs: producedGlobs}
}

// Run executes scriptRef with the scenario store path in WHATIF_STORE.
// Cancellation via ctx kills the process; whatever the script wrote to its
// streams before dying is still returned alongside the error.
func (r *Runner) Run(ctx context.Context, storePath, scriptRef string, args ...string) (*Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, scriptRef, args...)
	cmd.Dir = r.workdir
	cmd.Env = append(os.Environ(), "WHATIF_STORE="+storePath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if files, globErr := r.producedFiles(); globErr == nil {
		res.ProducedFiles = files
	}

	if ctx.Err() != nil {
		return res, fmt.Errorf("script cancelled: %w", ctx.Err())
	}
	if err != nil {
		return res, fmt.Errorf("script %s failed: %w", scriptRef, err)
	}
	return res, nil
}

func (r *Runner) producedFiles() ([]string, error) {
	var files []string
	root := os.DirFS(r.workdir)
	for _, pattern := range r.globs {
		matches, err := doublestar.Glob(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			info, err := fs.Stat(root, m)
			if err != nil || info.IsDir() {
				continue
			}
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

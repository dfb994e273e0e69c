package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := New(dir, "*.csv")

	res, err := r.Run(context.Background(), "/data/s1.db", "/bin/sh", "-c",
		`echo "store=$WHATIF_STORE"; echo oops >&2; echo a,b > result.csv`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(res.Stdout, "store=/data/s1.db") {
		t.Errorf("stdout = %q, store path not passed through", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if len(res.ProducedFiles) != 1 || res.ProducedFiles[0] != "result.csv" {
		t.Errorf("produced files = %v", res.ProducedFiles)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()

	r := New(t.TempDir())
	res, err := r.Run(context.Background(), "", "/bin/sh", "-c", "echo partial; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "partial") {
		t.Errorf("partial output lost: %q", res.Stdout)
	}
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := New(t.TempDir())
	res, err := r.Run(ctx, "", "/bin/sh", "-c", "echo started; sleep 10")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !strings.Contains(res.Stdout, "started") {
		t.Errorf("output before cancellation lost: %q", res.Stdout)
	}
}

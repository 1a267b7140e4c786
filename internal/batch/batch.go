// Package batch verifies a list of screenshot files with bounded concurrency.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/sinova-register/internal/verification"
)

// Report is the outcome for one file
type Report struct {
	File   string               `json:"file"`
	Result *verification.Result `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Failed reports whether the file could not be verified or was rejected
func (r Report) Failed() bool {
	return r.Result == nil || r.Result.Status == verification.StatusRejected
}

// Runner verifies files, one Verifier per file
type Runner struct {
	newVerifier func() *verification.Verifier
	concurrency int
	onProgress  func(delta int)
}

// NewRunner creates a Runner. onProgress receives progress deltas; each file
// contributes 100 in total. It may be nil.
func NewRunner(newVerifier func() *verification.Verifier, concurrency int, onProgress func(delta int)) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if onProgress == nil {
		onProgress = func(int) {}
	}
	return &Runner{
		newVerifier: newVerifier,
		concurrency: concurrency,
		onProgress:  onProgress,
	}
}

// Run verifies every path and returns one report per path, in input order
func (r *Runner) Run(ctx context.Context, paths []string) []Report {
	reports := make([]Report, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			reports[i] = r.verifyFile(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

func (r *Runner) verifyFile(ctx context.Context, path string) Report {
	report := Report{File: path}
	logger := slog.With("file", path)

	f, err := os.Open(path)
	if err != nil {
		logger.Error("Failed to open screenshot", "error", err)
		report.Error = fmt.Sprintf("opening file: %v", err)
		r.onProgress(100)
		return report
	}
	defer f.Close()

	verifier := r.newVerifier()
	updates, stop := verifier.Subscribe()
	forwarded := make(chan int)
	go func() {
		last := 0
		for u := range updates {
			if u.Progress > last {
				r.onProgress(u.Progress - last)
				last = u.Progress
			}
		}
		forwarded <- last
	}()

	file := verification.File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Reader:      f,
	}
	result, err := verifier.Verify(ctx, file, "")
	stop()
	if last := <-forwarded; last < 100 {
		r.onProgress(100 - last)
	}

	if err != nil {
		logger.Error("Verification did not complete", "error", err)
		report.Error = err.Error()
		return report
	}
	logger.Info("Verified screenshot", "status", result.Status, "confidence", result.Confidence)
	report.Result = &result
	return report
}

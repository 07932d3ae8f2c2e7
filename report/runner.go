// Package report implements the reactive diagnostic engine: the
// per-route cooldown gate, the single-flight subprocess runner, the
// exclusive report-file writer, and the local index of reports written.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easybill/mehsh/model"
)

// Runner executes a route's diagnostic command with single-flight
// semantics: a start-if-idle signal received while one run is already
// executing is ignored.
type Runner struct {
	analysisName string
	reportRoot   string
	template     string

	mu      sync.Mutex
	running bool
}

// NewRunner constructs a Runner that writes reports for analysisName
// under reportRoot.
func NewRunner(analysisName, reportRoot, commandTemplate string) *Runner {
	return &Runner{
		analysisName: analysisName,
		reportRoot:   reportRoot,
		template:     commandTemplate,
	}
}

// IsRunning reports whether a diagnostic is currently in flight.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// StartIfIdle signals the runner to execute its command if it is Idle; a
// signal while Running is ignored (single-flight). onReport, if non-nil,
// is called with the record of the report once it has been written.
func (r *Runner) StartIfIdle(ctx context.Context, to model.Peer, onReport func(model.ReportRecord)) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		log.Printf("report %s: command already running, ignoring trigger", r.analysisName)
		return
	}
	r.running = true
	r.mu.Unlock()

	runID := uuid.NewString()
	startTime := time.Now()

	go func() {
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()

		output, exitCode, err := execute(ctx, expandTemplate(r.template, to), runID)
		if err != nil {
			log.Printf("ERROR report %s run %s: %v", r.analysisName, runID, err)
		}

		rec, werr := writeReport(r.reportRoot, r.analysisName, to.Identifier, startTime, output, exitCode)
		if werr != nil {
			log.Printf("ERROR report %s run %s: write report: %v", r.analysisName, runID, werr)
			return
		}
		log.Printf("report %s run %s: wrote %s (%d bytes, exit=%d)", r.analysisName, runID, rec.Path, rec.SizeBytes, exitCode)
		if onReport != nil {
			onReport(rec)
		}
	}()
}

// expandTemplate substitutes the {{server.<side>.*}} tokens in template.
// Only the "to" side is parameterized here; "from" tokens are filled in
// by the caller (see subscriber.go) since this package has no notion of
// "self" beyond what it is told.
func expandTemplate(template string, to model.Peer) string {
	r := strings.NewReplacer(
		"{{server.to.ip}}", to.IP.String(),
		"{{server.to.extra1}}", to.Extra[0],
		"{{server.to.extra2}}", to.Extra[1],
		"{{server.to.extra3}}", to.Extra[2],
	)
	return r.Replace(template)
}

// execute runs command as /bin/bash -c <command>, capturing stdout and
// stderr interleaved in arrival order, killing the process if ctx is
// cancelled (kill-on-drop).
func execute(ctx context.Context, command, runID string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	var buf bytes.Buffer
	var mu sync.Mutex
	writer := lockedWriter{w: &buf, mu: &mu}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, -1, fmt.Errorf("start: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(writer, stdout) }()
	go func() { defer wg.Done(); _, _ = io.Copy(writer, stderr) }()
	wg.Wait()

	err = cmd.Wait()
	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return buf.Bytes(), -1, err
		}
	}
	return buf.Bytes(), exitCode, nil
}

// lockedWriter serializes concurrent writes from the stdout and stderr
// copy goroutines into one buffer, preserving arrival order.
type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// writeReport creates the report file exclusively (O_CREAT|O_EXCL) under
// reportRoot/analysisName/toPeer/<start time>.txt.
func writeReport(reportRoot, analysisName, toPeer string, startTime time.Time, output []byte, exitCode int) (model.ReportRecord, error) {
	dir := filepath.Join(reportRoot, analysisName, toPeer)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return model.ReportRecord{}, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	name := startTime.Format("2006_01_02_15_04_05") + ".txt"
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return model.ReportRecord{}, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	n, err := f.Write(output)
	if err != nil {
		return model.ReportRecord{}, fmt.Errorf("write %s: %w", path, err)
	}

	return model.ReportRecord{
		Analysis:  analysisName,
		ToPeer:    toPeer,
		StartedAt: startTime,
		Path:      path,
		ExitCode:  exitCode,
		SizeBytes: int64(n),
	}, nil
}

// Package invoker wraps the external render engine executable. It spawns at
// most one subprocess per token, streams and captures engine output,
// enforces a per-job timeout, and converts every failure mode into a
// structured error. It imposes no cross-job concurrency limit; that belongs
// to the queue.
package invoker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/okonma/rendercache/internal/config"
	errs "github.com/okonma/rendercache/internal/errors"
	"github.com/okonma/rendercache/internal/logging"
	"github.com/okonma/rendercache/internal/token"
)

const (
	// progressLogInterval throttles progress-line logging per job.
	progressLogInterval = 5 * time.Second
	// killGrace is how long a cancelled process gets to exit after the
	// termination signal before it is forcefully killed.
	killGrace = 5 * time.Second
)

// Result describes a successful render.
type Result struct {
	TokenID    string        `json:"tokenId"`
	RenderPath string        `json:"renderPath"`
	FirstFrame string        `json:"firstFrame"`
	Duration   time.Duration `json:"duration"`
	LogPath    string        `json:"logPath"`
}

// ActiveRender is a read-only view of one in-flight job.
type ActiveRender struct {
	TokenID   string    `json:"tokenId"`
	StartedAt time.Time `json:"startedAt"`
}

type job struct {
	cancel    context.CancelFunc
	startedAt time.Time
	cancelled bool
}

// Invoker supervises render engine subprocesses.
type Invoker struct {
	executable string
	format     string
	cacheDir   string
	timeout    time.Duration
	logger     logging.Logger

	mu     sync.Mutex
	active map[string]*job
}

// New resolves the engine executable (configured path, or platform
// auto-detection when unset) and returns an Invoker. A missing executable is
// not an error here: IsAvailable reports it and renders fail fast.
func New(cfg config.RenderConfig, logger logging.Logger) *Invoker {
	executable := cfg.ExecutablePath
	if executable == "" {
		executable = DetectExecutable()
	}
	return &Invoker{
		executable: executable,
		format:     cfg.Format,
		cacheDir:   cfg.CacheDir,
		timeout:    cfg.Timeout,
		logger:     logger.WithComponent("invoker"),
		active:     make(map[string]*job),
	}
}

// IsAvailable reports whether the engine executable exists on disk. No
// process is started.
func (inv *Invoker) IsAvailable() bool {
	if inv.executable == "" {
		return false
	}
	info, err := os.Stat(inv.executable)
	return err == nil && !info.IsDir()
}

// Executable returns the resolved engine path, empty when none was found.
func (inv *Invoker) Executable() string { return inv.executable }

// IsRendering reports whether a live subprocess exists for the token.
func (inv *Invoker) IsRendering(tokenID string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	_, ok := inv.active[tokenID]
	return ok
}

// ActiveCount returns the number of live render subprocesses.
func (inv *Invoker) ActiveCount() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.active)
}

// ActiveRenders returns a snapshot of in-flight jobs.
func (inv *Invoker) ActiveRenders() []ActiveRender {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	renders := make([]ActiveRender, 0, len(inv.active))
	for id, j := range inv.active {
		renders = append(renders, ActiveRender{TokenID: id, StartedAt: j.startedAt})
	}
	return renders
}

// Render runs the engine for one token. It validates the executable, the
// source file and the output directory before spawning; any validation
// failure returns without a subprocess. The call blocks until the process
// exits, the timeout fires, or the job is cancelled.
func (inv *Invoker) Render(ctx context.Context, t *token.Token, sourcePath string) (*Result, error) {
	if !inv.IsAvailable() {
		return nil, errs.ValidationError("ERR_NO_ENGINE",
			"no render engine executable found; set render.executable_path or install the engine")
	}
	if info, err := os.Stat(sourcePath); err != nil || info.IsDir() {
		return nil, errs.ValidationError("ERR_NO_SOURCE",
			fmt.Sprintf("source project %q does not exist; save the project before rendering", sourcePath))
	}

	outputDir := token.RenderDir(inv.cacheDir, t.TokenID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errs.Wrap(err, errs.CategoryValidation, "ERR_OUTPUT_DIR",
			fmt.Sprintf("cannot create render output directory %q", outputDir))
	}

	inv.mu.Lock()
	if _, exists := inv.active[t.TokenID]; exists {
		inv.mu.Unlock()
		return nil, errs.ValidationError("ERR_ALREADY_RENDERING",
			fmt.Sprintf("token %q already has a live render subprocess", t.TokenID))
	}

	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, inv.executable, inv.buildArgs(t, sourcePath, outputDir)...)
	// Graceful-then-forceful shutdown: context cancellation sends the
	// termination signal, and the runtime escalates to SIGKILL after the
	// grace window.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		inv.mu.Unlock()
		return nil, errs.Wrap(err, errs.CategoryInternal, "ERR_SPAWN", "failed to attach engine stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		inv.mu.Unlock()
		return nil, errs.Wrap(err, errs.CategoryInternal, "ERR_SPAWN", "failed to attach engine stderr")
	}

	if err := cmd.Start(); err != nil {
		inv.mu.Unlock()
		return nil, errs.Wrap(err, errs.CategoryInternal, "ERR_SPAWN",
			fmt.Sprintf("failed to start render engine %q", inv.executable))
	}

	j := &job{cancel: cancel, startedAt: time.Now()}
	inv.active[t.TokenID] = j
	inv.mu.Unlock()

	inv.logger.Info(ctx, "render started",
		"token_id", t.TokenID, "pid", cmd.Process.Pid, "source", sourcePath)

	var capture captureBuffer
	var streamWg sync.WaitGroup
	streamWg.Add(2)
	go inv.streamOutput(ctx, t.TokenID, stdout, &capture, &streamWg)
	go inv.streamOutput(ctx, t.TokenID, stderr, &capture, &streamWg)

	streamWg.Wait()
	waitErr := cmd.Wait()

	inv.mu.Lock()
	cancelled := j.cancelled
	delete(inv.active, t.TokenID)
	inv.mu.Unlock()

	// Captured output is written regardless of outcome, for post-mortem
	// diagnosis.
	logPath := filepath.Join(outputDir, t.TokenID+".log")
	if err := os.WriteFile(logPath, capture.Bytes(), 0644); err != nil {
		inv.logger.Warn(ctx, err, "failed to write job log", "token_id", t.TokenID)
	}

	elapsed := time.Since(j.startedAt)

	switch {
	case cancelled:
		return nil, errs.New(errs.CategoryInternal, CodeCancelled,
			fmt.Sprintf("render of %q was cancelled", t.TokenID))
	case ctx.Err() == context.DeadlineExceeded:
		return nil, errs.TimeoutError(t.TokenID, int(inv.timeout.Minutes()))
	case waitErr != nil:
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		inv.logger.Warn(ctx, waitErr, "render failed",
			"token_id", t.TokenID, "exit_code", exitCode, "duration", elapsed.String())
		return nil, errs.ClassifyFailure(capture.String(), exitCode, logPath)
	}

	// Exit code 0 still requires a frame on disk: the engine can report
	// success while silently producing nothing.
	firstFrame, ok := FindFirstFrame(outputDir, t.TokenID)
	if !ok {
		inv.logger.Warn(ctx, nil, "engine exited cleanly but produced no frames", "token_id", t.TokenID)
		return nil, errs.ClassifySilentFailure(logPath)
	}

	inv.logger.Info(ctx, "render finished",
		"token_id", t.TokenID, "first_frame", firstFrame, "duration", elapsed.String())

	return &Result{
		TokenID:    t.TokenID,
		RenderPath: outputDir,
		FirstFrame: firstFrame,
		Duration:   elapsed,
		LogPath:    logPath,
	}, nil
}

// CodeCancelled marks renders that ended because Cancel was called, so the
// queue can tell them apart from genuine failures.
const CodeCancelled = "ERR_RENDER_CANCELLED"

// IsCancelled reports whether err is the cancellation outcome of Render.
func IsCancelled(err error) bool {
	re, ok := err.(*errs.RenderError)
	return ok && re.Code == CodeCancelled
}

// Cancel asks the token's subprocess to terminate: a graceful signal first,
// escalated to a forceful kill if it has not exited within the grace window.
// It returns whether a live process was found; calling it with no matching
// job is a no-op returning false.
func (inv *Invoker) Cancel(tokenID string) bool {
	inv.mu.Lock()
	j, ok := inv.active[tokenID]
	if ok {
		j.cancelled = true
	}
	inv.mu.Unlock()

	if !ok {
		return false
	}
	inv.logger.Info(context.Background(), "cancelling render", "token_id", tokenID)
	j.cancel()
	return true
}

// buildArgs assembles the fixed engine argument list: project input, target
// composition, frame-templated output, a conservative memory ceiling, and
// flags that skip interactive prompts and carry on past missing footage.
func (inv *Invoker) buildArgs(t *token.Token, sourcePath, outputDir string) []string {
	comp := t.LayerRef
	if comp == "" {
		comp = t.Name
	}
	outputTemplate := filepath.Join(outputDir, fmt.Sprintf("%s_[#####].%s", t.TokenID, inv.format))
	return []string{
		"-project", sourcePath,
		"-comp", comp,
		"-output", outputTemplate,
		"-mem_usage", "50", "50",
		"-continueOnMissingFootage",
		"-close", "DO_NOT_SAVE_CHANGES",
		"-sound", "OFF",
	}
}

// streamOutput scans one engine stream line by line. Progress lines are
// rate-limited to one log emission per interval per job; error-indicating
// lines are logged immediately and unthrottled. Everything is captured.
func (inv *Invoker) streamOutput(ctx context.Context, tokenID string, r io.Reader, capture *captureBuffer, wg *sync.WaitGroup) {
	defer wg.Done()

	var lastProgress time.Time
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		capture.Append(line)

		lowered := strings.ToLower(line)
		switch {
		case strings.Contains(lowered, "error"):
			inv.logger.Warn(ctx, nil, "engine error output", "token_id", tokenID, "line", line)
		case strings.Contains(line, "PROGRESS:"):
			if time.Since(lastProgress) >= progressLogInterval {
				lastProgress = time.Now()
				inv.logger.Info(ctx, "render progress", "token_id", tokenID, "line", strings.TrimSpace(line))
			}
		}
	}
}

// captureBuffer accumulates engine output from both streams.
type captureBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureBuffer) Append(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *captureBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func (c *captureBuffer) Bytes() []byte {
	return []byte(c.String())
}

package renderer

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"image/png"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
)

// BlenderEngine renders by running Blender headless with a generated scene
// script. The caller's context bounds the subprocess; when it expires the
// process is killed.
type BlenderEngine struct {
	binary    string
	timeout   time.Duration
	scriptDir string
	log       *logger.Logger

	versionOnce sync.Once
	version     string
}

func NewBlenderEngine(binary string, timeout time.Duration, log *logger.Logger) *BlenderEngine {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &BlenderEngine{
		binary:    binary,
		timeout:   timeout,
		scriptDir: os.TempDir(),
		log:       log.WithComponent("renderer.blender"),
	}
}

// Version returns the first line of `blender --version`, probed once.
func (b *BlenderEngine) Version() string {
	b.versionOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, b.binary, "--version").Output()
		if err != nil {
			b.log.Warn("blender version probe failed", "binary", b.binary, "error", err.Error())
			b.version = "unknown"
			return
		}
		b.version = parseVersion(string(out))
	})
	return b.version
}

func (b *BlenderEngine) Render(ctx context.Context, req Request) (Result, error) {
	log := b.log.WithJobID(req.JobID)

	if _, err := os.Stat(filepath.Dir(req.OutputPath)); err != nil {
		return Result{}, errors.Execution("output directory does not exist: " + filepath.Dir(req.OutputPath))
	}

	script, err := SceneScript(req)
	if err != nil {
		return Result{}, err
	}
	f, err := os.CreateTemp(b.scriptDir, "render_script_*.py")
	if err != nil {
		return Result{}, errors.Wrap(err, "renderer.blender", "create scene script")
	}
	scriptPath := f.Name()
	defer os.Remove(scriptPath)
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return Result{}, errors.Wrap(err, "renderer.blender", "write scene script")
	}
	if err := f.Close(); err != nil {
		return Result{}, errors.Wrap(err, "renderer.blender", "write scene script")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.binary,
		"--background",
		"--python", scriptPath,
		"--",
		"--output", req.OutputPath,
	)
	cmd.Stderr = &stderr
	// Children that inherit stderr must not hold Wait open after a kill.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	log.Info("starting blender render", "output", req.OutputPath, "preset", req.Preset.Name)
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil {
		err := b.classify(ctx, runErr, stderr.String())
		log.Error("blender render failed", "error", errors.Message(err), "duration_ms", duration.Milliseconds())
		return Result{}, err
	}

	if err := VerifyPNG(req.OutputPath, req.Width, req.Height); err != nil {
		return Result{}, err
	}
	log.Info("blender render complete", "duration_ms", duration.Milliseconds())
	return Result{OutputPath: req.OutputPath, Duration: duration}, nil
}

func (b *BlenderEngine) classify(ctx context.Context, runErr error, stderr string) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimeoutError(b.timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if stderrors.Is(runErr, exec.ErrNotFound) || stderrors.Is(runErr, fs.ErrNotExist) {
		return errors.New(errors.CodeUnavailable, "Blender binary not found at "+b.binary).
			WithField("binary", b.binary)
	}

	var exitErr *exec.ExitError
	if !stderrors.As(runErr, &exitErr) {
		return errors.WrapWithCode(runErr, errors.CodeExecution, "renderer.blender", "System error during render: "+runErr.Error())
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "no module named 'bpy'"):
		return errors.Execution("Blender installation incomplete (bpy module not found)")
	case strings.Contains(lower, "cuda error"):
		return errors.Execution("GPU compute unavailable (CUDA error)")
	case strings.Contains(lower, "out of memory"):
		return errors.Execution("Insufficient RAM for render")
	}
	return errors.Execution("Blender process failed: " + lastLine(stderr, exitErr))
}

// TimeoutError is the failure recorded when a render exceeds its deadline.
func TimeoutError(timeout time.Duration) error {
	return errors.Execution(fmt.Sprintf("render timeout after %d seconds", int(timeout.Seconds()))).
		WithField("timeout_seconds", int(timeout.Seconds()))
}

// VerifyPNG checks that path is a non-empty PNG of the given dimensions.
// Zero dimensions skip the size check.
func VerifyPNG(path string, width, height int) error {
	st, err := os.Stat(path)
	if err != nil {
		return errors.Execution("Output verification failed: output file not found")
	}
	if st.Size() == 0 {
		return errors.Execution("Output verification failed: output file is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeExecution, "renderer.verify", "Output verification failed")
	}
	defer f.Close()

	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return errors.Execution("Output verification failed: invalid format, expected PNG")
	}
	if width > 0 && height > 0 && (cfg.Width != width || cfg.Height != height) {
		return errors.Execution(fmt.Sprintf("Output verification failed: invalid dimensions %dx%d, expected %dx%d",
			cfg.Width, cfg.Height, width, height))
	}
	return nil
}

func parseVersion(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Fields(line)
	if len(fields) >= 2 && strings.EqualFold(fields[0], "blender") {
		return fields[1]
	}
	if line == "" {
		return "unknown"
	}
	return line
}

func lastLine(stderr string, exitErr *exec.ExitError) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		return exitErr.Error()
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

package container

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/creack/pty"
	"go.uber.org/zap"
)

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	devServer  = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]):\d+/?\S*`)
)

// ProcessConfig configures a Process runner.
type ProcessConfig struct {
	// BaseDir holds the per-embed workspaces; empty means the OS temp dir.
	BaseDir string
	// Shell runs Spec.Command with "-c".
	Shell        string
	StartTimeout time.Duration
	// KeepLines is how much output is kept for Logs.
	KeepLines int
}

// Process runs projects as local dev servers under a pseudo-terminal.
type Process struct {
	cfg    ProcessConfig
	logger *logging.Logger
}

// NewProcess creates a local runner.
func NewProcess(cfg ProcessConfig, logger *logging.Logger) *Process {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 2 * time.Minute
	}
	if cfg.KeepLines <= 0 {
		cfg.KeepLines = 200
	}
	return &Process{cfg: cfg, logger: logging.OrNop(logger).Named("process")}
}

// Start writes the files to a fresh workspace, runs the command and waits
// until it prints a local URL.
func (p *Process) Start(ctx context.Context, spec Spec) (Instance, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, errors.New("process runner needs a command")
	}

	dir, err := os.MkdirTemp(p.cfg.BaseDir, "embed-"+hostLabel(spec.ID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if err := WriteFiles(dir, spec.Files); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	cmd := exec.Command(p.cfg.Shell, "-c", spec.Command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=dumb", "NO_COLOR=1", "BROWSER=none")
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 160})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	inst := &processInstance{
		id:     spec.ID,
		dir:    dir,
		cmd:    cmd,
		ptmx:   ptmx,
		keep:   p.cfg.KeepLines,
		found:  make(chan string, 1),
		done:   make(chan struct{}),
		logger: p.logger.With(zap.String("embed_id", spec.ID)),
	}
	go inst.readOutput()
	go inst.monitorProcess()

	timer := time.NewTimer(p.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case raw := <-inst.found:
		surface, err := SurfaceFromURL(strings.Replace(raw, "0.0.0.0", "localhost", 1))
		if err != nil {
			_ = inst.Close()
			return nil, err
		}
		inst.surface = surface
		p.logger.Info("Dev server ready",
			zap.String("embed_id", spec.ID),
			zap.String("url", surface.URL),
			zap.String("dir", dir))
		return inst, nil
	case <-inst.done:
		_ = inst.Close()
		return nil, fmt.Errorf("%w: command exited: %s", ErrNoSurface, strings.Join(inst.Logs(), " | "))
	case <-timer.C:
		_ = inst.Close()
		return nil, fmt.Errorf("%w within %s", ErrNoSurface, p.cfg.StartTimeout)
	case <-ctx.Done():
		_ = inst.Close()
		return nil, ctx.Err()
	}
}

type processInstance struct {
	id      string
	dir     string
	cmd     *exec.Cmd
	ptmx    *os.File
	surface Surface
	keep    int
	logger  *logging.Logger

	found chan string
	done  chan struct{}

	mu        sync.Mutex
	lines     []string
	closeOnce sync.Once
}

func (i *processInstance) Surface() Surface      { return i.surface }
func (i *processInstance) Done() <-chan struct{} { return i.done }

// Logs returns the most recent output lines.
func (i *processInstance) Logs() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.lines...)
}

func (i *processInstance) readOutput() {
	scanner := bufio.NewScanner(i.ptmx)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	announced := false
	for scanner.Scan() {
		line := strings.TrimSpace(ansiEscape.ReplaceAllString(scanner.Text(), ""))
		if line == "" {
			continue
		}
		i.mu.Lock()
		i.lines = append(i.lines, line)
		if len(i.lines) > i.keep {
			i.lines = i.lines[len(i.lines)-i.keep:]
		}
		i.mu.Unlock()

		if !announced {
			if m := devServer.FindString(line); m != "" {
				announced = true
				i.found <- m
			}
		}
	}
}

func (i *processInstance) monitorProcess() {
	_ = i.cmd.Wait()
	close(i.done)
}

// Close stops the dev server and removes the workspace.
func (i *processInstance) Close() error {
	var err error
	i.closeOnce.Do(func() {
		if i.cmd.Process != nil {
			// the pty made the shell a session leader; signal its whole group
			pgid := -i.cmd.Process.Pid
			_ = syscall.Kill(pgid, syscall.SIGTERM)
			select {
			case <-i.done:
			case <-time.After(3 * time.Second):
				_ = syscall.Kill(pgid, syscall.SIGKILL)
				<-i.done
			}
		}
		_ = i.ptmx.Close()
		err = os.RemoveAll(i.dir)
		i.logger.Debug("Dev server stopped")
	})
	return err
}

// WriteFiles materialises files under dir, refusing paths that leave it.
func WriteFiles(dir string, files map[string]string) error {
	for name, content := range files {
		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, name)
		}
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(name), err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

package examples

import (
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// LauncherConfig describes how scenes are opened.
type LauncherConfig struct {
	Executable string
	Start      func(cmd *exec.Cmd) error
	Logger     *zap.Logger
}

// Launcher starts the simulator on a scene file without waiting for it to exit.
type Launcher struct {
	executable string
	start      func(cmd *exec.Cmd) error
	logger     *zap.Logger
}

// NewLauncher constructs a Launcher.
func NewLauncher(cfg LauncherConfig) *Launcher {
	start := cfg.Start
	if start == nil {
		start = startDetached
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{executable: cfg.Executable, start: start, logger: logger}
}

// Launch opens path in the simulator. A missing scene file or executable is reported as ErrNotFound.
func (l *Launcher) Launch(path string) error {
	if !fileExists(path) {
		return fmt.Errorf("%w: scene %s", ErrNotFound, path)
	}
	executable, err := exec.LookPath(l.executable)
	if err != nil {
		return fmt.Errorf("%w: simulator executable %s: %v", ErrNotFound, l.executable, err)
	}

	cmd := exec.Command(executable, path)
	cmd.SysProcAttr = detachedProcAttr()
	if err := l.start(cmd); err != nil {
		l.logger.Error("failed to launch simulator", zap.String("executable", executable), zap.String("scene", path), zap.Error(err))
		return fmt.Errorf("launch %s: %w", path, err)
	}
	l.logger.Info("simulator launched", zap.String("scene", path))
	return nil
}

// CheckInstallation reports a missing simulator executable or examples directory.
func CheckInstallation(executable, examplesDir string) []error {
	var problems []error
	if _, err := exec.LookPath(executable); err != nil {
		problems = append(problems, fmt.Errorf("%w: simulator executable %s", ErrNotFound, executable))
	}
	if info, err := os.Stat(examplesDir); err != nil || !info.IsDir() {
		problems = append(problems, fmt.Errorf("%w: examples directory %s", ErrNotFound, examplesDir))
	}
	return problems
}

func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

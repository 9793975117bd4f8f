package config

import (
	"os"
	"path/filepath"
	"sync"
)

// Environment variables that relocate zylix-test's state.
const (
	EnvHome     = "ZYLIX_HOME"
	EnvStateDir = "ZYLIX_STATE_DIR"
)

const appName = "zylix-test"

// hostPaths is the slice of the OS that state resolution reads.
type hostPaths struct {
	getenv     func(string) string
	executable func() (string, error)
	userHome   func() (string, error)
}

var host = hostPaths{
	getenv:     os.Getenv,
	executable: os.Executable,
	userHome:   os.UserHomeDir,
}

var (
	stateOnce sync.Once
	stateDir  string
)

// GetStateDir returns the directory holding flaky history and other state
// that outlives a run. The first of these wins:
//
//	$ZYLIX_STATE_DIR
//	$ZYLIX_HOME/state
//	<install>/state when the binary lives in <install>/bin
//	$XDG_STATE_HOME/zylix-test
//	~/.local/state/zylix-test
//	./.zylix-test
//
// The result is cached for the life of the process.
func GetStateDir() string {
	stateOnce.Do(func() {
		stateDir = host.resolveState()
	})
	return stateDir
}

func (h hostPaths) resolveState() string {
	if dir := h.getenv(EnvStateDir); dir != "" {
		return dir
	}
	if home := h.getenv(EnvHome); home != "" {
		return filepath.Join(home, "state")
	}
	if install, ok := h.installDir(); ok {
		return filepath.Join(install, "state")
	}
	if xdg := h.getenv("XDG_STATE_HOME"); filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appName)
	}
	if home, err := h.userHome(); err == nil && home != "" {
		return filepath.Join(home, ".local", "state", appName)
	}
	return "." + appName
}

// installDir reports <install> for a binary at <install>/bin/zylix-test.
func (h hostPaths) installDir() (string, bool) {
	exe, err := h.executable()
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	bin := filepath.Dir(exe)
	if filepath.Base(bin) != "bin" {
		return "", false
	}
	return filepath.Dir(bin), true
}

// resetStateDir drops the cached state directory.
func resetStateDir() {
	stateOnce = sync.Once{}
	stateDir = ""
}

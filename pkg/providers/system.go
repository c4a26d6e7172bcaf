// Package providers implements the closed set of resource providers for the
// hostadm engine. Every provider reads and mutates the host through the
// System interface so reconciliation logic stays testable without a live
// host.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hostadm/hostadm/pkg/engine"
)

// System is the narrow host surface providers operate on: file content,
// command execution, and package management.
type System interface {
	// ReadFile returns a file's content; fs.ErrNotExist when missing.
	ReadFile(path string) ([]byte, error)

	// WriteFile creates or replaces a file with the given mode.
	WriteFile(path string, data []byte, mode fs.FileMode) error

	// Remove deletes a file; removing a missing file is not an error.
	Remove(path string) error

	// Exists reports whether a path exists.
	Exists(path string) (bool, error)

	// Mode returns a file's permission bits.
	Mode(path string) (fs.FileMode, error)

	// Chmod sets a file's permission bits.
	Chmod(path string, mode fs.FileMode) error

	// Glob returns paths matching a shell pattern.
	Glob(pattern string) ([]string, error)

	// Walk returns every file path under a directory, recursively. A missing
	// directory yields no paths.
	Walk(dir string) ([]string, error)

	// Run executes a host command and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// LookPath reports whether a command is available.
	LookPath(name string) (string, error)

	// PackageVersion returns the installed version of a package.
	PackageVersion(ctx context.Context, name string) (version string, installed bool, err error)

	// CandidateVersion returns the newest version available for a package,
	// used for ensure=latest.
	CandidateVersion(ctx context.Context, name string) (string, error)

	// InstallPackage installs a package, optionally at a pinned version.
	InstallPackage(ctx context.Context, name, version string) error

	// RemovePackage uninstalls a package.
	RemovePackage(ctx context.Context, name string) error

	// UpgradePackage upgrades an installed package to the newest version.
	UpgradePackage(ctx context.Context, name string) error
}

// wrapErr converts host failures into classified provider errors.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrPermission) {
		return engine.NewProviderError(engine.ReasonPermissionDenied, op, err)
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return err
	}
	return engine.NewProviderError(engine.ReasonExternalToolFailed, op, err)
}

// ExecSystem is the live-host implementation of System built on the OS and
// external tools.
type ExecSystem struct {
	// manager caches the detected package manager.
	manager string
}

// NewExecSystem creates the live-host system.
func NewExecSystem() *ExecSystem {
	return &ExecSystem{}
}

// ReadFile implements System.
func (s *ExecSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile implements System. The write goes through a temp file and rename
// so partially written config files are never observed.
func (s *ExecSystem) WriteFile(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".hostadm-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Remove implements System.
func (s *ExecSystem) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Exists implements System.
func (s *ExecSystem) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Mode implements System.
func (s *ExecSystem) Mode(path string) (fs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Mode().Perm(), nil
}

// Chmod implements System.
func (s *ExecSystem) Chmod(path string, mode fs.FileMode) error {
	return os.Chmod(path, mode)
}

// Glob implements System.
func (s *ExecSystem) Glob(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

// Walk implements System.
func (s *ExecSystem) Walk(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return paths, err
}

// Run implements System.
func (s *ExecSystem) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// LookPath implements System.
func (s *ExecSystem) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// packageManager detects the host package manager once.
func (s *ExecSystem) packageManager() (string, error) {
	if s.manager != "" {
		return s.manager, nil
	}
	for _, mgr := range []string{"apt", "dnf", "yum", "zypper"} {
		if _, err := exec.LookPath(mgr); err == nil {
			s.manager = mgr
			return mgr, nil
		}
	}
	return "", engine.NewProviderError(engine.ReasonNotSupported,
		"no supported package manager found", nil)
}

// PackageVersion implements System.
func (s *ExecSystem) PackageVersion(ctx context.Context, name string) (string, bool, error) {
	mgr, err := s.packageManager()
	if err != nil {
		return "", false, err
	}

	var cmd *exec.Cmd
	switch mgr {
	case "apt":
		cmd = exec.CommandContext(ctx, "dpkg-query", "-W", "-f=${Version}", name)
	default:
		cmd = exec.CommandContext(ctx, "rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name)
	}

	out, err := cmd.Output()
	if err != nil {
		// Query tools exit non-zero for a missing package.
		return "", false, nil
	}
	return strings.TrimSpace(string(out)), true, nil
}

// CandidateVersion implements System.
func (s *ExecSystem) CandidateVersion(ctx context.Context, name string) (string, error) {
	mgr, err := s.packageManager()
	if err != nil {
		return "", err
	}
	switch mgr {
	case "apt":
		out, err := s.Run(ctx, "apt-cache", "policy", name)
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if v, ok := strings.CutPrefix(line, "Candidate:"); ok {
				return strings.TrimSpace(v), nil
			}
		}
		return "", fmt.Errorf("no candidate version for %s", name)
	default:
		out, err := s.Run(ctx, "repoquery", "--latest-limit", "1", "--queryformat", "%{VERSION}-%{RELEASE}", name)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(out)), nil
	}
}

// InstallPackage implements System.
func (s *ExecSystem) InstallPackage(ctx context.Context, name, version string) error {
	mgr, err := s.packageManager()
	if err != nil {
		return err
	}
	spec := name
	if version != "" {
		switch mgr {
		case "apt":
			spec = fmt.Sprintf("%s=%s", name, version)
		default:
			spec = fmt.Sprintf("%s-%s", name, version)
		}
	}
	_, err = s.Run(ctx, mgr, "install", "-y", spec)
	return err
}

// RemovePackage implements System.
func (s *ExecSystem) RemovePackage(ctx context.Context, name string) error {
	mgr, err := s.packageManager()
	if err != nil {
		return err
	}
	_, err = s.Run(ctx, mgr, "remove", "-y", name)
	return err
}

// UpgradePackage implements System.
func (s *ExecSystem) UpgradePackage(ctx context.Context, name string) error {
	mgr, err := s.packageManager()
	if err != nil {
		return err
	}
	verb := "upgrade"
	if mgr == "zypper" {
		verb = "update"
	}
	_, err = s.Run(ctx, mgr, verb, "-y", name)
	return err
}

package providers

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MemSystem is an in-memory System used by tests and dry runs against a
// synthetic host. It emulates the file tree, the package database, and the
// semanage login table.
type MemSystem struct {
	mu sync.Mutex

	// Files maps path to content.
	Files map[string][]byte

	// Modes maps path to permission bits.
	Modes map[string]fs.FileMode

	// Packages maps installed package name to version.
	Packages map[string]string

	// Latest maps package name to the newest available version.
	Latest map[string]string

	// Logins maps SELinux login name to "seuser range".
	Logins map[string]string

	// Commands records every Run invocation for assertions.
	Commands []string

	// FailCommands maps a command prefix to an error, letting tests inject
	// provider failures.
	FailCommands map[string]error
}

// NewMemSystem creates an empty synthetic host.
func NewMemSystem() *MemSystem {
	return &MemSystem{
		Files:        make(map[string][]byte),
		Modes:        make(map[string]fs.FileMode),
		Packages:     make(map[string]string),
		Latest:       make(map[string]string),
		Logins:       make(map[string]string),
		FailCommands: make(map[string]error),
	}
}

// ReadFile implements System.
func (s *MemSystem) ReadFile(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFile implements System.
func (s *MemSystem) WriteFile(path string, data []byte, mode fs.FileMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Files[path] = append([]byte(nil), data...)
	s.Modes[path] = mode
	return nil
}

// Remove implements System.
func (s *MemSystem) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Files, path)
	delete(s.Modes, path)
	return nil
}

// Exists implements System.
func (s *MemSystem) Exists(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Files[path]
	return ok, nil
}

// Mode implements System.
func (s *MemSystem) Mode(path string) (fs.FileMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode, ok := s.Modes[path]
	if !ok {
		return 0, fs.ErrNotExist
	}
	return mode, nil
}

// Chmod implements System.
func (s *MemSystem) Chmod(path string, mode fs.FileMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Files[path]; !ok {
		return fs.ErrNotExist
	}
	s.Modes[path] = mode
	return nil
}

// Glob implements System.
func (s *MemSystem) Glob(pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []string
	for path := range s.Files {
		ok, err := filepath.Match(pattern, path)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, path)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Walk implements System.
func (s *MemSystem) Walk(dir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var paths []string
	for path := range s.Files {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run implements System. It records the invocation and emulates the
// commands providers issue against a live host (currently semanage).
func (s *MemSystem) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
	s.Commands = append(s.Commands, cmdline)

	for prefix, err := range s.FailCommands {
		if strings.HasPrefix(cmdline, prefix) {
			return nil, err
		}
	}

	if name == "semanage" {
		return s.runSemanage(args)
	}
	return nil, nil
}

// runSemanage emulates the semanage login subcommands used by the SELinux
// login provider.
func (s *MemSystem) runSemanage(args []string) ([]byte, error) {
	if len(args) < 2 || args[0] != "login" {
		return nil, fmt.Errorf("unsupported semanage invocation: %v", args)
	}
	switch args[1] {
	case "-l":
		var sb strings.Builder
		logins := make([]string, 0, len(s.Logins))
		for login := range s.Logins {
			logins = append(logins, login)
		}
		sort.Strings(logins)
		for _, login := range logins {
			fmt.Fprintf(&sb, "%-20s %s\n", login, s.Logins[login])
		}
		return []byte(sb.String()), nil
	case "-a", "-m":
		// semanage login -a|-m -s <seuser> -r <range> <login>
		var seuser, serange, login string
		for i := 2; i < len(args); i++ {
			switch args[i] {
			case "-s":
				i++
				seuser = args[i]
			case "-r":
				i++
				serange = args[i]
			default:
				login = args[i]
			}
		}
		s.Logins[login] = seuser + " " + serange
		return nil, nil
	case "-d":
		delete(s.Logins, args[len(args)-1])
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported semanage login flag: %s", args[1])
	}
}

// LookPath implements System; every tool is present on the synthetic host.
func (s *MemSystem) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

// PackageVersion implements System.
func (s *MemSystem) PackageVersion(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Packages[name]
	return v, ok, nil
}

// CandidateVersion implements System.
func (s *MemSystem) CandidateVersion(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.Latest[name]
	if v == "" {
		v = "1.0"
	}
	return v, nil
}

// InstallPackage implements System.
func (s *MemSystem) InstallPackage(_ context.Context, name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version == "" {
		version = s.Latest[name]
		if version == "" {
			version = "1.0"
		}
	}
	s.Packages[name] = version
	return nil
}

// RemovePackage implements System.
func (s *MemSystem) RemovePackage(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Packages, name)
	return nil
}

// UpgradePackage implements System.
func (s *MemSystem) UpgradePackage(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.Latest[name]
	if v == "" {
		v = "1.0"
	}
	s.Packages[name] = v
	return nil
}

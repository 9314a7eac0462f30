// Package pathres decides where the analyzer reads and writes files.
// Development runs anchor everything to the working directory; a
// distributed binary anchors to the directory next to the executable.
// Components never inspect the environment themselves, they take a
// Resolver at startup.
package pathres

import (
	"os"
	"path/filepath"
)

// Resolver maps configured relative paths onto the filesystem.
type Resolver interface {
	// Resolve turns a possibly-relative configured path into an
	// absolute one. Absolute inputs pass through unchanged.
	Resolve(path string) string
	// ConfigDirs returns the directories searched for analyzer.json,
	// in priority order.
	ConfigDirs() []string
}

// Dev anchors paths to the current working directory.
type Dev struct{}

func (Dev) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(wd, path)
}

func (Dev) ConfigDirs() []string {
	dirs := []string{".", "config"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "upsc-analyzer"))
	}
	return dirs
}

// Portable anchors paths to the executable's directory, for runs of a
// distributed binary outside a checkout.
type Portable struct {
	base string
}

func (p Portable) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.base, path)
}

func (p Portable) ConfigDirs() []string {
	return []string{p.base, filepath.Join(p.base, "config")}
}

// Detect picks a resolver for this process. A run is treated as
// portable when UPSCQA_PORTABLE is set, or when an analyzer.json sits
// next to the executable and the working directory has none.
func Detect() Resolver {
	if os.Getenv("UPSCQA_PORTABLE") != "" {
		if exe, err := os.Executable(); err == nil {
			return Portable{base: filepath.Dir(exe)}
		}
	}
	if _, err := os.Stat("analyzer.json"); err == nil {
		return Dev{}
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		if _, err := os.Stat(filepath.Join(dir, "analyzer.json")); err == nil {
			return Portable{base: dir}
		}
	}
	return Dev{}
}

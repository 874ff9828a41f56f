// Package xdg resolves the default locations of evalcore's config file
// and local blob store.
package xdg

import (
	"os"
	"path/filepath"
)

const App = "evalcore"

// Dirs holds the XDG base directories the process runs with.
type Dirs struct {
	dataHome   string
	configHome string
	configDirs []string
}

// New reads the XDG variables, falling back to the defaults of the base
// directory specification.
func New() *Dirs {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
		if home == "" {
			home = "/tmp"
		}
	}

	d := &Dirs{
		dataHome:   os.Getenv("XDG_DATA_HOME"),
		configHome: os.Getenv("XDG_CONFIG_HOME"),
	}
	if d.dataHome == "" {
		d.dataHome = filepath.Join(home, ".local", "share")
	}
	if d.configHome == "" {
		d.configHome = filepath.Join(home, ".config")
	}

	if env := os.Getenv("XDG_CONFIG_DIRS"); env != "" {
		d.configDirs = filepath.SplitList(env)
	} else {
		d.configDirs = []string{"/etc/xdg"}
	}
	return d
}

// DataDir is where the local blob store and SQLite database live.
func (d *Dirs) DataDir() string {
	return filepath.Join(d.dataHome, App)
}

func (d *Dirs) ConfigDir() string {
	return filepath.Join(d.configHome, App)
}

// ConfigFile returns the first existing evalcore/config.toml in
// preference order, or "" when there is none.
func (d *Dirs) ConfigFile() string {
	for _, dir := range append([]string{d.configHome}, d.configDirs...) {
		p := filepath.Join(dir, App, "config.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// EnsureDir creates path if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

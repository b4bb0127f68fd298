// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"vidtty/pkg/ascii"
	"vidtty/pkg/log"
	"vidtty/pkg/video/vidtxt"

	"gopkg.in/yaml.v2"
)

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	FFmpegBin  string `yaml:"ffmpegBin"`
	FFprobeBin string `yaml:"ffprobeBin"`
	PlayerBin  string `yaml:"playerBin"`

	StateDir string `yaml:"stateDir"`
	LogLevel string `yaml:"logLevel"`

	// Glyph ramp ordered from dark to bright.
	Glyphs string `yaml:"glyphs"`

	// Disable the little-endian fps fallback.
	StrictByteOrder bool `yaml:"strictByteOrder"`

	// Encoded audio larger than this is spilled to a temporary
	// file during conversion. Zero selects a limit from free memory.
	AudioSpillBytes int64 `yaml:"audioSpillBytes"`

	// Record conversions in the catalog.
	Catalog bool `yaml:"catalog"`

	ConfigPath string `yaml:"-"`
}

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrNegativeSpill   = errors.New("audioSpillBytes must not be negative")
)

// LookPathFunc is used for mocking.
type LookPathFunc func(string) (string, error)

// NewConfigEnv return new environment configuration.
// Binaries that are not set are looked up in PATH, a binary that
// cannot be found is reported by RequireBin when it's needed.
func NewConfigEnv(envPath string, envYAML []byte, lookPath LookPathFunc) (*ConfigEnv, error) {
	env := ConfigEnv{Catalog: true}

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal %v: %w", filepath.Base(envPath), err)
	}
	env.ConfigPath = envPath

	resolve := func(bin *string, name string) {
		if *bin != "" {
			return
		}
		*bin = name
		if p, err := lookPath(name); err == nil {
			*bin = p
		}
	}
	resolve(&env.FFmpegBin, "ffmpeg")
	resolve(&env.FFprobeBin, "ffprobe")
	resolve(&env.PlayerBin, "ffplay")

	if env.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, err
		}
		env.StateDir = dir
	}
	if !filepath.IsAbs(env.StateDir) {
		return nil, fmt.Errorf("stateDir '%v': %w", env.StateDir, ErrPathNotAbsolute)
	}

	if _, err := log.ParseLevel(env.LogLevel); err != nil {
		return nil, fmt.Errorf("logLevel: %w", err)
	}
	if _, err := ascii.NewConverter(env.Glyphs); err != nil {
		return nil, fmt.Errorf("glyphs: %w", err)
	}
	if env.AudioSpillBytes < 0 {
		return nil, ErrNegativeSpill
	}

	return &env, nil
}

// LoadConfigEnv reads the configuration file at envPath.
// A missing file returns the default configuration.
func LoadConfigEnv(envPath string) (*ConfigEnv, error) {
	envYAML, err := os.ReadFile(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return NewConfigEnv(envPath, envYAML, exec.LookPath)
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/vidtty/vidtty.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(dir, "vidtty", "vidtty.yaml"), nil
}

func defaultStateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); filepath.IsAbs(dir) {
		return filepath.Join(dir, "vidtty"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("state dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "vidtty"), nil
}

// ByteOrderPolicy returns the fps byte order policy.
func (env ConfigEnv) ByteOrderPolicy() vidtxt.ByteOrderPolicy {
	if env.StrictByteOrder {
		return vidtxt.StrictByteOrder
	}
	return vidtxt.LegacyByteOrder
}

// Level returns the configured log level.
func (env ConfigEnv) Level() log.Level {
	level, _ := log.ParseLevel(env.LogLevel)
	return level
}

// CatalogPath location of the conversion catalog.
func (env ConfigEnv) CatalogPath() string {
	return filepath.Join(env.StateDir, "catalog.db")
}

// PrepareEnvironment creates the state directory.
func (env ConfigEnv) PrepareEnvironment() error {
	if err := os.MkdirAll(env.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return nil
}

// ErrBinNotFound binary not found.
var ErrBinNotFound = errors.New("executable not found, make sure it's installed and in PATH")

// RequireBin returns an error if bin cannot be executed.
func RequireBin(bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%v: %w", bin, ErrBinNotFound)
	}
	return nil
}

// ExistFunc is used for mocking.
type ExistFunc func(string) bool

// OutputPath returns a free output path for a conversion of src.
// Local sources are written next to the source, network sources to dir.
// If the name is taken <stem>.1.vidtxt, <stem>.2.vidtxt ... is tried.
func OutputPath(dir string, src string, exist ExistFunc) string {
	var stem string
	if u, err := url.Parse(src); err == nil && strings.Contains(src, "://") {
		base := path.Base(strings.TrimRight(u.Path, "/"))
		base, _, _ = strings.Cut(base, ".")
		if base == "" || base == "/" {
			base = "stream"
		}
		stem = filepath.Join(dir, base)
	} else {
		stem = strings.TrimSuffix(src, filepath.Ext(src))
	}

	name := stem + vidtxt.Ext
	for i := 1; exist(name); i++ {
		name = stem + "." + strconv.Itoa(i) + vidtxt.Ext
	}
	return name
}

// FileExist reports whether a file exists at path.
func FileExist(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// Package config loads sequential.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/sequential/catalog"
)

const (
	projectConfigName = "sequential.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".sequential"
	defaultDBName     = "sequential.db"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// File is the on-disk config shape.
type File struct {
	Server    Server               `yaml:"server"`
	Storage   Storage              `yaml:"storage"`
	Telemetry Telemetry            `yaml:"telemetry"`
	Sequences []catalog.Definition `yaml:"sequences"`
}

// Server holds HTTP listener settings.
type Server struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	CORSOrigin   string `yaml:"cors_origin"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// Storage selects where sequence state lives and when it is written.
type Storage struct {
	Driver        string              `yaml:"driver"`
	Path          string              `yaml:"path"`
	Mode          catalog.PersistMode `yaml:"mode"`
	FlushSchedule string              `yaml:"flush_schedule"`
}

// Telemetry configures OpenTelemetry export. An empty endpoint disables it.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

// Default returns the config used when no file is found.
func Default() File {
	return File{
		Server: Server{
			Host:         "0.0.0.0",
			Port:         8080,
			CORSOrigin:   "*",
			MaxBodyBytes: 1 << 20,
		},
		Storage: Storage{
			Driver:        DriverSQLite,
			Mode:          catalog.PersistSync,
			FlushSchedule: catalog.DefaultFlushSchedule,
		},
		Telemetry: Telemetry{
			ServiceName: "sequential",
		},
	}
}

// DiscoverPath resolves the config location with first-match semantics.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads path over Default. An empty path returns the defaults.
// Relative storage paths resolve against the config file's directory.
func Load(path string) (File, error) {
	cfg := Default()
	clean := strings.TrimSpace(path)
	if clean == "" {
		return cfg, cfg.Validate()
	}

	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(clean)
	if err != nil {
		return File{}, fmt.Errorf("reading config %q: %w", clean, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("parsing config %q: %w", clean, err)
	}

	cfg.Storage.Path = expandEnvValue(cfg.Storage.Path)
	cfg.Telemetry.OTLPEndpoint = expandEnvValue(cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = expandEnvValue(cfg.Telemetry.ServiceName)
	if p := strings.TrimSpace(cfg.Storage.Path); p != "" && !strings.HasPrefix(strings.ToLower(p), "file:") {
		cfg.Storage.Path = resolveConfigRelative(filepath.Dir(clean), p)
	}
	if err := cfg.Validate(); err != nil {
		return File{}, fmt.Errorf("config %q: %w", clean, err)
	}
	return cfg, nil
}

// Validate checks field values and cross-field constraints.
func (f File) Validate() error {
	var errs []error
	if f.Server.Port < 0 || f.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", f.Server.Port))
	}
	switch f.Storage.Driver {
	case DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be %q or %q", f.Storage.Driver, DriverSQLite, DriverMemory))
	}
	switch f.Storage.Mode {
	case catalog.PersistSync:
	case catalog.PersistScheduled:
		if _, err := catalog.ParseFlushSchedule(f.Storage.FlushSchedule); err != nil {
			errs = append(errs, fmt.Errorf("storage.flush_schedule: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.mode %q must be %q or %q", f.Storage.Mode, catalog.PersistSync, catalog.PersistScheduled))
	}

	seen := make(map[string]bool, len(f.Sequences))
	for i, def := range f.Sequences {
		if def.Name == "" {
			errs = append(errs, fmt.Errorf("sequences[%d]: name is required", i))
			continue
		}
		if seen[def.Name] {
			errs = append(errs, fmt.Errorf("sequences[%d]: duplicate name %q", i, def.Name))
		}
		seen[def.Name] = true
	}
	return errors.Join(errs...)
}

// SQLitePath returns the configured database path, or
// ~/.sequential/sequential.db when unset.
func (f File) SQLitePath() (string, error) {
	if p := strings.TrimSpace(f.Storage.Path); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	dir := filepath.Join(homeDir, homeConfigDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, defaultDBName), nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvValue replaces ${NAME} references. A bare $ is left as is.
func expandEnvValue(value string) string {
	return envRefPattern.ReplaceAllStringFunc(value, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func resolveConfigRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}

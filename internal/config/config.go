// Package config loads and persists ambient runtime settings for the
// supervibing backend: the default pane shell, the automation bridge's bind
// address and bearer token, and the structured-logging level.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
)

// defaultConfigDirFn is a test seam through which a test can simulate
// directory-resolution failures in validateConfigPath.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir

// Config is the supervibing backend's persisted runtime configuration.
type Config struct {
	// Shell overrides the default pane shell. Empty means resolve from the
	// OS environment at spawn time (see internal/panes).
	Shell string `yaml:"shell,omitempty" json:"shell,omitempty"`
	// AutomationBind is the automation bridge's preferred loopback bind
	// address, e.g. "127.0.0.1:47631". Empty uses the built-in default.
	AutomationBind string `yaml:"automation_bind,omitempty" json:"automation_bind,omitempty"`
	// AutomationToken is the bearer token required on every automation
	// bridge request. Empty disables authorization.
	AutomationToken string `yaml:"automation_token,omitempty" json:"automation_token,omitempty"`
	// LogLevel controls the slog handler level: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`
	// JobRetentionCap bounds how many terminal-state automation jobs are kept
	// before pruning. 0 means "use the built-in default" (500).
	JobRetentionCap int `yaml:"job_retention_cap" json:"job_retention_cap"`
	// QueueDepthCap bounds how many automation jobs may wait in the queue
	// (accepted but not yet picked up by the worker) at once. 0 means "use the
	// built-in default" (200).
	QueueDepthCap int `yaml:"queue_depth_cap" json:"queue_depth_cap"`
}

// allowedShells is the set of permitted shell executables (matched by base
// name, case-insensitive). Additions require security review to prevent
// arbitrary command execution.
var allowedShells = map[string]struct{}{
	"bash":           {},
	"zsh":            {},
	"sh":             {},
	"fish":           {},
	"powershell.exe": {},
	"pwsh.exe":       {},
	"cmd.exe":        {},
	"bash.exe":       {},
	"wsl.exe":        {},
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		LogLevel:        "info",
		JobRetentionCap: 500,
		QueueDepthCap:   200,
	}
}

// DefaultPath resolves the config file path, preferring LOCALAPPDATA over
// APPDATA, falling back to ~/.config when both are unset, and then to
// os.TempDir() if the home directory cannot be resolved.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	if base == "" {
		base = strings.TrimSpace(os.Getenv("APPDATA"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "supervibing", "config.yaml")
}

// Load reads the config file. If the file does not exist, defaults are
// returned. The configured shell, if any, is validated against an allowlist.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnsureFile writes default config if missing and returns the loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// AllowedShellList returns the permitted shell executable names for
// diagnostics, sorted alphabetically for consistent ordering.
func AllowedShellList() []string {
	shells := make([]string, 0, len(allowedShells))
	for s := range allowedShells {
		shells = append(shells, s)
	}
	sort.Strings(shells)
	return shells
}

// Clone returns a copy of cfg. Config currently holds only value fields, so
// this is a plain struct copy; kept as a named function because callers
// share config snapshots across goroutines and a named Clone documents that
// intent even when the implementation is trivial.
func Clone(src Config) Config {
	return src
}

// Save validates cfg, fills defaults, and atomically writes it to path.
// Returns the normalized config that was actually written to disk.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

// atomicWrite writes config data using temp-file + rename to avoid partial
// writes and retries rename on Windows to tolerate transient file locks.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and enforces that config writes stay
// inside the default config directory when that directory is resolvable.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}

	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
// It also rejects Windows cross-drive escapes because filepath.Rel returns
// an absolute path when roots differ.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

// applyDefaultsAndValidate fills missing defaults and validates cfg in-place.
// MUTATES: cfg is directly modified. Used by both Load and Save to ensure
// consistent normalization.
func applyDefaultsAndValidate(cfg *Config) error {
	defaults := DefaultConfig()
	if isZeroConfig(*cfg) {
		*cfg = defaults
		return nil
	}

	if cfg.Shell != "" {
		if err := validateShell(cfg.Shell); err != nil {
			return err
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if !isValidLogLevel(cfg.LogLevel) {
		slog.Warn("[WARN-CONFIG] invalid log_level, falling back to default", "configured", cfg.LogLevel, "default", defaults.LogLevel)
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.JobRetentionCap <= 0 {
		cfg.JobRetentionCap = defaults.JobRetentionCap
	}
	if cfg.QueueDepthCap <= 0 {
		cfg.QueueDepthCap = defaults.QueueDepthCap
	}
	if err := validateAutomationBind(cfg.AutomationBind); err != nil {
		return err
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// validateAutomationBind rejects any configured bind host that is not
// loopback, mirroring the bridge's own startup check (see
// internal/automation) so misconfiguration is caught as early as possible.
func validateAutomationBind(bind string) error {
	if bind == "" {
		return nil
	}
	host, err := splitHostLoose(bind)
	if err != nil {
		return fmt.Errorf("automation_bind: %w", err)
	}
	if host != "127.0.0.1" && host != "localhost" {
		return fmt.Errorf("automation_bind: host must be loopback (127.0.0.1 or localhost), got %q", host)
	}
	return nil
}

func splitHostLoose(addr string) (host string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", fmt.Errorf("address %q must include a port", addr)
	}
	return addr[:idx], nil
}

// validateShell ensures the configured shell is safe for process creation.
// It rejects null bytes, verifies the base name against allowedShells,
// confirms absolute paths exist on disk, and rejects relative paths that
// could resolve to unintended executables.
func validateShell(shell string) error {
	shell = strings.TrimSpace(shell)
	if shell == "" {
		return errors.New("shell is required")
	}
	if strings.ContainsRune(shell, '\x00') {
		return errors.New("shell contains invalid null byte")
	}

	baseName := strings.ToLower(filepath.Base(shell))
	if _, ok := allowedShells[baseName]; !ok {
		return fmt.Errorf("shell %q is not in the allowlist", shell)
	}

	if filepath.IsAbs(shell) {
		info, err := os.Stat(shell)
		if err != nil {
			return fmt.Errorf("shell path does not exist: %w", err)
		}
		if info.IsDir() {
			return errors.New("shell path cannot be a directory")
		}
		return nil
	}

	if strings.Contains(shell, `\`) || strings.Contains(shell, "/") {
		return errors.New("shell must be executable name or absolute path")
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func isZeroConfig(cfg Config) bool {
	return reflect.DeepEqual(cfg, Config{})
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}

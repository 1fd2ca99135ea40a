package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultAddr           = ":8000"
	DefaultUsername       = "admin"
	DefaultPassword       = "changeme"
	DefaultSecret         = "please-change-this"
	DefaultTokenMaxAge    = 24 * time.Hour
	DefaultLivenessWindow = 15 * time.Second
	DefaultLogLevel       = "info"
)

// DefaultDevices is the allow-list used when none is configured.
var DefaultDevices = []string{"esp1", "esp2"}

// Environment variables read by Load. They override file values.
const (
	EnvUser           = "WEB_USER"
	EnvPass           = "WEB_PASS"
	EnvPassHash       = "WEB_PASS_HASH"
	EnvSecret         = "SECRET_KEY"
	EnvDeviceKey      = "DEVICE_KEY"
	EnvDevices        = "DEVICES"
	EnvAddr           = "LISTEN_ADDR"
	EnvTokenMaxAge    = "TOKEN_MAX_AGE"
	EnvLivenessWindow = "LIVENESS_WINDOW"
	EnvPersistence    = "PERSISTENCE"
	EnvStateFile      = "STATE_FILE"
	EnvLogLevel       = "LOG_LEVEL"
	EnvStaticDir      = "STATIC_DIR"
	EnvCookieSecure   = "COOKIE_SECURE"
	EnvTrustProxy     = "TRUST_PROXY"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr: DefaultAddr,
		},
		Operator: Operator{
			Username: DefaultUsername,
			Password: DefaultPassword,
		},
		Session: Session{
			Secret: DefaultSecret,
			MaxAge: Duration(DefaultTokenMaxAge),
		},
		Devices: Devices{
			IDs:            append([]string(nil), DefaultDevices...),
			LivenessWindow: Duration(DefaultLivenessWindow),
		},
		Persistence: Persistence{
			Backend: PersistenceMemory,
		},
		LogLevel: DefaultLogLevel,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Source tells Load where to read configuration from.
type Source struct {
	// File is an optional esprelay.yaml or esprelay.toml. A missing file
	// yields defaults.
	File string
	// EnvFile is an optional KEY=VALUE file; real environment wins over it.
	EnvFile string
	// Lookup reads the process environment. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load builds a Config from defaults, the config file, the env file and the
// environment, in increasing order of precedence, then validates it.
func Load(src Source) (*Config, error) {
	cfg := DefaultConfig()

	if src.File != "" {
		if err := decodeFile(src.File, &cfg); err != nil {
			return nil, err
		}
	}

	fileEnv, err := LoadEnvFile(src.EnvFile)
	if err != nil {
		return nil, err
	}

	lookup := src.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}

	if err := applyEnv(&cfg, env); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// decodeFile reads a yaml or toml file into cfg, keeping defaults for
// fields the file omits.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config, env func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	// Secrets are taken byte for byte.
	secret := func(key string, dst *string) {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := env(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			return ValidationError{Field: key, Message: "must be a boolean"}
		}
		return nil
	}
	dur := func(key string, dst *Duration) error {
		v, ok := env(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		if err := dst.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
			return ValidationError{Field: key, Message: "must be a duration such as 15s or 24h"}
		}
		return nil
	}

	str(EnvAddr, &cfg.Server.Addr)
	str(EnvStaticDir, &cfg.Server.StaticDir)
	str(EnvUser, &cfg.Operator.Username)
	secret(EnvPass, &cfg.Operator.Password)
	str(EnvPassHash, &cfg.Operator.PasswordHash)
	secret(EnvSecret, &cfg.Session.Secret)
	secret(EnvDeviceKey, &cfg.Devices.Key)
	str(EnvPersistence, &cfg.Persistence.Backend)
	str(EnvStateFile, &cfg.Persistence.StateFile)
	str(EnvLogLevel, &cfg.LogLevel)

	if v, ok := env(EnvDevices); ok && strings.TrimSpace(v) != "" {
		cfg.Devices.IDs = splitList(v)
	}
	if err := boolean(EnvCookieSecure, &cfg.Session.Secure); err != nil {
		return err
	}
	if err := boolean(EnvTrustProxy, &cfg.Server.TrustProxy); err != nil {
		return err
	}

	if err := dur(EnvTokenMaxAge, &cfg.Session.MaxAge); err != nil {
		return err
	}
	return dur(EnvLivenessWindow, &cfg.Devices.LivenessWindow)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Operator.Username) == "" {
		return ValidationError{Field: "operator.username", Message: "required field is empty"}
	}
	if cfg.Operator.Password == "" && cfg.Operator.PasswordHash == "" {
		return ValidationError{Field: "operator.password", Message: "password or password_hash is required"}
	}
	if cfg.Session.Secret == "" {
		return ValidationError{Field: "session.secret", Message: "required field is empty"}
	}
	if cfg.Session.MaxAge < 0 {
		return ValidationError{Field: "session.max_age", Message: "must not be negative"}
	}
	if len(cfg.Devices.IDs) == 0 {
		return ValidationError{Field: "devices.ids", Message: "at least one device is required"}
	}
	seen := make(map[string]bool, len(cfg.Devices.IDs))
	for _, id := range cfg.Devices.IDs {
		if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/ \t") {
			return ValidationError{Field: "devices.ids", Message: fmt.Sprintf("invalid device id %q", id)}
		}
		if seen[id] {
			return ValidationError{Field: "devices.ids", Message: fmt.Sprintf("duplicate device id %q", id)}
		}
		seen[id] = true
	}
	if cfg.Devices.LivenessWindow <= 0 {
		return ValidationError{Field: "devices.liveness_window", Message: "must be positive"}
	}

	switch cfg.Persistence.Backend {
	case PersistenceMemory:
	case PersistenceFile:
		if cfg.Persistence.StateFile == "" {
			return ValidationError{Field: "persistence.state_file", Message: "required when backend is file"}
		}
	default:
		return ValidationError{Field: "persistence.backend", Message: fmt.Sprintf("must be %q or %q", PersistenceMemory, PersistenceFile)}
	}

	return nil
}

// UsesDefaultCredentials reports whether the operator password or signing
// secret were left at their shipped defaults.
func (c *Config) UsesDefaultCredentials() bool {
	if c.Session.Secret == DefaultSecret {
		return true
	}
	return c.Operator.PasswordHash == "" && c.Operator.Password == DefaultPassword
}

// LoadEnvFile parses a .env file into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// An empty path or a missing file yields an empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	env := make(map[string]string)
	if path == "" {
		return env, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		idx := strings.Index(line, "=")
		if idx == -1 {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// Strip surrounding quotes (single or double)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}

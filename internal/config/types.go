package config

import "time"

// Persistence backends for relay state.
const (
	PersistenceMemory = "memory"
	PersistenceFile   = "file"
)

// Operator is the single account allowed to drive devices from the console.
type Operator struct {
	Username string `yaml:"username" toml:"username"`
	// Password is compared in constant time. Ignored when PasswordHash is set.
	Password string `yaml:"password" toml:"password"`
	// PasswordHash is an argon2id hash produced by `esprelay hash-password`.
	PasswordHash string `yaml:"password_hash" toml:"password_hash"`
}

// Session controls the signed cookie issued at login.
type Session struct {
	Secret string `yaml:"secret" toml:"secret"`
	// MaxAge is the token validity window. Zero disables the expiry check.
	MaxAge Duration `yaml:"max_age" toml:"max_age"`
	// Secure marks the cookie Secure; set it when a TLS proxy fronts the relay.
	Secure bool `yaml:"secure" toml:"secure"`
}

// Devices describes the fixed set of devices and how they are trusted.
type Devices struct {
	IDs []string `yaml:"ids" toml:"ids"`
	// Key, when set, must be sent by devices in the X-Device-Key header.
	Key            string   `yaml:"key" toml:"key"`
	LivenessWindow Duration `yaml:"liveness_window" toml:"liveness_window"`
}

// Persistence selects where relay state lives.
type Persistence struct {
	Backend   string `yaml:"backend" toml:"backend"`
	StateFile string `yaml:"state_file" toml:"state_file"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	StaticDir string `yaml:"static_dir" toml:"static_dir"`
	// TrustProxy takes client IPs from X-Forwarded-For and X-Real-IP. Only
	// enable it when a reverse proxy in front of the relay sets them.
	TrustProxy bool `yaml:"trust_proxy" toml:"trust_proxy"`
}

// Config represents esprelay.yaml (or esprelay.toml) after environment overrides.
type Config struct {
	Server      ServerConfig `yaml:"server" toml:"server"`
	Operator    Operator     `yaml:"operator" toml:"operator"`
	Session     Session      `yaml:"session" toml:"session"`
	Devices     Devices      `yaml:"devices" toml:"devices"`
	Persistence Persistence  `yaml:"persistence" toml:"persistence"`
	LogLevel    string       `yaml:"log_level" toml:"log_level"`
}

// Duration is a time.Duration that reads "15s" or "24h" from config files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText implements encoding.TextUnmarshaler, used by both the yaml
// and toml decoders.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

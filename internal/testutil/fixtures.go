package testutil

import (
	"time"

	"github.com/thruflo/esprelay/internal/config"
)

// Operator credentials used by TestConfig.
const (
	TestUsername  = "admin"
	TestPassword  = "test-password-123"
	TestSecret    = "test-signing-secret"
	TestDeviceKey = "test-device-key"
)

// Devices is the allow-list used by TestConfig.
var Devices = []string{"esp1", "esp2"}

// TestConfig returns a valid in-memory configuration with known credentials.
// The device key is left empty; tests that need it set Devices.Key.
func TestConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Operator.Username = TestUsername
	cfg.Operator.Password = TestPassword
	cfg.Session.Secret = TestSecret
	cfg.Session.MaxAge = config.Duration(24 * time.Hour)
	cfg.Devices.IDs = append([]string(nil), Devices...)
	cfg.Devices.LivenessWindow = config.Duration(15 * time.Second)
	return cfg
}

// Package testutil provides shared test helpers for esprelay.
//
// # Clock
//
// Clock is a manually advanced time source. The token codec, the relay
// service and the server all accept a func() time.Time, so tests pass
// clock.Now and move time with Advance instead of sleeping:
//
//	clock := testutil.NewClock(testutil.Epoch)
//	codec, _ := auth.NewCodec("secret", auth.WithClock(clock.Now))
//	clock.Advance(24 * time.Hour)
//
// # Fixtures
//
//   - Epoch - a fixed, second-aligned start time
//   - TestConfig() - a valid config.Config with known operator credentials
//   - Devices - the allow-list used by TestConfig
//
// # Timeouts
//
//   - ContextWithTestDeadline(t, fallback) - respects the go test deadline
//   - ShortOperationContext(t) - 30 second budget for server start/stop
package testutil

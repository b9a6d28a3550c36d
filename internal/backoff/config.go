package backoff

import "time"

// Kind classifies a failure for backoff purposes. Each kind carries its
// own delay schedule and retry budget.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindWSConnection   Kind = "websocket_connection"
	KindWSMessage      Kind = "websocket_message"
	KindGeneral        Kind = "general"
)

// Kinds lists every failure kind.
var Kinds = []Kind{
	KindNetwork,
	KindAuthentication,
	KindRateLimit,
	KindWSConnection,
	KindWSMessage,
	KindGeneral,
}

// Config governs the delay schedule for one failure kind.
type Config struct {
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	Multiplier         float64
	JitterFraction     float64 // ± fraction of the base delay
	DegradedMultiplier float64 // applied when the network probe is degraded/offline
	MaxAttempts        int
}

// DefaultConfigs returns the per-kind default schedules.
// Authentication exhausts faster than transport failures; rate limits
// back off harder and longer.
func DefaultConfigs() map[Kind]Config {
	return map[Kind]Config{
		KindNetwork: {
			InitialDelay:       1 * time.Second,
			MaxDelay:           60 * time.Second,
			Multiplier:         2.0,
			JitterFraction:     0.1,
			DegradedMultiplier: 1.5,
			MaxAttempts:        10,
		},
		KindAuthentication: {
			InitialDelay:       2 * time.Second,
			MaxDelay:           120 * time.Second,
			Multiplier:         2.0,
			JitterFraction:     0.1,
			DegradedMultiplier: 1.5,
			MaxAttempts:        5,
		},
		KindRateLimit: {
			InitialDelay:       5 * time.Second,
			MaxDelay:           300 * time.Second,
			Multiplier:         2.0,
			JitterFraction:     0.2,
			DegradedMultiplier: 1.0,
			MaxAttempts:        8,
		},
		KindWSConnection: {
			InitialDelay:       1 * time.Second,
			MaxDelay:           60 * time.Second,
			Multiplier:         2.0,
			JitterFraction:     0.1,
			DegradedMultiplier: 1.5,
			MaxAttempts:        10,
		},
		KindWSMessage: {
			InitialDelay:       500 * time.Millisecond,
			MaxDelay:           30 * time.Second,
			Multiplier:         2.0,
			JitterFraction:     0.1,
			DegradedMultiplier: 1.5,
			MaxAttempts:        15,
		},
		KindGeneral: {
			InitialDelay:       1 * time.Second,
			MaxDelay:           60 * time.Second,
			Multiplier:         2.0,
			JitterFraction:     0.1,
			DegradedMultiplier: 1.5,
			MaxAttempts:        10,
		},
	}
}

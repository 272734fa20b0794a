package deployment

import "time"

// Config holds the tunables spec.md §5 lists as "Configuration (defaults,
// all tunable)". cmd/factoryd wires these from environment variables the
// same way the teacher's main.go parses its own server knobs.
type Config struct {
	PendingTTL        time.Duration
	DeploymentTTL     time.Duration
	StuckTTL          time.Duration
	MaxInstallAttempts int
	RetryBaseSecs     int64
	RetryCapSecs      int64
}

// DefaultConfig matches spec.md §5's published defaults.
func DefaultConfig() Config {
	return Config{
		PendingTTL:         time.Hour,
		DeploymentTTL:      24 * time.Hour,
		StuckTTL:           15 * time.Minute,
		MaxInstallAttempts: 3,
		RetryBaseSecs:      60,
		RetryCapSecs:       3600,
	}
}

package config

import "time"

// BuiltinDefaults returns the built-in Settings document the loader
// starts from before merging in the user's settings file. It is
// intentionally conservative: small concurrency limits, a short
// trigger budget, and a state directory (./meshrun-state) relative to
// the process's working directory.
func BuiltinDefaults() *Settings {
	return &Settings{
		Defaults: Defaults{
			StateDir:              "./meshrun-state",
			MaxConcurrentClusters: 4,
			MaxConcurrentAgents:   8,
			TriggerBudget:         1000 * time.Millisecond,
			StaleAfter:            10 * time.Minute,
			RetentionPeriod:       7 * 24 * time.Hour,
		},
		Templates: map[string]ClusterTemplate{},
	}
}

package limiter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profilesFile is the on-disk shape of a profile table:
//
//	services:
//	  email:
//	    capacity: 100
//	    refill_per_minute: 200
type profilesFile struct {
	Services map[string]Profile `yaml:"services"`
}

// LoadProfiles reads a YAML profile table and validates it. Each profile
// must have positive capacity and refill rate; a zero or negative field is a
// configuration error, not a "no limit" marker (omit the service entirely
// for that).
func LoadProfiles(path string) (map[string]Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var f profilesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if err := ValidateProfiles(f.Services); err != nil {
		return nil, err
	}
	return f.Services, nil
}

// ValidateProfiles rejects profiles with non-positive capacity or refill
// rate.
func ValidateProfiles(profiles map[string]Profile) error {
	for name, p := range profiles {
		if p.Capacity <= 0 {
			return fmt.Errorf("profile %q: capacity must be > 0, got %d", name, p.Capacity)
		}
		if p.RefillPerMinute <= 0 {
			return fmt.Errorf("profile %q: refill_per_minute must be > 0, got %d", name, p.RefillPerMinute)
		}
	}
	return nil
}

// DefaultProfiles returns the built-in limits for the external services the
// system calls, used when no profile file is supplied.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"email":    {Capacity: 100, RefillPerMinute: 200},
		"crm":      {Capacity: 50, RefillPerMinute: 100},
		"ai":       {Capacity: 20, RefillPerMinute: 60},
		"storage":  {Capacity: 200, RefillPerMinute: 600},
		"calendar": {Capacity: 30, RefillPerMinute: 60},
	}
}

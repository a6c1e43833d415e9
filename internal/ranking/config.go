package ranking

import "time"

// Config weighs the four re-ranking components. The weights are used as given.
type Config struct {
	BaseWeight     float64 `yaml:"base_weight"`     // default: 0.4
	OverlapWeight  float64 `yaml:"overlap_weight"`  // default: 0.3
	RecencyWeight  float64 `yaml:"recency_weight"`  // default: 0.2
	CategoryWeight float64 `yaml:"category_weight"` // default: 0.1

	// RecencyHalfLife is the age at which the recency signal falls to 0.5.
	RecencyHalfLife time.Duration `yaml:"recency_half_life"` // default: 7 days
}

// DefaultConfig returns the default re-ranking configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseWeight:      0.4,
		OverlapWeight:   0.3,
		RecencyWeight:   0.2,
		CategoryWeight:  0.1,
		RecencyHalfLife: 7 * 24 * time.Hour,
	}
}

// ApplyDefaults fills zero weights and a non-positive half-life from DefaultConfig. Setting
// every weight to zero is treated as unset.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.BaseWeight == 0 && c.OverlapWeight == 0 && c.RecencyWeight == 0 && c.CategoryWeight == 0 {
		c.BaseWeight = d.BaseWeight
		c.OverlapWeight = d.OverlapWeight
		c.RecencyWeight = d.RecencyWeight
		c.CategoryWeight = d.CategoryWeight
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = d.RecencyHalfLife
	}
}

// HalfLifeHours converts a configured number of hours into a duration. Non-positive values
// yield zero, which ApplyDefaults replaces.
func HalfLifeHours(hours float64) time.Duration {
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours * float64(time.Hour))
}

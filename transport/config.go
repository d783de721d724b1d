package transport

import "time"

// Config carries the transport engine's timing overrides and defaults.
// Zero-valued fields are replaced by DefaultConfig's values.
type Config struct {
	RetryInterval     time.Duration
	MaxRetries        int
	RecvReadTimeout   time.Duration
	SendPollTimeout   time.Duration
	RecvTTL           time.Duration
	ProbeModule       string
	ProbeNodeID       uint32
}

// DefaultConfig returns the source's default timing constants (§6).
func DefaultConfig() Config {
	return Config{
		RetryInterval:   time.Second,
		MaxRetries:      3,
		RecvReadTimeout: 100 * time.Millisecond,
		SendPollTimeout: 500 * time.Millisecond,
		RecvTTL:         30 * time.Second,
		ProbeModule:     "node",
		ProbeNodeID:     0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RecvReadTimeout <= 0 {
		c.RecvReadTimeout = d.RecvReadTimeout
	}
	if c.SendPollTimeout <= 0 {
		c.SendPollTimeout = d.SendPollTimeout
	}
	if c.RecvTTL <= 0 {
		c.RecvTTL = d.RecvTTL
	}
	if c.ProbeModule == "" {
		c.ProbeModule = d.ProbeModule
	}
	return c
}

package model

import (
	"math"
	"time"
)

const (
	DefaultProbeTimeout     = 5 * time.Second
	DefaultProbeMaxAttempts = 10
	DefaultProbeDelay       = 500 * time.Millisecond
	DefaultProbeMultiplier  = 2.0
	DefaultProbeMaxDelay    = 15 * time.Second
)

// HealthProbe confirms a service is serving traffic. URL is either http(s):// or tcp://host:port.
type HealthProbe struct {
	Name     string
	URL      string
	Expect   []int
	Timeout  time.Duration
	Retry    RetryPolicy
	JsonPath string
	Equals   string
}

func (p *HealthProbe) Expects(status int) bool {
	for _, s := range p.Expect {
		if s == status {
			return true
		}
	}
	return false
}

type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultProbeMaxAttempts,
		InitialDelay: DefaultProbeDelay,
		Multiplier:   DefaultProbeMultiplier,
		MaxDelay:     DefaultProbeMaxDelay,
	}
}

// Delay returns the wait before attempt N (1-based). The first attempt never waits.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.InitialDelay <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-2))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

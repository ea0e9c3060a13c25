// Package service implements the lead hopper: allocation, reclamation,
// disposition handling, the agent registry and operator stats.
package service

import (
	"fmt"
	"time"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/platform/config"
)

// Options carries the tunables shared by the hopper services.
type Options struct {
	Reclaim          domain.ReclaimPolicy
	Selection        domain.SelectionPolicy
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	ReclaimBatchSize int
	DefaultCapacity  int
	PhoneRegion      string
}

// DefaultOptions matches the documented defaults.
func DefaultOptions() Options {
	return Options{
		Reclaim: domain.ReclaimPolicy{
			IdleThreshold:    domain.DefaultIdleThreshold,
			MaxHoldThreshold: domain.DefaultMaxHoldThreshold,
		},
		Selection:        domain.PolicyDeprioritize,
		RetryAttempts:    3,
		RetryBaseDelay:   25 * time.Millisecond,
		ReclaimBatchSize: 500,
		DefaultCapacity:  20,
		PhoneRegion:      "US",
	}
}

// OptionsFromConfig builds Options from the hopper section of the config.
func OptionsFromConfig(cfg config.HopperConfig) (Options, error) {
	selection, err := domain.ParseSelectionPolicy(cfg.GetRecyclePolicy())
	if err != nil {
		return Options{}, fmt.Errorf("hopper options: %w", err)
	}

	opts := DefaultOptions()
	opts.Reclaim = domain.ReclaimPolicy{
		IdleThreshold:    cfg.GetIdleThreshold(),
		MaxHoldThreshold: cfg.GetMaxHoldThreshold(),
	}
	opts.Selection = selection
	opts.RetryAttempts = cfg.GetRetryAttempts()
	opts.ReclaimBatchSize = cfg.GetReclaimBatchSize()
	opts.DefaultCapacity = cfg.GetDefaultCapacity()
	if region := cfg.GetPhoneRegion(); region != "" {
		opts.PhoneRegion = region
	}
	return opts, nil
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

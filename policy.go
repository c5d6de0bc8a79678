package convdispatch

import (
	"fmt"
	"sort"
	"time"
)

const (
	mebibyte = int64(1) << 20

	// DefaultSizeThreshold is the largest job size, in bytes, routed to the light lane.
	DefaultSizeThreshold = 500 * mebibyte

	defaultHeavyBaseDelay = 2 * time.Second
)

// LanePolicy is the execution policy applied to every job in a lane.
type LanePolicy struct {
	// DefaultPriority is used when the job carries no caller priority.
	DefaultPriority int
	// Attempts is the number of delivery attempts the backend makes.
	Attempts int
	// BackoffDelay is the base delay of the exponential retry backoff.
	BackoffDelay time.Duration
	// KeepCompleted caps the completed-job history kept by the backend.
	KeepCompleted int
	// KeepFailed caps the failed-job history kept by the backend.
	KeepFailed int
}

// DelayTier delays heavy jobs strictly larger than Above bytes by Delay.
type DelayTier struct {
	Above int64
	Delay time.Duration
}

// RouterConfig defines lane classification and per-lane policy.
type RouterConfig struct {
	// Threshold splits jobs: size <= Threshold is light, larger is heavy.
	Threshold int64
	Light     LanePolicy
	Heavy     LanePolicy
	// DelayTiers staggers heavy jobs by size. The largest matching tier wins.
	DelayTiers []DelayTier
	// BaseDelay applies to heavy jobs below every tier.
	BaseDelay time.Duration
}

// DefaultLightPolicy returns the light lane defaults.
func DefaultLightPolicy() LanePolicy {
	return LanePolicy{
		Attempts:      3,
		BackoffDelay:  2 * time.Second,
		KeepCompleted: 100,
		KeepFailed:    50,
	}
}

// DefaultHeavyPolicy returns the heavy lane defaults.
func DefaultHeavyPolicy() LanePolicy {
	return LanePolicy{
		Attempts:      2,
		BackoffDelay:  5 * time.Second,
		KeepCompleted: 50,
		KeepFailed:    25,
	}
}

// DefaultDelayTiers returns the default heavy-lane scheduling delays.
func DefaultDelayTiers() []DelayTier {
	return []DelayTier{
		{Above: 500 * mebibyte, Delay: 60 * time.Second},
		{Above: 200 * mebibyte, Delay: 30 * time.Second},
		{Above: 50 * mebibyte, Delay: 10 * time.Second},
	}
}

// DefaultRouterConfig returns the canonical routing policy.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Threshold:  DefaultSizeThreshold,
		Light:      DefaultLightPolicy(),
		Heavy:      DefaultHeavyPolicy(),
		DelayTiers: DefaultDelayTiers(),
		BaseDelay:  defaultHeavyBaseDelay,
	}
}

// Validate checks the policy for values the router cannot apply.
func (c RouterConfig) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be non-negative", ErrInvalidPolicy)
	}
	if err := validateLane(LaneLight, c.Light); err != nil {
		return err
	}
	if err := validateLane(LaneHeavy, c.Heavy); err != nil {
		return err
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("%w: base delay must be non-negative", ErrInvalidPolicy)
	}

	tiers := sortedTiers(c.DelayTiers)
	prev := c.BaseDelay
	for i := len(tiers) - 1; i >= 0; i-- {
		tier := tiers[i]
		if tier.Above < 0 || tier.Delay < 0 {
			return fmt.Errorf("%w: delay tier %d=%s is negative", ErrInvalidPolicy, tier.Above, tier.Delay)
		}
		if tier.Delay < prev {
			return fmt.Errorf("%w: delay tier above %d bytes (%s) is shorter than a smaller tier (%s)",
				ErrInvalidPolicy, tier.Above, tier.Delay, prev)
		}
		prev = tier.Delay
	}

	return nil
}

func validateLane(lane Lane, p LanePolicy) error {
	if p.Attempts < 1 {
		return fmt.Errorf("%w: %s attempts must be at least 1", ErrInvalidPolicy, lane)
	}
	if p.BackoffDelay < 0 {
		return fmt.Errorf("%w: %s backoff must be non-negative", ErrInvalidPolicy, lane)
	}
	if p.KeepCompleted < 0 || p.KeepFailed < 0 {
		return fmt.Errorf("%w: %s history caps must be non-negative", ErrInvalidPolicy, lane)
	}

	return nil
}

// sortedTiers returns a copy ordered from the largest Above to the smallest.
func sortedTiers(tiers []DelayTier) []DelayTier {
	out := make([]DelayTier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Above > out[j].Above
	})

	return out
}

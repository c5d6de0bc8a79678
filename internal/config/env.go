package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/velmie/convdispatch"
)

// LookupFunc reads one variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// env reads typed values and collects every parse error.
type env struct {
	lookup LookupFunc
	errs   []error
}

func (e *env) value(keys ...string) (string, string, bool) {
	for _, key := range keys {
		if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
			return key, strings.TrimSpace(v), true
		}
	}

	return "", "", false
}

func (e *env) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (e *env) string(def string, keys ...string) string {
	if _, v, ok := e.value(keys...); ok {
		return v
	}

	return def
}

func (e *env) int(def int, keys ...string) int {
	key, v, ok := e.value(keys...)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)

		return def
	}

	return n
}

// duration accepts Go durations ("750ms", "2s") and bare integers as milliseconds.
func (e *env) duration(def time.Duration, keys ...string) time.Duration {
	key, v, ok := e.value(keys...)
	if !ok {
		return def
	}
	d, err := ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)

		return def
	}

	return d
}

func (e *env) bytes(def int64, keys ...string) int64 {
	key, v, ok := e.value(keys...)
	if !ok {
		return def
	}
	n, err := ParseSize(v)
	if err != nil {
		e.fail(key, v, err)

		return def
	}

	return n
}

func (e *env) tiers(def []convdispatch.DelayTier, keys ...string) []convdispatch.DelayTier {
	key, v, ok := e.value(keys...)
	if !ok {
		return def
	}
	tiers, err := ParseDelayTiers(v)
	if err != nil {
		e.fail(key, v, err)

		return def
	}

	return tiers
}

// ParseDuration parses a Go duration, or a bare integer as milliseconds.
func ParseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	return time.ParseDuration(v)
}

// ParseSize parses a humanized size such as "500MiB", "50 MB" or "1048576".
func ParseSize(v string) (int64, error) {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, err
	}
	if n > uint64(1<<63-1) {
		return 0, fmt.Errorf("size %s overflows int64", v)
	}

	return int64(n), nil
}

// ParseDelayTiers parses "500MiB=60s,200MiB=30s". Order does not matter.
func ParseDelayTiers(v string) ([]convdispatch.DelayTier, error) {
	parts := strings.Split(v, ",")
	tiers := make([]convdispatch.DelayTier, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		size, delay, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("tier %q: want SIZE=DELAY", part)
		}
		above, err := ParseSize(strings.TrimSpace(size))
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		d, err := ParseDuration(strings.TrimSpace(delay))
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		tiers = append(tiers, convdispatch.DelayTier{Above: above, Delay: d})
	}

	return tiers, nil
}

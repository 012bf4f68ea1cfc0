// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe runtime configuration with validated updates and reload
// propagation.

package control

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/momentics/wsengine/api"
)

// Keys understood by Controller. Other keys are stored as given.
const (
	KeyFrameLengthLimit = "frame_length_limit"
	KeyPingInterval     = "ping_interval"
	KeyCloseTimeout     = "close_timeout"
)

var _ api.Control = (*Controller)(nil)

// Controller is a dynamic key/value store with reload listeners and debug
// probes. It implements api.Control.
type Controller struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
	probes    *DebugProbes
}

// NewController initializes a controller holding initial. Values are
// validated like SetConfig.
func NewController(initial map[string]any) (*Controller, error) {
	c := &Controller{
		config: make(map[string]any),
		probes: NewDebugProbes(),
	}
	for k, v := range initial {
		nv, err := normalizeValue(k, v)
		if err != nil {
			return nil, err
		}
		c.config[k] = nv
	}
	return c, nil
}

// GetConfig returns a copy of all config values.
func (c *Controller) GetConfig() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.config))
	for k, v := range c.config {
		out[k] = v
	}
	return out
}

// SetConfig validates and merges cfg, then runs every reload listener on the
// calling goroutine. Nothing is applied if any value is invalid.
func (c *Controller) SetConfig(cfg map[string]any) error {
	merged := make(map[string]any, len(cfg))
	for k, v := range cfg {
		nv, err := normalizeValue(k, v)
		if err != nil {
			return err
		}
		merged[k] = nv
	}

	c.mu.Lock()
	for k, v := range merged {
		c.config[k] = v
	}
	fns := append([]func(){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// OnReload registers fn to run after every successful SetConfig.
func (c *Controller) OnReload(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Stats evaluates every registered probe.
func (c *Controller) Stats() map[string]any {
	return c.probes.DumpState()
}

// RegisterDebugProbe adds or replaces a named probe.
func (c *Controller) RegisterDebugProbe(name string, fn func() any) {
	c.probes.RegisterProbe(name, fn)
}

// Probes exposes the probe registry.
func (c *Controller) Probes() *DebugProbes {
	return c.probes
}

// Keys returns the configured keys in sorted order.
func (c *Controller) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.config))
	for k := range c.config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FrameLengthLimit returns the configured payload cap, if set.
func (c *Controller) FrameLengthLimit() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.config[KeyFrameLengthLimit].(uint64)
	return v, ok
}

// Duration returns a duration-valued key, if set.
func (c *Controller) Duration(key string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.config[key].(time.Duration)
	return v, ok
}

// normalizeValue converts well-known keys to their canonical types.
func normalizeValue(key string, v any) (any, error) {
	switch key {
	case KeyFrameLengthLimit:
		n, ok := asUint64(v)
		if !ok || n == 0 || n > math.MaxUint32 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "frame_length_limit must be in 1..2^32-1").
				WithContext("value", v)
		}
		return n, nil
	case KeyPingInterval, KeyCloseTimeout:
		d, ok := asDuration(v)
		if !ok {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "invalid duration").
				WithContext("key", key).WithContext("value", v)
		}
		return d, nil
	}
	return v, nil
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case float64:
		// JSON numbers.
		return uint64(n), n >= 0 && n == math.Trunc(n)
	}
	return 0, false
}

func asDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		parsed, err := time.ParseDuration(d)
		return parsed, err == nil
	}
	return 0, false
}

package qos

import (
	"fmt"
	"strconv"
	"time"

	apexlog "github.com/apex/log"

	"github.com/m-lab/qos-gateway/logging"
)

// MaxUrgency is the numerically smallest, highest-urgency priority level.
// MaxUrgency itself is always a valid queued priority.
const MaxUrgency = 1

// Bypass is the special priority value that skips admission control
// entirely: no slot is consumed, no queue entered, no counters recorded.
const Bypass = 0

// Config init-param keys, matching the original servlet filter's
// FilterConfig init-param names.
const (
	keyMinPriority       = "minpriority"
	keyMaxRequests       = "maxreq"
	keyMaxQueueItems     = "maxqueue"
	keyLockTimeout       = "locktimeout"
	keyRequestTimeout    = "requesttimeout"
	keyRequestPriorityTO = "prioritytimeout"
)

// Defaults, in the units named in spec.md's Data Model table.
const (
	defaultMinPriority       = 5
	defaultMaxConcurrent     = 1
	defaultMaxQueueDepth     = 100
	defaultSlotAcquireTOms   = 50
	defaultRequestDeadlineMs = 2000
	defaultPromotionIntMs    = 500
)

// Config holds the immutable, post-init admission scheduler configuration.
// All duration fields are normalized to time.Duration even though the
// init-param values are plain milliseconds, the way the original filter's
// init-params were.
type Config struct {
	// MinPriority is the numerically largest (lowest urgency) priority
	// level a queued request may hold.
	MinPriority int
	// MaxConcurrent is the number of concurrent service slots.
	MaxConcurrent int
	// MaxQueueDepth is the total number of items allowed across all
	// priority queues at once.
	MaxQueueDepth int
	// SlotAcquireTimeout bounds how long the fast path waits for a permit.
	SlotAcquireTimeout time.Duration
	// RequestDeadline bounds the total time from arrival to service start.
	RequestDeadline time.Duration
	// PromotionInterval is the time a request spends at each priority
	// level before being promoted toward MaxUrgency.
	PromotionInterval time.Duration
}

// NewDefaultConfig returns the Config obtained by applying no overrides.
func NewDefaultConfig() *Config {
	cfg, err := NewConfig(nil)
	if err != nil {
		// Defaults alone can never fail validation.
		panic(err)
	}
	return cfg
}

// NewConfig builds a Config from a name->value mapping, the same shape as
// a servlet FilterConfig's init-params. Unrecognized keys are ignored.
// Malformed integers return a ConfigInvalid error.
func NewConfig(params map[string]string) (*Config, error) {
	cfg := &Config{
		MinPriority:        defaultMinPriority,
		MaxConcurrent:      defaultMaxConcurrent,
		MaxQueueDepth:      defaultMaxQueueDepth,
		SlotAcquireTimeout: defaultSlotAcquireTOms * time.Millisecond,
		RequestDeadline:    defaultRequestDeadlineMs * time.Millisecond,
		PromotionInterval:  defaultPromotionIntMs * time.Millisecond,
	}

	if v, ok := params[keyMinPriority]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %v", ErrConfigInvalid, keyMinPriority, v, err)
		}
		cfg.MinPriority = n
	}
	if v, ok := params[keyMaxRequests]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %v", ErrConfigInvalid, keyMaxRequests, v, err)
		}
		cfg.MaxConcurrent = n
	}
	if v, ok := params[keyMaxQueueItems]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %v", ErrConfigInvalid, keyMaxQueueItems, v, err)
		}
		cfg.MaxQueueDepth = n
	}
	if v, ok := params[keyLockTimeout]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %v", ErrConfigInvalid, keyLockTimeout, v, err)
		}
		cfg.SlotAcquireTimeout = time.Duration(n) * time.Millisecond
	}
	if v, ok := params[keyRequestTimeout]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %v", ErrConfigInvalid, keyRequestTimeout, v, err)
		}
		cfg.RequestDeadline = time.Duration(n) * time.Millisecond
	}
	if v, ok := params[keyRequestPriorityTO]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %v", ErrConfigInvalid, keyRequestPriorityTO, v, err)
		}
		cfg.PromotionInterval = time.Duration(n) * time.Millisecond
	}

	if cfg.MinPriority < MaxUrgency {
		return nil, fmt.Errorf("%w: minpriority (%d) must be >= %d", ErrConfigInvalid, cfg.MinPriority, MaxUrgency)
	}

	logging.Logger.WithFields(apexlog.Fields{
		keyMinPriority:       cfg.MinPriority,
		keyMaxRequests:       cfg.MaxConcurrent,
		keyMaxQueueItems:     cfg.MaxQueueDepth,
		keyLockTimeout:       cfg.SlotAcquireTimeout,
		keyRequestTimeout:    cfg.RequestDeadline,
		keyRequestPriorityTO: cfg.PromotionInterval,
	}).Debug("qos: effective configuration")
	return cfg, nil
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// PoolState is the lifecycle stage of a tracked AMM pool.
type PoolState string

const (
	PoolPending    PoolState = "pending"
	PoolExists     PoolState = "exists"
	PoolReady      PoolState = "ready"
	PoolMonitoring PoolState = "monitoring"
	PoolFailed     PoolState = "failed"
	PoolTerminated PoolState = "terminated"
)

// ErrInvalidTransition is returned when a state change does not follow the lifecycle.
var ErrInvalidTransition = errors.New("invalid pool state transition")

// IsTerminal reports whether no further transitions are possible from s.
func (s PoolState) IsTerminal() bool {
	return s == PoolFailed || s == PoolTerminated
}

// rank orders the non-failed states along the lifecycle chain.
func (s PoolState) rank() int {
	switch s {
	case PoolPending:
		return 0
	case PoolExists:
		return 1
	case PoolReady:
		return 2
	case PoolMonitoring:
		return 3
	case PoolTerminated:
		return 4
	}
	return -1
}

// CanTransition validates from → to.
//
//	pending → exists → ready → monitoring → terminated
//	pending|exists → failed
//
// Reaching terminated before monitoring is a stop, see CanStop.
func CanTransition(from, to PoolState) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	switch to {
	case PoolFailed:
		if from == PoolPending || from == PoolExists {
			return nil
		}
	case PoolTerminated:
		if from == PoolMonitoring {
			return nil
		}
	default:
		if to.rank() == from.rank()+1 {
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// CanStop validates from → terminated for a stop (manual, emergency or
// window elapsed): any non-terminal state may be stopped.
func CanStop(from PoolState) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	return nil
}

// PriorityTier drives the base polling interval of a monitored pool.
type PriorityTier string

const (
	TierHigh   PriorityTier = "high"
	TierMedium PriorityTier = "medium"
	TierLow    PriorityTier = "low"
)

// DiscoveryEvent is the input emitted by the discovery mechanism for a new pool.
type DiscoveryEvent struct {
	PoolID         string    `json:"pool_id"`
	BaseMint       string    `json:"base_mint"`
	QuoteMint      string    `json:"quote_mint"`
	BaseVaultAddr  string    `json:"base_vault"`
	QuoteVaultAddr string    `json:"quote_vault"`
	BaseDecimals   uint8     `json:"base_decimals"`
	QuoteDecimals  uint8     `json:"quote_decimals"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

// Validate checks that the event carries everything needed to poll the pool.
func (e DiscoveryEvent) Validate() error {
	switch {
	case e.PoolID == "":
		return errors.New("discovery event: missing pool_id")
	case e.BaseVaultAddr == "" || e.QuoteVaultAddr == "":
		return fmt.Errorf("discovery event %s: missing vault address", e.PoolID)
	case e.BaseMint == "" || e.QuoteMint == "":
		return fmt.Errorf("discovery event %s: missing mint", e.PoolID)
	}
	return nil
}

// PoolRecord is the registry's view of one discovered pool.
// Baseline fields are written by the baseline establisher only; Last*,
// ConsecutiveErrors and PollInterval by the scheduler only.
type PoolRecord struct {
	PoolID         string
	BaseMint       string
	QuoteMint      string
	BaseVaultAddr  string
	QuoteVaultAddr string
	BaseDecimals   uint8
	QuoteDecimals  uint8

	State         PoolState
	FailureReason string
	DiscoveredAt  time.Time
	ExistsSince   *time.Time
	ReadySince    *time.Time
	TerminatedAt  *time.Time

	BaselinePrice *float64
	BaselineTVL   *float64

	LastPrice         float64
	LastTVL           float64
	LastPolledAt      time.Time
	ConsecutiveErrors int
	PollInterval      time.Duration
	PriorityTier      PriorityTier
}

// NewPoolRecord creates a pending record from a discovery event.
func NewPoolRecord(ev DiscoveryEvent) PoolRecord {
	discovered := ev.DiscoveredAt
	if discovered.IsZero() {
		discovered = time.Now().UTC()
	}
	return PoolRecord{
		PoolID:         ev.PoolID,
		BaseMint:       ev.BaseMint,
		QuoteMint:      ev.QuoteMint,
		BaseVaultAddr:  ev.BaseVaultAddr,
		QuoteVaultAddr: ev.QuoteVaultAddr,
		BaseDecimals:   ev.BaseDecimals,
		QuoteDecimals:  ev.QuoteDecimals,
		State:          PoolPending,
		DiscoveredAt:   discovered,
		PriorityTier:   TierLow,
	}
}

// HasBaseline reports whether a valid baseline has been captured.
func (p PoolRecord) HasBaseline() bool {
	return p.BaselinePrice != nil && p.BaselineTVL != nil
}

// Age returns how long ago the pool was discovered.
func (p PoolRecord) Age(now time.Time) time.Duration {
	return now.Sub(p.DiscoveredAt)
}

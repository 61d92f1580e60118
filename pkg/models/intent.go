package models

import (
	"time"
)

// Status represents the lifecycle state of an intent.
type Status string

const (
	// StatusPending means the intent is admitted and waiting for execution.
	StatusPending Status = "pending"
	// StatusExecuting means an execution attempt has claimed the intent.
	StatusExecuting Status = "executing"
	// StatusExecuted means the swap completed successfully. Terminal.
	StatusExecuted Status = "executed"
	// StatusCancelled means the owner cancelled the intent. Terminal.
	StatusCancelled Status = "cancelled"
	// StatusFailed means execution gave up. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled || s == StatusFailed
}

// FailReason explains why an intent moved to StatusFailed.
type FailReason string

const (
	ReasonInsufficientOutput FailReason = "insufficient_output"
	ReasonSlippageExceeded   FailReason = "slippage_exceeded"
	ReasonSettlementError    FailReason = "settlement_error"
	ReasonQuoteUnavailable   FailReason = "quote_unavailable"
)

// Intent is a user's declared request to swap a source amount of one token
// into at least a minimum amount of another, within a slippage tolerance.
// Amounts are decimal strings; only the engine mutates an intent after admission.
type Intent struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	UserAddress     string     `json:"userAddress" gorm:"index"`
	SourceToken     string     `json:"sourceToken"`
	TargetToken     string     `json:"targetToken"`
	SourceAmount    string     `json:"sourceAmount"`
	MinTargetAmount string     `json:"minTargetAmount"`
	SlippageBps     int64      `json:"slippageBps"`
	Status          Status     `json:"status" gorm:"index"`
	ExecutedAmount  string     `json:"executedAmount,omitempty"`
	FailReason      FailReason `json:"failReason,omitempty"`
	Attempts        int        `json:"attempts"`
	SettlementRef   string     `json:"settlementRef,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExecutedAt      *time.Time `json:"executedAt,omitempty"`
}

// Analytics holds aggregate counts over a set of intents.
type Analytics struct {
	TotalIntents     int     `json:"totalIntents"`
	ExecutedSwaps    int     `json:"executedSwaps"`
	PendingIntents   int     `json:"pendingIntents"`
	CancelledIntents int     `json:"cancelledIntents"`
	TotalVolume      string  `json:"totalVolume"`
	SuccessRate      float64 `json:"successRate"`
}

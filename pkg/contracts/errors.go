package contracts

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. Callers match with errors.Is.
var (
	ErrNotInitialized        = errors.New("vault: not initialized")
	ErrAlreadyInitialized    = errors.New("vault: already initialized")
	ErrUnauthorized          = errors.New("vault: unauthorized")
	ErrProposalNotFound      = errors.New("vault: proposal not found")
	ErrInvalidState          = errors.New("vault: invalid state")
	ErrLimitExceeded         = errors.New("vault: limit exceeded")
	ErrRecipientBlocked      = errors.New("vault: recipient blocked")
	ErrTimelockNotElapsed    = errors.New("vault: timelock not elapsed")
	ErrConditionsNotMet      = errors.New("vault: conditions not met")
	ErrInsufficientInsurance = errors.New("vault: insufficient insurance")
	ErrBridgeNotConfigured   = errors.New("vault: bridge not configured")

	ErrInvalidAmount = errors.New("vault: invalid amount")
	ErrInvalidConfig = errors.New("vault: invalid config")
	ErrAlreadyVoted  = errors.New("vault: already voted")
)

// ErrProposalExpired is returned when an operation finds its proposal past expiry.
// It matches ErrInvalidState.
var ErrProposalExpired = fmt.Errorf("%w: proposal expired", ErrInvalidState)

// Package contracts holds the records shared by every vault component:
// configuration, proposals, recurring payments, reputation, insurance and
// the cross-chain bridge model.
package contracts

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is the permission level of a vault participant.
type Role int

const (
	// RoleMember is read-only. It is the default for unknown addresses.
	RoleMember Role = iota
	// RoleTreasurer may create and approve transfer proposals.
	RoleTreasurer
	// RoleAdmin manages roles, signers and configuration.
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleTreasurer:
		return "TREASURER"
	case RoleAdmin:
		return "ADMIN"
	default:
		return "MEMBER"
	}
}

// AtLeast reports whether r grants at least the permissions of min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "PENDING"
	StatusApproved ProposalStatus = "APPROVED"
	StatusExecuted ProposalStatus = "EXECUTED"
	StatusRejected ProposalStatus = "REJECTED"
	StatusExpired  ProposalStatus = "EXPIRED"
)

// Terminal reports whether no further transition is permitted.
func (s ProposalStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusRejected || s == StatusExpired
}

// Open reports whether the proposal can still expire or be rejected.
func (s ProposalStatus) Open() bool {
	return s == StatusPending || s == StatusApproved
}

// Priority is the urgency tier used to order the pending queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Priorities lists every tier from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// Valid reports whether p is one of the four defined tiers.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority accepts a tier name (case-insensitive) or its number.
func ParsePriority(name string) (Priority, error) {
	for _, p := range Priorities {
		if strings.EqualFold(name, p.String()) || name == strconv.Itoa(int(p)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown priority %q", ErrInvalidConfig, name)
}

// ConditionKind tags a Condition variant.
type ConditionKind string

const (
	// ConditionBalanceAbove holds when the vault balance of the proposal token is above Amount.
	ConditionBalanceAbove ConditionKind = "BALANCE_ABOVE"
	// ConditionDateAfter holds once the ledger sequence is past Ledger.
	ConditionDateAfter ConditionKind = "DATE_AFTER"
	// ConditionDateBefore holds while the ledger sequence is before Ledger.
	ConditionDateBefore ConditionKind = "DATE_BEFORE"
	// ConditionExpression holds when the CEL expression Expr evaluates to true.
	ConditionExpression ConditionKind = "EXPRESSION"
)

// Condition is one execution precondition attached to a proposal.
type Condition struct {
	Kind   ConditionKind `json:"kind" yaml:"kind"`
	Amount int64         `json:"amount,omitempty" yaml:"amount,omitempty"`
	Ledger uint64        `json:"ledger,omitempty" yaml:"ledger,omitempty"`
	Expr   string        `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// ConditionLogic combines a proposal's conditions.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// Proposal is a transfer awaiting multi-party authorization.
type Proposal struct {
	ID             uint64         `json:"id"`
	Proposer       string         `json:"proposer"`
	Recipient      string         `json:"recipient"`
	Token          string         `json:"token"`
	Amount         int64          `json:"amount"`
	Memo           string         `json:"memo,omitempty"`
	Approvals      []string       `json:"approvals"`
	Abstentions    []string       `json:"abstentions"`
	Attachments    []string       `json:"attachments,omitempty"`
	Status         ProposalStatus `json:"status"`
	Priority       Priority       `json:"priority"`
	Conditions     []Condition    `json:"conditions,omitempty"`
	ConditionLogic ConditionLogic `json:"condition_logic"`
	CreatedAt      uint64         `json:"created_at"`
	ExpiresAt      uint64         `json:"expires_at"`
	UnlockLedger   uint64         `json:"unlock_ledger"`
	InsuranceStake int64          `json:"insurance_stake"`
}

// HasVoted reports whether addr already approved or abstained.
func (p *Proposal) HasVoted(addr string) bool {
	return contains(p.Approvals, addr) || contains(p.Abstentions, addr)
}

// Expired reports whether the proposal is past its expiry at ledger now.
func (p *Proposal) Expired(now uint64) bool {
	return p.Status.Open() && now > p.ExpiresAt
}

// RecurringPayment is a periodic transfer that matures every Interval ledgers.
type RecurringPayment struct {
	ID                uint64 `json:"id"`
	Proposer          string `json:"proposer"`
	Recipient         string `json:"recipient"`
	Token             string `json:"token"`
	Amount            int64  `json:"amount"`
	Memo              string `json:"memo,omitempty"`
	Interval          uint64 `json:"interval"`
	NextPaymentLedger uint64 `json:"next_payment_ledger"`
	PaymentCount      uint32 `json:"payment_count"`
	Active            bool   `json:"active"`
}

// ListMode selects how the recipient lists gate transfers.
type ListMode string

const (
	ListDisabled  ListMode = "DISABLED"
	ListWhitelist ListMode = "WHITELIST"
	ListBlacklist ListMode = "BLACKLIST"
)

func contains(list []string, addr string) bool {
	addr = NormalizeAddress(addr)
	for _, a := range list {
		if NormalizeAddress(a) == addr {
			return true
		}
	}
	return false
}

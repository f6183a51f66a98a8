// Package recipients gates transfer recipients with an allow list or a deny list.
package recipients

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Lists answers membership questions for the recipient lists.
type Lists interface {
	Mode(ctx context.Context) (contracts.ListMode, error)
	Whitelisted(ctx context.Context, addr string) (bool, error)
	Blacklisted(ctx context.Context, addr string) (bool, error)
}

// Policy applies the configured list mode to a recipient.
type Policy struct {
	lists Lists
}

// NewPolicy creates a policy over lists.
func NewPolicy(lists Lists) *Policy {
	return &Policy{lists: lists}
}

// Check returns ErrRecipientBlocked when addr may not receive funds.
func (p *Policy) Check(ctx context.Context, addr string) error {
	mode, err := p.lists.Mode(ctx)
	if err != nil {
		return fmt.Errorf("recipient list mode: %w", err)
	}
	switch mode {
	case contracts.ListWhitelist:
		ok, err := p.lists.Whitelisted(ctx, addr)
		if err != nil {
			return fmt.Errorf("recipient whitelist: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s is not whitelisted", contracts.ErrRecipientBlocked, addr)
		}
	case contracts.ListBlacklist:
		blocked, err := p.lists.Blacklisted(ctx, addr)
		if err != nil {
			return fmt.Errorf("recipient blacklist: %w", err)
		}
		if blocked {
			return fmt.Errorf("%w: %s is blacklisted", contracts.ErrRecipientBlocked, addr)
		}
	case contracts.ListDisabled, "":
	default:
		return fmt.Errorf("%w: unknown list mode %q", contracts.ErrInvalidConfig, mode)
	}
	return nil
}

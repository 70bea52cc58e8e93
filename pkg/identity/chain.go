package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Chain tries each validator in order and returns the first success
type Chain struct {
	validators []Validator
}

// NewChain builds a chain. At least one validator is required.
func NewChain(validators ...Validator) (*Chain, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("chain requires at least one validator")
	}
	return &Chain{validators: validators}, nil
}

// Name lists the chained validators
func (c *Chain) Name() string {
	names := make([]string, len(c.validators))
	for i, v := range c.validators {
		names[i] = v.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Validate returns the first successful identity. Context cancellation
// stops the chain early.
func (c *Chain) Validate(ctx context.Context, token string) (*VerifiedIdentity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var errs []error
	for _, v := range c.validators {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		id, err := v.Validate(ctx, token)
		if err == nil {
			return id, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", v.Name(), err))
	}

	return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errors.Join(errs...))
}

// Package auth answers one question for the contract: did principal P
// authorize the current call? The HTTP layer verifies request signatures and
// records the verified signers on the context; Authorizer implementations
// read them back.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xelma/round-engine/internal/model"
)

var (
	// ErrUnauthorized means the principal did not authorize the call.
	ErrUnauthorized = errors.New("auth: principal did not authorize call")
	// ErrInvalidAddress means a principal is not a 20-byte hex address.
	ErrInvalidAddress = errors.New("auth: invalid address")
)

// Authorizer is the "require that principal P authorized this call"
// capability the contract depends on.
type Authorizer interface {
	Require(ctx context.Context, principal model.Address) error
}

type signersKey struct{}

// WithSigners returns a context carrying the given principals as verified
// signers of the current call, in addition to any already present.
func WithSigners(ctx context.Context, signers ...model.Address) context.Context {
	existing := Signers(ctx)
	all := make([]model.Address, 0, len(existing)+len(signers))
	all = append(all, existing...)
	all = append(all, signers...)
	return context.WithValue(ctx, signersKey{}, all)
}

// Signers returns the verified signers recorded on ctx.
func Signers(ctx context.Context) []model.Address {
	s, _ := ctx.Value(signersKey{}).([]model.Address)
	return s
}

// ContextAuthorizer authorizes a principal iff it is among the context's
// verified signers.
type ContextAuthorizer struct{}

func (ContextAuthorizer) Require(ctx context.Context, principal model.Address) error {
	for _, s := range Signers(ctx) {
		if s == principal {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, principal)
}

// AllowAll authorizes every principal. Tests only.
type AllowAll struct{}

func (AllowAll) Require(context.Context, model.Address) error { return nil }

// ParseAddress validates a hex address and returns its checksummed form, so
// that the same account always maps to the same storage keys.
func ParseAddress(s string) (model.Address, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return model.Address(common.HexToAddress(s).Hex()), nil
}

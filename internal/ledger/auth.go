package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Authorizer fails unless the current invocation acts on behalf of principal.
type Authorizer interface {
	RequireAuth(ctx context.Context, principal common.Address) error
}

type signersKey struct{}

// WithSigners returns a context in which principals are authorized in
// addition to any signers already present.
func WithSigners(ctx context.Context, principals ...common.Address) context.Context {
	existing := Signers(ctx)
	merged := make([]common.Address, 0, len(existing)+len(principals))
	merged = append(merged, existing...)
	merged = append(merged, principals...)
	return context.WithValue(ctx, signersKey{}, merged)
}

// Signers returns the principals authorized in ctx.
func Signers(ctx context.Context) []common.Address {
	signers, _ := ctx.Value(signersKey{}).([]common.Address)
	return signers
}

// SignerAuthorizer authorizes principals attached with WithSigners.
type SignerAuthorizer struct{}

func (SignerAuthorizer) RequireAuth(ctx context.Context, principal common.Address) error {
	for _, signer := range Signers(ctx) {
		if signer == principal {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotAuthorized, principal.Hex())
}

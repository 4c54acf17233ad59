package market

import (
	"context"
	"fmt"
)

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches a client-chosen key to ctx. Create, delist and
// take claim the key for the calling user inside their transaction, so a
// resubmission after an unknown outcome either applies once or is rejected
// with ErrCodeDuplicateRequest.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey.
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyCtx{}).(string)
	return key, ok && key != ""
}

func claimIdempotencyKey(ctx context.Context, tx Tx, userID, action string) error {
	key, ok := IdempotencyKey(ctx)
	if !ok {
		return nil
	}
	claimed, err := tx.ClaimIdempotencyKey(ctx, userID, key, action)
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	if !claimed {
		return newDuplicateRequest(userID, key)
	}
	return nil
}

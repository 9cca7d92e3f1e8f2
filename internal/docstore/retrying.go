package docstore

import (
	"context"

	"github.com/fundstack/fundstack/internal/retry"
)

// Retrying bounds every call with the policy's attempt timeout and retries
// reads that fail with ErrUnavailable. Writes are attempted exactly once:
// a lost acknowledgement cannot be told apart from a lost write.
type Retrying struct {
	inner  Store
	policy retry.Policy
}

// NewRetrying decorates inner with policy.
func NewRetrying(inner Store, policy retry.Policy) *Retrying {
	return &Retrying{inner: inner, policy: policy}
}

func (r *Retrying) Get(ctx context.Context, path string) (Document, error) {
	return retry.Do(ctx, r.policy, IsUnavailable, func(ctx context.Context) (Document, error) {
		return r.inner.Get(ctx, path)
	})
}

func (r *Retrying) Children(ctx context.Context, path string) ([]Document, error) {
	return retry.Do(ctx, r.policy, IsUnavailable, func(ctx context.Context) ([]Document, error) {
		return r.inner.Children(ctx, path)
	})
}

func (r *Retrying) Put(ctx context.Context, path string, value any) (string, error) {
	return retry.Attempt(ctx, r.policy.AttemptTimeout, func(ctx context.Context) (string, error) {
		return r.inner.Put(ctx, path, value)
	})
}

func (r *Retrying) Patch(ctx context.Context, path string, fields map[string]any, ifVersion string) (string, error) {
	return retry.Attempt(ctx, r.policy.AttemptTimeout, func(ctx context.Context) (string, error) {
		return r.inner.Patch(ctx, path, fields, ifVersion)
	})
}

package docstore

import (
	"context"
	"sync"
)

// Operation names passed to a Faulty hook.
const (
	OpGet      = "get"
	OpPut      = "put"
	OpPatch    = "patch"
	OpChildren = "children"
)

// Faulty wraps a Store and fails calls chosen by a hook. Test helper.
type Faulty struct {
	inner Store

	mu   sync.Mutex
	hook func(op, path string) error
}

// NewFaulty wraps inner without any failures configured.
func NewFaulty(inner Store) *Faulty {
	return &Faulty{inner: inner}
}

// SetHook installs h; a non-nil error from h is returned instead of calling
// the wrapped store. Pass nil to clear.
func (f *Faulty) SetHook(h func(op, path string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = h
}

func (f *Faulty) fail(op, path string) error {
	f.mu.Lock()
	h := f.hook
	f.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(op, path)
}

func (f *Faulty) Get(ctx context.Context, path string) (Document, error) {
	if err := f.fail(OpGet, path); err != nil {
		return Document{}, err
	}
	return f.inner.Get(ctx, path)
}

func (f *Faulty) Put(ctx context.Context, path string, value any) (string, error) {
	if err := f.fail(OpPut, path); err != nil {
		return "", err
	}
	return f.inner.Put(ctx, path, value)
}

func (f *Faulty) Patch(ctx context.Context, path string, fields map[string]any, ifVersion string) (string, error) {
	if err := f.fail(OpPatch, path); err != nil {
		return "", err
	}
	return f.inner.Patch(ctx, path, fields, ifVersion)
}

func (f *Faulty) Children(ctx context.Context, path string) ([]Document, error) {
	if err := f.fail(OpChildren, path); err != nil {
		return nil, err
	}
	return f.inner.Children(ctx, path)
}

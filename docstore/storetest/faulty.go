package storetest

import (
	"context"
	"sync"

	"wordcraft/docstore"
)

// Op names passed to a Faulty hook.
const (
	OpGet           = "get"
	OpSet           = "set"
	OpUpdate        = "update"
	OpDelete        = "delete"
	OpAddToSet      = "addToSet"
	OpRemoveFromSet = "removeFromSet"
	OpList          = "list"
)

// Faulty wraps a store and lets tests fail chosen calls. With NoTransactions
// set it behaves like a backend without multi-document transactions.
type Faulty struct {
	docstore.Store
	NoTransactions bool

	mu    sync.Mutex
	hook  func(op string, path docstore.Path) error
	calls map[string]int
}

func NewFaulty(s docstore.Store) *Faulty {
	return &Faulty{Store: s, calls: map[string]int{}}
}

// FailWith installs hook; a non-nil result is returned instead of calling
// the wrapped store.
func (f *Faulty) FailWith(hook func(op string, path docstore.Path) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

// Calls reports how many times op reached the wrapper.
func (f *Faulty) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) check(op string, path docstore.Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.hook == nil {
		return nil
	}
	return f.hook(op, path)
}

func (f *Faulty) Get(ctx context.Context, path docstore.Path, out any) error {
	if err := f.check(OpGet, path); err != nil {
		return err
	}
	return f.Store.Get(ctx, path, out)
}

func (f *Faulty) Set(ctx context.Context, path docstore.Path, doc any) error {
	if err := f.check(OpSet, path); err != nil {
		return err
	}
	return f.Store.Set(ctx, path, doc)
}

func (f *Faulty) Update(ctx context.Context, path docstore.Path, fields map[string]any) error {
	if err := f.check(OpUpdate, path); err != nil {
		return err
	}
	return f.Store.Update(ctx, path, fields)
}

func (f *Faulty) Delete(ctx context.Context, path docstore.Path) error {
	if err := f.check(OpDelete, path); err != nil {
		return err
	}
	return f.Store.Delete(ctx, path)
}

func (f *Faulty) AddToSet(ctx context.Context, path docstore.Path, field, value string) error {
	if err := f.check(OpAddToSet, path); err != nil {
		return err
	}
	return f.Store.AddToSet(ctx, path, field, value)
}

func (f *Faulty) RemoveFromSet(ctx context.Context, path docstore.Path, field, value string) error {
	if err := f.check(OpRemoveFromSet, path); err != nil {
		return err
	}
	return f.Store.RemoveFromSet(ctx, path, field, value)
}

func (f *Faulty) List(ctx context.Context, collection docstore.Path, limit int) ([]docstore.Doc, error) {
	if err := f.check(OpList, collection); err != nil {
		return nil, err
	}
	return f.Store.List(ctx, collection, limit)
}

func (f *Faulty) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.NoTransactions {
		return docstore.ErrNoTransactions
	}
	return f.Store.RunTransaction(ctx, fn)
}

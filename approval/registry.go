/*
registry.go - Kind -> repository registry

PURPOSE:
  Maps each supported Kind to the repository that can load its
  approvables, so the engine can return the updated subject after a
  decision without reflecting on type names.

USAGE:
  reg := approval.NewRegistry()
  reg.Register(approval.KindLeaveRequest, leaveRepo)
  subject, err := reg.Load(ctx, approval.Ref{Kind: approval.KindLeaveRequest, ID: id})
*/
package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Approvable is the contract any request-like entity implements to own an
// approval chain.
type Approvable interface {
	// ApprovableRef identifies the entity.
	ApprovableRef() Ref

	// RequesterID is the owning employee; approval lines resolve from it.
	RequesterID() string
}

// Loader loads approvables of one kind.
type Loader interface {
	LoadApprovable(ctx context.Context, id string) (Approvable, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, id string) (Approvable, error)

func (f LoaderFunc) LoadApprovable(ctx context.Context, id string) (Approvable, error) {
	return f(ctx, id)
}

// Registry maps kinds to loaders. Only kinds in Kinds may be registered.
type Registry struct {
	mu      sync.RWMutex
	loaders map[Kind]Loader
}

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[Kind]Loader)}
}

// Register binds kind to loader. Panics on unsupported kinds: this is wiring.
func (r *Registry) Register(kind Kind, loader Loader) {
	if !kind.Valid() {
		panic(fmt.Sprintf("approval: unsupported kind %q", kind))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[kind] = loader
}

// Load returns the approvable for ref.
func (r *Registry) Load(ctx context.Context, ref Ref) (Approvable, error) {
	r.mu.RLock()
	loader, ok := r.loaders[ref.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", ref.Kind, ErrUnknownApprovableType)
	}
	return loader.LoadApprovable(ctx, ref.ID)
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.loaders))
	for k := range r.loaders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

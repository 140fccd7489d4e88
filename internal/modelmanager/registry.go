package modelmanager

import (
	"context"
	"sync"

	"titancompute/pkg/cache"
)

// Registry remembers, for each requested base model name, which quantized
// variant was actually selected and loaded — so repeated requests for the
// same base model reuse the earlier decision instead of re-running
// variant selection. Backed by pkg/cache so the same abstraction that
// backs the rest of this codebase's caching also backs this one; an
// in-process MemoryCache is the default since the agent carries no state
// across restarts by design.
type Registry struct {
	store cache.Cache

	mu      sync.RWMutex
	loaded  map[string]struct{}
	pulling sync.Map // variant -> *pullCall, dedups concurrent pulls of the same variant
}

// pullCall is the in-flight (or just-finished) state of one variant pull.
// done is closed once the pull completes, at which point err holds its
// outcome for every caller that was waiting on it.
type pullCall struct {
	done chan struct{}
	err  error
}

// NewRegistry wraps store as a model registry. Passing a nil store backs
// the registry with an unbounded in-memory cache with no expiry.
func NewRegistry(store cache.Cache) *Registry {
	if store == nil {
		opts := cache.DefaultOptions()
		opts.DefaultTTL = 0
		store = cache.MustNew(opts)
	}
	return &Registry{
		store:  store,
		loaded: make(map[string]struct{}),
	}
}

// Resolve returns the variant previously selected for baseModel, if any.
func (r *Registry) Resolve(ctx context.Context, baseModel string) (string, bool) {
	val, err := r.store.Get(ctx, registryKey(baseModel))
	if err != nil {
		return "", false
	}
	return string(val), true
}

// Remember records that baseModel resolves to variant.
func (r *Registry) Remember(ctx context.Context, baseModel, variant string) error {
	return r.store.Set(ctx, registryKey(baseModel), []byte(variant), 0)
}

// MarkLoaded records that variant is loaded in the backend.
func (r *Registry) MarkLoaded(variant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded[variant] = struct{}{}
}

// IsLoaded reports whether variant has been marked loaded.
func (r *Registry) IsLoaded(variant string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[variant]
	return ok
}

// LoadedModels returns a snapshot of every variant marked loaded.
func (r *Registry) LoadedModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.loaded))
	for m := range r.loaded {
		out = append(out, m)
	}
	return out
}

// PullOnce runs pull for variant unless a pull for that exact variant is
// already in flight, in which case it waits for that pull and returns its
// result instead of starting a second one. The in-flight entry is always
// removed once pull returns — on failure as much as on success — so a
// later call (a retry, or a fresh StreamInference request) actually
// re-attempts the pull instead of replaying a stale success.
func (r *Registry) PullOnce(variant string, pull func() error) error {
	call := &pullCall{done: make(chan struct{})}
	actual, inFlight := r.pulling.LoadOrStore(variant, call)
	if inFlight {
		call = actual.(*pullCall)
		<-call.done
		return call.err
	}

	call.err = pull()
	close(call.done)
	r.pulling.Delete(variant)
	return call.err
}

func registryKey(baseModel string) string {
	return "modelmanager:variant:" + baseModel
}

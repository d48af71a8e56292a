package process

import (
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/pulseflow/errors"
)

// Registry holds deployed definitions, several versions per key
type Registry struct {
	mu       sync.RWMutex
	byKey    map[string][]*Definition // sorted by ascending version
	byID     map[string]*Definition
	onDeploy []func(*Definition)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string][]*Definition),
		byID:  make(map[string]*Definition),
	}
}

// OnDeploy registers a callback invoked after every successful deployment
func (r *Registry) OnDeploy(fn func(*Definition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDeploy = append(r.onDeploy, fn)
}

// Deploy adds a built definition. Redeploying an existing key and version is
// a conflict; running instances keep the graph they started with.
func (r *Registry) Deploy(d *Definition) error {
	if d.version == nil {
		if err := d.Build(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	if _, exists := r.byID[d.ID()]; exists {
		r.mu.Unlock()
		return errors.Mark(errors.Newf("process definition %s already deployed", d.ID()), errors.ErrConflict)
	}
	r.byID[d.ID()] = d
	versions := append(r.byKey[d.Key], d)
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].version.LessThan(versions[j].version)
	})
	r.byKey[d.Key] = versions
	callbacks := append([]func(*Definition){}, r.onDeploy...)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(d)
	}
	return nil
}

// Get returns a definition by "key:version" id
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError("process definition %s not found", id)
	}
	return d, nil
}

// Latest returns the highest version deployed for key
func (r *Registry) Latest(key string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.byKey[key]
	if len(versions) == 0 {
		return nil, errors.NewNotFoundError("no process definition with key %s", key)
	}
	return versions[len(versions)-1], nil
}

// Resolve accepts a bare key (latest version), "key:version", or
// "key:constraint" such as "order:^1.2".
func (r *Registry) Resolve(ref string) (*Definition, error) {
	key, spec, hasVersion := strings.Cut(ref, ":")
	if !hasVersion {
		return r.Latest(key)
	}
	if d, err := r.Get(ref); err == nil {
		return d, nil
	}

	constraint, err := semver.NewConstraint(spec)
	if err != nil {
		return nil, errors.NewInvalidRequestError("invalid version constraint %q: %v", spec, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.byKey[key]
	for i := len(versions) - 1; i >= 0; i-- {
		if constraint.Check(versions[i].version) {
			return versions[i], nil
		}
	}
	return nil, errors.NewNotFoundError("no version of %s satisfies %s", key, spec)
}

// List returns every deployed definition ordered by key then version
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*Definition
	for _, k := range keys {
		out = append(out, r.byKey[k]...)
	}
	return out
}

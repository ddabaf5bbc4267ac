package querycache

import "sync"

// Tag groups cached queries for invalidation.
type Tag string

// Registry is the table of which tags each query operation provides and which tags each
// mutation invalidates. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	provides    map[string][]Tag
	invalidates map[string][]Tag
}

func NewRegistry() *Registry {
	return &Registry{
		provides:    make(map[string][]Tag),
		invalidates: make(map[string][]Tag),
	}
}

// Provide records that results of operation carry tags.
func (r *Registry) Provide(operation string, tags ...Tag) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provides[operation] = appendUnique(r.provides[operation], tags...)
	return r
}

// Invalidates records that a successful mutation invalidates tags.
func (r *Registry) Invalidates(mutation string, tags ...Tag) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidates[mutation] = appendUnique(r.invalidates[mutation], tags...)
	return r
}

// TagsFor returns the tags provided by operation.
func (r *Registry) TagsFor(operation string) []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Tag(nil), r.provides[operation]...)
}

// InvalidatedBy returns the tags invalidated by mutation.
func (r *Registry) InvalidatedBy(mutation string) []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Tag(nil), r.invalidates[mutation]...)
}

func appendUnique(dst []Tag, tags ...Tag) []Tag {
	for _, t := range tags {
		if !hasAny([]Tag{t}, dst) {
			dst = append(dst, t)
		}
	}
	return dst
}

func hasAny(want, have []Tag) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

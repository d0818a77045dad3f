package dexstruct

import (
	"iter"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Hierarchy records superclass links of loaded classes. It is filled
// before the parallel phase and read concurrently afterwards; common
// ancestor answers are computed once per class pair and cached.
type Hierarchy struct {
	mu     sync.RWMutex
	supers map[string]string
	ifaces map[string][]string

	group singleflight.Group
	cache sync.Map
}

func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		supers: make(map[string]string),
		ifaces: make(map[string][]string),
	}
}

// Add registers class with its superclass and implemented interfaces.
func (h *Hierarchy) Add(class, super string, ifaces ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if super == "" && class != ObjectClass {
		super = ObjectClass
	}
	h.supers[class] = super
	if len(ifaces) > 0 {
		h.ifaces[class] = append([]string(nil), ifaces...)
	}
}

// Len returns the number of registered classes.
func (h *Hierarchy) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.supers)
}

// Super returns the registered superclass of class.
func (h *Hierarchy) Super(class string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.supers[class]
	return s, ok
}

// Implements reports whether class, one of its superclasses or one of the
// interfaces they declare extends iface. Interfaces are registered with
// Add like classes, their super-interfaces as ifaces.
func (h *Hierarchy) Implements(class, iface string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	var pending []string
	for c := range h.chain(class) {
		pending = append(pending, h.ifaces[c]...)
	}
	for len(pending) > 0 {
		i := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if i == iface {
			return true
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		pending = append(pending, h.ifaces[i]...)
	}
	return false
}

// IsSubclass reports whether class equals or extends super.
func (h *Hierarchy) IsSubclass(class, super string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.chain(class) {
		if c == super {
			return true
		}
	}
	return super == ObjectClass
}

// AssignableTo reports whether a value of class can be passed where target
// is expected. Classes missing from the hierarchy are assumed to fit.
func (h *Hierarchy) AssignableTo(class, target string) bool {
	if _, ok := h.Super(class); !ok {
		return true
	}
	return h.IsSubclass(class, target) || h.Implements(class, target)
}

// chain yields class and its superclasses, stopping if the links loop.
// The caller holds h.mu.
func (h *Hierarchy) chain(class string) iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := make(map[string]struct{})
		for c := class; c != ""; c = h.supers[c] {
			if _, loop := seen[c]; loop {
				return
			}
			seen[c] = struct{}{}
			if !yield(c) {
				return
			}
		}
	}
}

// CommonAncestor returns the closest class both a and b extend. Classes
// outside the hierarchy meet at java.lang.Object.
func (h *Hierarchy) CommonAncestor(a, b string) (string, bool) {
	if a == b {
		return a, true
	}
	if b < a {
		a, b = b, a
	}
	key := a + "|" + b
	if v, ok := h.cache.Load(key); ok {
		return v.(string), true
	}
	v, _, _ := h.group.Do(key, func() (any, error) {
		anc := h.commonAncestor(a, b)
		h.cache.Store(key, anc)
		return anc, nil
	})
	return v.(string), true
}

func (h *Hierarchy) commonAncestor(a, b string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	for c := range h.chain(a) {
		seen[c] = struct{}{}
	}
	for c := range h.chain(b) {
		if _, ok := seen[c]; ok {
			return c
		}
	}
	return ObjectClass
}

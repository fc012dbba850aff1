// Package intern deduplicates identifier strings into shared handles.
//
// Two handles obtained from the same Interner for equal content compare equal
// with ==, which lets hot loops compare pointers instead of string bytes.
package intern

import (
	"strings"
	"sync"
)

// Handle is a shared reference to one interned string. The zero Handle is
// the empty, non-interned value.
type Handle struct {
	p *string
}

func (h Handle) String() string {
	if h.p == nil {
		return ""
	}
	return *h.p
}

func (h Handle) IsZero() bool { return h.p == nil }

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

type Interner struct {
	mu sync.Mutex
	m  map[string]Handle
}

func New() *Interner {
	return &Interner{m: make(map[string]Handle)}
}

// Intern returns the handle for s, allocating it on first sight. Entries are
// never evicted.
func (in *Interner) Intern(s string) Handle {
	in.mu.Lock()
	defer in.mu.Unlock()
	if h, ok := in.m[s]; ok {
		return h
	}
	owned := strings.Clone(s)
	h := Handle{p: &owned}
	in.m[owned] = h
	return h
}

// Lookup returns the handle for s without inserting it.
func (in *Interner) Lookup(s string) (Handle, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	h, ok := in.m[s]
	return h, ok
}

func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.m)
}

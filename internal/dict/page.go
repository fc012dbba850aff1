package dict

import (
	"errors"
	"sync"
)

// PageCapacity is the number of local ids a page can hand out.
const PageCapacity = 1 << 16

var (
	ErrPageFull    = errors.New("dictionary page is full")
	ErrUnknownCode = errors.New("unknown dictionary code")
)

// Page maps strings to sequential 16-bit local ids and back.
type Page struct {
	mu      sync.RWMutex
	entries map[string]uint16
	reverse []string
}

func NewPage() *Page {
	return &Page{entries: make(map[string]uint16)}
}

// GetOrInsert returns the local id of key, assigning the next free id on
// first sight. A full page rejects new keys with ErrPageFull.
func (p *Page) GetOrInsert(key string) (uint16, error) {
	p.mu.RLock()
	id, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		return id, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.entries[key]; ok {
		return id, nil
	}
	if len(p.reverse) >= PageCapacity {
		return 0, ErrPageFull
	}
	id = uint16(len(p.reverse))
	p.entries[key] = id
	p.reverse = append(p.reverse, key)
	return id, nil
}

func (p *Page) Get(local uint16) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int(local) >= len(p.reverse) {
		return "", false
	}
	return p.reverse[local], true
}

func (p *Page) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.reverse)
}

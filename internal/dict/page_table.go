package dict

import (
	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

// PageTable is a two-level dictionary: a hash of the key picks a page, the
// page assigns a local id. Codes pack the page id in the high 16 bits.
type PageTable struct {
	pages *xsync.Map[uint16, *Page]
}

func NewPageTable() *PageTable {
	return &PageTable{pages: xsync.NewMap[uint16, *Page]()}
}

func CalcPageID(key string) uint16 {
	return uint16(xxhash.Sum64String(key) % PageCapacity)
}

func pack(page, local uint16) uint32 {
	return uint32(page)<<16 | uint32(local)
}

func unpack(code uint32) (page, local uint16) {
	return uint16(code >> 16), uint16(code)
}

func (t *PageTable) page(id uint16) *Page {
	p, _ := t.pages.LoadOrCompute(id, func() (*Page, bool) {
		return NewPage(), false
	})
	return p
}

// Insert returns the code for key; equal keys always get the same code.
func (t *PageTable) Insert(key string) (uint32, error) {
	pageID := CalcPageID(key)
	local, err := t.page(pageID).GetOrInsert(key)
	if err != nil {
		return 0, err
	}
	return pack(pageID, local), nil
}

func (t *PageTable) Lookup(code uint32) (string, bool) {
	pageID, local := unpack(code)
	p, ok := t.pages.Load(pageID)
	if !ok {
		return "", false
	}
	return p.Get(local)
}

// Len is the number of distinct keys across all pages.
func (t *PageTable) Len() int {
	n := 0
	t.pages.Range(func(_ uint16, p *Page) bool {
		n += p.Len()
		return true
	})
	return n
}

// Pages is the number of pages created so far.
func (t *PageTable) Pages() int {
	return t.pages.Size()
}

// Range visits every (code, key) pair. Order is unspecified.
func (t *PageTable) Range(fn func(code uint32, key string) bool) {
	t.pages.Range(func(pageID uint16, p *Page) bool {
		p.mu.RLock()
		keys := append([]string(nil), p.reverse...)
		p.mu.RUnlock()
		for i, k := range keys {
			if !fn(pack(pageID, uint16(i)), k) {
				return false
			}
		}
		return true
	})
}

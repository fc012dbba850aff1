package dict

import (
	"encoding/binary"
	"fmt"
)

// Encoder is one encoding session. Codes are only meaningful within the
// session (or a dictionary restored from it).
type Encoder struct {
	table *PageTable
}

func NewEncoder() *Encoder {
	return &Encoder{table: NewPageTable()}
}

func (e *Encoder) Encode(s string) (uint32, error) {
	return e.table.Insert(s)
}

func (e *Encoder) Decode(code uint32) (string, bool) {
	return e.table.Lookup(code)
}

func (e *Encoder) Len() int { return e.table.Len() }

// CompressStack encodes every entry of a stack, keeping order.
func (e *Encoder) CompressStack(stack []string) ([]uint32, error) {
	codes := make([]uint32, len(stack))
	for i, s := range stack {
		c, err := e.table.Insert(s)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", s, err)
		}
		codes[i] = c
	}
	return codes, nil
}

func (e *Encoder) DecodeStack(codes []uint32) ([]string, error) {
	out := make([]string, len(codes))
	for i, c := range codes {
		s, ok := e.table.Lookup(c)
		if !ok {
			return nil, fmt.Errorf("code 0x%08x: %w", c, ErrUnknownCode)
		}
		out[i] = s
	}
	return out, nil
}

// Entry is one persisted dictionary mapping.
type Entry struct {
	Code  uint32
	Value string
}

func (e *Encoder) Entries() []Entry {
	entries := make([]Entry, 0, e.table.Len())
	e.table.Range(func(code uint32, key string) bool {
		entries = append(entries, Entry{Code: code, Value: key})
		return true
	})
	return entries
}

// Restore rebuilds an encoder from persisted entries. Entries must come from
// one session; a code whose page id does not match its value is rejected.
func Restore(entries []Entry) (*Encoder, error) {
	byPage := make(map[uint16][]Entry)
	for _, en := range entries {
		page, _ := unpack(en.Code)
		if page != CalcPageID(en.Value) {
			return nil, fmt.Errorf("code 0x%08x does not belong to %q", en.Code, en.Value)
		}
		byPage[page] = append(byPage[page], en)
	}

	e := NewEncoder()
	for pageID, list := range byPage {
		p := e.table.page(pageID)
		p.reverse = make([]string, len(list))
		for _, en := range list {
			_, local := unpack(en.Code)
			if int(local) >= len(list) {
				return nil, fmt.Errorf("code 0x%08x: local id out of range", en.Code)
			}
			p.reverse[local] = en.Value
			p.entries[en.Value] = local
		}
	}
	return e, nil
}

// PackCodes serializes codes as little-endian uint32s for storage.
func PackCodes(codes []uint32) []byte {
	b := make([]byte, 4*len(codes))
	for i, c := range codes {
		binary.LittleEndian.PutUint32(b[i*4:], c)
	}
	return b
}

func UnpackCodes(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("packed codes length %d is not a multiple of 4", len(b))
	}
	codes := make([]uint32, len(b)/4)
	for i := range codes {
		codes[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return codes, nil
}

package store

import (
	"fmt"

	"github.com/alextreichler/threadViewer/internal/dict"
	"github.com/alextreichler/threadViewer/internal/ingest"
)

type dictRow struct {
	workspace string
	entry     dict.Entry
}

var dictionaryTable = ingest.Table[dictRow]{
	Name:      "dictionary",
	InsertSQL: "INSERT OR REPLACE INTO dictionary (workspace, code, value) VALUES (?, ?, ?)",
	Args: func(r dictRow) []any {
		return []any{r.workspace, int64(r.entry.Code), r.entry.Value}
	},
}

// SaveDictionary persists the code table so stored stack codes can be decoded
// after a restart.
func (s *SQLiteStore) SaveDictionary(workspace string, entries []dict.Entry) error {
	rows := make([]dictRow, len(entries))
	for i, e := range entries {
		rows[i] = dictRow{workspace: workspace, entry: e}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return ingest.BatchAdd(s.db, dictionaryTable, rows, s.batchOpts...)
}

func (s *SQLiteStore) LoadDictionary(workspace string) ([]dict.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT code, value FROM dictionary WHERE workspace = ?", workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []dict.Entry
	for rows.Next() {
		var (
			code  int64
			value string
		)
		if err := rows.Scan(&code, &value); err != nil {
			return nil, fmt.Errorf("failed to scan dictionary entry: %w", err)
		}
		out = append(out, dict.Entry{Code: uint32(code), Value: value})
	}
	return out, rows.Err()
}

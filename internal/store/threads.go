package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alextreichler/threadViewer/internal/ingest"
	"github.com/alextreichler/threadViewer/internal/models"
)

var threadsTable = ingest.Table[models.ThreadRow]{
	Name: "thread_info",
	InsertSQL: `INSERT INTO thread_info (id, workspace, file_id, thread_id, thread_name, daemon, prio, os_prio,
		tid, nid, address, thread_status, start_line, end_line, method_name, stack_codes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	Args: func(r models.ThreadRow) []any {
		var prio any
		if r.Prio != nil {
			prio = *r.Prio
		}
		return []any{
			r.ID, r.Workspace, r.FileID, r.ThreadID, r.Name, r.Daemon, prio, r.OsPrio,
			int64(r.Tid), int64(r.Nid), r.Address, r.Status.String(), r.StartLine, r.EndLine,
			r.MethodName, r.StackCodes,
		}
	},
}

var stacksTable = ingest.Table[models.StackRow]{
	Name: "thread_stack",
	InsertSQL: `INSERT INTO thread_stack (id, workspace, thread_id, depth, class_name, method_name, method_line, stack_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	Args: func(r models.StackRow) []any {
		return []any{r.ID, r.Workspace, r.ThreadRow, r.Depth, r.ClassName, r.MethodName, r.MethodLine, r.Status}
	},
}

func (s *SQLiteStore) InsertThreads(rows []models.ThreadRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ingest.BatchAdd(s.db, threadsTable, rows, s.batchOpts...)
}

func (s *SQLiteStore) InsertStacks(rows []models.StackRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ingest.BatchAdd(s.db, stacksTable, rows, s.batchOpts...)
}

const threadColumns = `id, workspace, file_id, thread_id, thread_name, daemon, prio, os_prio, tid, nid,
	address, thread_status, start_line, end_line, method_name, stack_codes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreadRow(sc rowScanner) (models.ThreadRow, error) {
	var (
		r        models.ThreadRow
		prio     sql.NullInt64
		tid, nid int64
		status   string
	)
	err := sc.Scan(&r.ID, &r.Workspace, &r.FileID, &r.ThreadID, &r.Name, &r.Daemon, &prio, &r.OsPrio,
		&tid, &nid, &r.Address, &status, &r.StartLine, &r.EndLine, &r.MethodName, &r.StackCodes)
	if err != nil {
		return r, err
	}
	if prio.Valid {
		p := int(prio.Int64)
		r.Prio = &p
	}
	r.Tid, r.Nid = uint64(tid), uint64(nid)
	r.Status, _ = models.ParseThreadStatus(status)
	return r, nil
}

// ListThreads returns one page of threads plus the total number of matches.
func (s *SQLiteStore) ListThreads(filter *models.ThreadFilter) ([]models.ThreadRow, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"workspace = ?"}
	args := []any{filter.Workspace}
	if filter.FileID != "" {
		where = append(where, "file_id = ?")
		args = append(args, filter.FileID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, st.String())
		}
		where = append(where, fmt.Sprintf("thread_status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Name != "" {
		where = append(where, "thread_name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.Name)+"%")
	}
	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM thread_info"+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count threads: %w", err)
	}

	query := "SELECT " + threadColumns + " FROM thread_info" + whereSQL + " ORDER BY file_id, start_line"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.ThreadRow
	for rows.Next() {
		r, err := scanThreadRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan thread: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLiteStore) CountThreadStatus(workspace, fileID string) ([]models.StatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT thread_status, COUNT(*) FROM thread_info WHERE workspace = ?"
	args := []any{workspace}
	if fileID != "" {
		query += " AND file_id = ?"
		args = append(args, fileID)
	}
	query += " GROUP BY thread_status"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count thread status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.ThreadStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		st, _ := models.ParseThreadStatus(status)
		counts[st] += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []models.StatusCount
	for _, st := range models.AllStatuses {
		if n, ok := counts[st]; ok {
			out = append(out, models.StatusCount{Status: st, Count: n})
		}
	}
	return out, nil
}

// StatusTimeline returns per-file status counts for every thread dump of the
// workspace, ordered by capture time.
func (s *SQLiteStore) StatusTimeline(workspace string) ([]models.FileStatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT f.id, f.path, f.captured_at, t.thread_status, COUNT(t.id)
		FROM dump_files AS f JOIN thread_info AS t ON t.file_id = f.id AND t.workspace = f.workspace
		WHERE f.workspace = ?
		GROUP BY f.id, t.thread_status
		ORDER BY f.captured_at, f.path`, workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to query status timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.FileStatusCount
	for rows.Next() {
		var (
			c        models.FileStatusCount
			captured sql.NullInt64
			status   string
		)
		if err := rows.Scan(&c.FileID, &c.Path, &captured, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan timeline row: %w", err)
		}
		if captured.Valid {
			c.CapturedAt = time.UnixMicro(captured.Int64).UTC()
		}
		c.Status, _ = models.ParseThreadStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func threadFromRow(r models.ThreadRow) *models.Thread {
	return &models.Thread{
		ID:        r.ThreadID,
		FileID:    r.FileID,
		Name:      r.Name,
		Daemon:    r.Daemon,
		Prio:      r.Prio,
		OsPrio:    r.OsPrio,
		Tid:       r.Tid,
		Nid:       r.Nid,
		Status:    r.Status,
		Address:   r.Address,
		Frames:    []models.CallFrame{},
		StartLine: r.StartLine,
		EndLine:   r.EndLine,
	}
}

func scanFrame(sc rowScanner) (string, models.CallFrame, error) {
	var (
		threadRow string
		f         models.CallFrame
		status    string
	)
	if err := sc.Scan(&threadRow, &f.ClassName, &f.MethodName, &f.LineNumber, &status); err != nil {
		return "", f, err
	}
	if err := json.Unmarshal([]byte(status), &f.Frame); err != nil {
		return "", f, fmt.Errorf("bad stack_status %q: %w", status, err)
	}
	return threadRow, f, nil
}

// LoadStacks rebuilds every thread of a workspace with its frames, innermost
// first, in file and line order.
func (s *SQLiteStore) LoadStacks(workspace string) ([]*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT "+threadColumns+" FROM thread_info WHERE workspace = ? ORDER BY file_id, start_line", workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	var (
		threads []*models.Thread
		byID    = make(map[string]*models.Thread)
	)
	for rows.Next() {
		r, err := scanThreadRow(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		t := threadFromRow(r)
		threads = append(threads, t)
		byID[r.ID] = t
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	frames, err := s.db.Query(`SELECT thread_id, class_name, method_name, method_line, stack_status
		FROM thread_stack WHERE workspace = ? ORDER BY thread_id, depth`, workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to query stacks: %w", err)
	}
	defer func() { _ = frames.Close() }()

	for frames.Next() {
		rowID, f, err := scanFrame(frames)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		if t, ok := byID[rowID]; ok {
			t.Frames = append(t.Frames, f)
		}
	}
	return threads, frames.Err()
}

// GetStackCodes returns the packed dictionary codes of a thread's call frames.
func (s *SQLiteStore) GetStackCodes(workspace, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var codes []byte
	err := s.db.QueryRow("SELECT stack_codes FROM thread_info WHERE workspace = ? AND id = ?", workspace, id).Scan(&codes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stack codes: %w", err)
	}
	return codes, nil
}

func (s *SQLiteStore) GetThread(workspace, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanThreadRow(s.db.QueryRow("SELECT "+threadColumns+" FROM thread_info WHERE workspace = ? AND id = ?", workspace, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	t := threadFromRow(r)

	rows, err := s.db.Query(`SELECT thread_id, class_name, method_name, method_line, stack_status
		FROM thread_stack WHERE workspace = ? AND thread_id = ? ORDER BY depth`, workspace, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query stack: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		_, f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		t.Frames = append(t.Frames, f)
	}
	return t, rows.Err()
}

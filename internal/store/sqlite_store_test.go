package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextreichler/threadViewer/internal/dict"
	"github.com/alextreichler/threadViewer/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"), true, WithMaxOpenConns(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(i int) *int { return &i }

type fixture struct {
	ws      *models.Workspace
	early   models.DumpFile
	late    models.DumpFile
	threads []models.ThreadRow
	blocked models.ThreadRow
}

func seed(t *testing.T, s *SQLiteStore) fixture {
	t.Helper()
	ws, err := s.CreateWorkspace("/tmp/bundle")
	require.NoError(t, err)

	early := models.DumpFile{ID: uuid.NewString(), Workspace: ws.ID, Path: "jstack_20240101_100000.txt",
		Type: models.FileThreadDump, CapturedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	late := models.DumpFile{ID: uuid.NewString(), Workspace: ws.ID, Path: "jstack_20240101_100500.txt",
		Type: models.FileThreadDump, CapturedAt: time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)}
	gc := models.DumpFile{ID: uuid.NewString(), Workspace: ws.ID, Path: "gc.log", Type: models.FileGc}
	require.NoError(t, s.InsertDumpFiles([]models.DumpFile{late, gc, early}))

	row := func(file models.DumpFile, name string, status models.ThreadStatus, line int) models.ThreadRow {
		return models.ThreadRow{
			ID: uuid.NewString(), Workspace: ws.ID, FileID: file.ID, ThreadID: "#1", Name: name,
			Daemon: true, Prio: intPtr(5), OsPrio: 0, Tid: 0x7f3d80f21000, Nid: 0x1a2b,
			Status: status, StartLine: line, EndLine: line + 3, MethodName: "java.lang.Thread.run",
		}
	}
	threads := []models.ThreadRow{
		row(early, "worker-1", models.StatusRunnable, 1),
		row(early, "worker-2", models.StatusBlocked, 10),
		row(early, "pool-1", models.StatusWaiting, 20),
		row(late, "worker-1", models.StatusRunnable, 1),
		row(late, "worker-2", models.StatusRunnable, 10),
	}
	threads[2].Prio = nil
	require.NoError(t, s.InsertThreads(threads))

	blocked := threads[1]
	stack := []models.StackRow{
		{ID: uuid.NewString(), Workspace: ws.ID, ThreadRow: blocked.ID, Depth: 0,
			ClassName: "com.example.Cache", MethodName: "com.example.Cache.get", MethodLine: 42,
			Status: models.CallFrame{Frame: models.MethodCall()}.StatusJSON()},
		{ID: uuid.NewString(), Workspace: ws.ID, ThreadRow: blocked.ID, Depth: 1,
			ClassName: "java.lang.Object",
			Status:    models.CallFrame{Frame: models.Monitor(0x76ab, models.ActionWaitingToLock)}.StatusJSON()},
		{ID: uuid.NewString(), Workspace: ws.ID, ThreadRow: blocked.ID, Depth: 2,
			ClassName: "java.lang", MethodName: "java.lang.Thread.run", MethodLine: 833,
			Status: models.CallFrame{Frame: models.MethodCall()}.StatusJSON()},
	}
	require.NoError(t, s.InsertStacks(stack))

	return fixture{ws: ws, early: early, late: late, threads: threads, blocked: blocked}
}

func TestWorkspaces(t *testing.T) {
	s := newTestStore(t)
	ws, err := s.CreateWorkspace("/data/bundle")
	require.NoError(t, err)

	got, err := s.GetWorkspace(ws.ID)
	require.NoError(t, err)
	assert.Equal(t, ws.Path, got.Path)
	assert.True(t, ws.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetWorkspace("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListWorkspaces()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDumpFiles_OrderedByCaptureTime(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)

	files, err := s.ListDumpFiles(f.ws.ID)
	require.NoError(t, err)
	require.Len(t, files, 3)
	// NULL capture time sorts first
	assert.Equal(t, models.FileGc, files[0].Type)
	assert.True(t, files[0].CapturedAt.IsZero())
	assert.Equal(t, f.early.ID, files[1].ID)
	assert.True(t, f.early.CapturedAt.Equal(files[1].CapturedAt))
	assert.Equal(t, f.late.ID, files[2].ID)
}

func TestListThreads_Filters(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)

	all, total, err := s.ListThreads(&models.ThreadFilter{Workspace: f.ws.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)

	rows, total, err := s.ListThreads(&models.ThreadFilter{Workspace: f.ws.ID, FileID: f.early.ID,
		Statuses: []models.ThreadStatus{models.StatusBlocked, models.StatusWaiting}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rows, 2)
	assert.Equal(t, "worker-2", rows[0].Name)
	assert.Equal(t, models.StatusBlocked, rows[0].Status)
	assert.Equal(t, uint64(0x7f3d80f21000), rows[0].Tid)
	require.NotNil(t, rows[0].Prio)
	assert.Equal(t, 5, *rows[0].Prio)
	assert.Nil(t, rows[1].Prio)

	rows, total, err = s.ListThreads(&models.ThreadFilter{Workspace: f.ws.ID, Name: "pool", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, rows, 1)

	rows, total, err = s.ListThreads(&models.ThreadFilter{Workspace: f.ws.ID, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, rows, 1)
}

func TestCountThreadStatus(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)

	counts, err := s.CountThreadStatus(f.ws.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []models.StatusCount{
		{Status: models.StatusRunnable, Count: 3},
		{Status: models.StatusWaiting, Count: 1},
		{Status: models.StatusBlocked, Count: 1},
	}, counts)

	counts, err = s.CountThreadStatus(f.ws.ID, f.late.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.StatusCount{{Status: models.StatusRunnable, Count: 2}}, counts)
}

func TestStatusTimeline(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)

	cells, err := s.StatusTimeline(f.ws.ID)
	require.NoError(t, err)
	require.Len(t, cells, 4)
	for _, c := range cells[:3] {
		assert.Equal(t, f.early.ID, c.FileID)
	}
	assert.Equal(t, f.late.ID, cells[3].FileID)
	assert.Equal(t, 2, cells[3].Count)
	assert.True(t, f.late.CapturedAt.Equal(cells[3].CapturedAt))
}

func TestLoadStacksAndGetThread(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)

	threads, err := s.LoadStacks(f.ws.ID)
	require.NoError(t, err)
	require.Len(t, threads, 5)

	var blocked *models.Thread
	for _, th := range threads {
		if th.Status == models.StatusBlocked {
			blocked = th
		}
	}
	require.NotNil(t, blocked)
	require.Len(t, blocked.Frames, 3)
	assert.Equal(t, "com.example.Cache.get", blocked.Frames[0].MethodName)
	assert.Equal(t, models.FrameMonitor, blocked.Frames[1].Frame.Kind)
	assert.Equal(t, models.ActionWaitingToLock, blocked.Frames[1].Frame.Action)
	assert.Equal(t, uint64(0x76ab), blocked.Frames[1].Frame.Address)
	assert.Equal(t, 833, blocked.Frames[2].LineNumber)

	one, err := s.GetThread(f.ws.ID, f.blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, blocked, one)

	_, err = s.GetThread(f.ws.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDictionaryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	enc := dict.NewEncoder()
	codes, err := enc.CompressStack([]string{"a.b.c", "d.e.f"})
	require.NoError(t, err)

	require.NoError(t, s.SaveDictionary("ws", enc.Entries()))
	entries, err := s.LoadDictionary("ws")
	require.NoError(t, err)

	restored, err := dict.Restore(entries)
	require.NoError(t, err)
	decoded, err := restored.DecodeStack(codes)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b.c", "d.e.f"}, decoded)
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMetadata("latest_workspace")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetMetadata("latest_workspace", "a"))
	require.NoError(t, s.SetMetadata("latest_workspace", "b"))
	v, err := s.GetMetadata("latest_workspace")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	s, err := NewSQLiteStore(path, true)
	require.NoError(t, err)
	ws, err := s.CreateWorkspace("/bundle")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, false)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, err = s.GetWorkspace(ws.ID)
	assert.NoError(t, err)
}

func TestOptimize(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	p := models.NewProgressTracker()
	assert.NoError(t, s.Optimize(p))
	assert.NoError(t, s.Optimize(nil))
}

func connPragmas(t *testing.T, s *SQLiteStore, n int) (synchronous []int, modes []string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		conn, err := s.db.Conn(ctx)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()
		var level int
		var mode string
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA synchronous`).Scan(&level))
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
		synchronous = append(synchronous, level)
		modes = append(modes, mode)
	}
	return synchronous, modes
}

func TestNewSQLiteStore_BulkLoadOnEveryConnection(t *testing.T) {
	s := newTestStore(t)
	synchronous, modes := connPragmas(t, s, 3)
	assert.Equal(t, []int{0, 0, 0}, synchronous)
	assert.Equal(t, []string{"off", "off", "off"}, modes)
}

func TestNewSQLiteStore_DurableWithoutBulkLoad(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"), true, WithMaxOpenConns(4), WithBulkLoad(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	synchronous, modes := connPragmas(t, s, 3)
	assert.Equal(t, []int{1, 1, 1}, synchronous)
	assert.Equal(t, []string{"wal", "wal", "wal"}, modes)
}

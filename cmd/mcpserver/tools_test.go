package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextreichler/threadViewer/internal/cache"
	"github.com/alextreichler/threadViewer/internal/models"
	"github.com/alextreichler/threadViewer/internal/parser"
	"github.com/alextreichler/threadViewer/internal/store"
)

const contendedDump = `2024-03-01 12:00:00
Full thread dump OpenJDK 64-Bit Server VM (17.0.2+8 mixed mode):

"owner" #11 prio=5 os_prio=0 tid=0x00007f0000000001 nid=0x201 runnable [0x00007f1000000000]
   java.lang.Thread.State: RUNNABLE
	at java.io.FileOutputStream.writeBytes(Native Method)
	at com.example.Journal.append(Journal.java:40)
	- locked <0x00000000000000c0> (a java.lang.Object)
	at java.lang.Thread.run(Thread.java:833)

"waiter-1" #12 prio=5 os_prio=0 tid=0x00007f0000000002 nid=0x202 waiting for monitor entry [0x00007f1000000001]
   java.lang.Thread.State: BLOCKED (on object monitor)
	at com.example.Journal.append(Journal.java:38)
	- waiting to lock <0x00000000000000c0> (a java.lang.Object)
	at java.lang.Thread.run(Thread.java:833)

"waiter-2" #13 prio=5 os_prio=0 tid=0x00007f0000000003 nid=0x203 waiting for monitor entry [0x00007f1000000002]
   java.lang.Thread.State: BLOCKED (on object monitor)
	at com.example.Journal.append(Journal.java:38)
	- waiting to lock <0x00000000000000c0> (a java.lang.Object)
	at java.lang.Thread.run(Thread.java:833)

"waiter-3" #14 prio=5 os_prio=0 tid=0x00007f0000000004 nid=0x204 waiting for monitor entry [0x00007f1000000003]
   java.lang.Thread.State: BLOCKED (on object monitor)
	at com.example.Journal.append(Journal.java:38)
	- waiting to lock <0x00000000000000c0> (a java.lang.Object)
	at java.lang.Thread.run(Thread.java:833)
`

func newTools(t *testing.T) *toolServer {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	trees, err := cache.NewTreeCache(4, cache.StoreLoader(s, 1))
	require.NoError(t, err)
	return &toolServer{
		store: s,
		trees: trees,
		opts: cache.Options{
			DataDir:  t.TempDir(),
			Keywords: models.DefaultFileKeywords(),
			Parse:    parser.DumpOptions{SkipSystemThreads: true},
		},
		logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func analyzed(t *testing.T) *toolServer {
	t.Helper()
	tools := newTools(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jstack_20240301_120000.txt"), []byte(contendedDump), 0644))

	res, err := tools.analyzeBundle(context.Background(), call(map[string]any{"bundle_path": dir}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "Threads: 4")
	return tools
}

func TestTools_BeforeAnalysis(t *testing.T) {
	tools := newTools(t)

	res, err := tools.statusSummary(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "analyze_bundle")

	res, err = tools.analyzeBundle(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.analyzeBundle(context.Background(), call(map[string]any{"bundle_path": filepath.Join(t.TempDir(), "nope")}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTools_StatusSummary(t *testing.T) {
	tools := analyzed(t)

	res, err := tools.statusSummary(context.Background(), call(nil))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "jstack_20240301_120000.txt (4 threads)")
	assert.Regexp(t, `BLOCKED\s+3`, out)
	assert.Regexp(t, `RUNNABLE\s+1`, out)

	res, err = tools.statusSummary(context.Background(), call(map[string]any{"workspace": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTools_HotPathsAndSearch(t *testing.T) {
	tools := analyzed(t)

	res, err := tools.hotPaths(context.Background(), call(map[string]any{"top_n": float64(1)}))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "Hot paths (4 samples total)")
	assert.Contains(t, out, "#1: 3 samples (75.0%)")
	assert.NotContains(t, out, "#2:")

	res, err = tools.searchMethods(context.Background(), call(map[string]any{"query": "Journal"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "com.example.Journal.append")

	res, err = tools.searchMethods(context.Background(), call(map[string]any{"query": "jurnal", "fuzzy": float64(2)}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "com.example.Journal.append (distance 1)")
}

func TestTools_LockContention(t *testing.T) {
	tools := analyzed(t)

	res, err := tools.lockContention(context.Background(), call(nil))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "[Warning]")
	assert.Contains(t, out, `held by "owner", 3 blocked: "waiter-1" "waiter-2" "waiter-3"`)
}

func TestTools_StackGroups(t *testing.T) {
	tools := analyzed(t)

	res, err := tools.stackGroups(context.Background(), call(map[string]any{"top_n": float64(1)}))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "#1: 3 threads, top com.example.Journal.append")
	assert.NotContains(t, out, "#2:")
}

func TestTools_HealthCheck(t *testing.T) {
	tools := analyzed(t)

	res, err := tools.healthCheck(context.Background(), call(nil))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "Overall: Critical")
	assert.Contains(t, out, "[Warning] Monitor Contention: 3 on 0x00000000000000c0 (a java.lang.Object)")
	assert.Contains(t, out, "[Pass] Deadlocks: 0")
}

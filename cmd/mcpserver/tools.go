package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alextreichler/threadViewer/internal/analysis"
	"github.com/alextreichler/threadViewer/internal/cache"
	"github.com/alextreichler/threadViewer/internal/diagnostics"
	"github.com/alextreichler/threadViewer/internal/logutil"
	"github.com/alextreichler/threadViewer/internal/store"
	"github.com/alextreichler/threadViewer/internal/timeline"
)

// toolServer answers MCP tool calls against one threadViewer database.
type toolServer struct {
	store  store.Store
	trees  *cache.TreeCache
	opts   cache.Options
	logger *slog.Logger
}

func (t *toolServer) register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("analyze_bundle",
		mcp.WithDescription("Analyze a directory or archive of JVM thread dumps (jstack output). Returns the workspace id used by the other tools."),
		mcp.WithString("bundle_path",
			mcp.Required(),
			mcp.Description("Absolute path to a directory, .zip or .tar(.gz) archive"),
		),
	), t.analyzeBundle)

	s.AddTool(mcp.NewTool("status_summary",
		mcp.WithDescription("Thread counts per JVM state for each dump file. Start here."),
		mcp.WithString("workspace", mcp.Description("Workspace id (default: most recent analysis)")),
	), t.statusSummary)

	s.AddTool(mcp.NewTool("hot_paths",
		mcp.WithDescription("Call paths where the most thread samples end, merged across all dumps of the workspace."),
		mcp.WithString("workspace", mcp.Description("Workspace id (default: most recent analysis)")),
		mcp.WithNumber("top_n", mcp.Description("Number of paths to return (default: 10)")),
	), t.hotPaths)

	s.AddTool(mcp.NewTool("search_methods",
		mcp.WithDescription("Search method names seen in stacks. Supports * and ? wildcards; set fuzzy to tolerate typos."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text, wildcard pattern or FTS query")),
		mcp.WithString("workspace", mcp.Description("Workspace id (default: most recent analysis)")),
		mcp.WithNumber("fuzzy", mcp.Description("Maximum edit distance; 0 disables fuzzy ranking")),
		mcp.WithNumber("limit", mcp.Description("Maximum matches (default: 10)")),
	), t.searchMethods)

	s.AddTool(mcp.NewTool("lock_contention",
		mcp.WithDescription("Monitors and locks with their owners and waiters, blocked chains and deadlocks."),
		mcp.WithString("workspace", mcp.Description("Workspace id (default: most recent analysis)")),
	), t.lockContention)

	s.AddTool(mcp.NewTool("stack_groups",
		mcp.WithDescription("Threads grouped by identical stacks, largest groups first, with a hint for well-known wait patterns."),
		mcp.WithString("workspace", mcp.Description("Workspace id (default: most recent analysis)")),
		mcp.WithNumber("top_n", mcp.Description("Number of groups to return (default: 10)")),
	), t.stackGroups)

	s.AddTool(mcp.NewTool("health_check",
		mcp.WithDescription("Run health checks over the workspace: deadlocks, lock contention, blocked ratio, thread growth, stuck threads and hot stacks."),
		mcp.WithString("workspace", mcp.Description("Workspace id (default: most recent analysis)")),
	), t.healthCheck)
}

func (t *toolServer) workspace(req mcp.CallToolRequest) (string, error) {
	id := req.GetString("workspace", "")
	if id == "" {
		latest, err := t.store.GetMetadata(cache.LatestWorkspaceKey)
		if err != nil {
			return "", fmt.Errorf("no workspace analyzed yet, call analyze_bundle first")
		}
		id = latest
	}
	ws, err := t.store.GetWorkspace(id)
	if err != nil {
		return "", err
	}
	return ws.ID, nil
}

func (t *toolServer) analyzeBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("bundle_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := cache.New(path, t.store, t.opts, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze bundle: %v", err)), nil
	}
	t.trees.Put(data.Workspace.ID, data.Forest)
	t.logger.Info("Bundle analyzed", "workspace", data.Workspace.ID, "threads", data.ThreadCount)

	failed := 0
	for _, f := range data.Failures {
		failed += len(f.Failures)
	}
	return mcp.NewToolResultText(fmt.Sprintf(`Bundle analyzed.

Workspace: %s
Files: %d
Threads: %d
Unparsable stanzas: %d
Call tree samples: %d
`, data.Workspace.ID, len(data.Files), data.ThreadCount, failed, data.Forest.TotalSamples())), nil
}

func (t *toolServer) statusSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := t.workspace(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cells, err := t.store.StatusTimeline(ws)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	files, err := t.store.ListDumpFiles(ws)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type fileSummary struct {
		path   string
		counts map[string]int
		total  int
	}
	var order []string
	byFile := make(map[string]*fileSummary)
	for _, c := range cells {
		fs, ok := byFile[c.FileID]
		if !ok {
			fs = &fileSummary{path: c.Path, counts: make(map[string]int)}
			byFile[c.FileID] = fs
			order = append(order, c.FileID)
		}
		fs.counts[c.Status.String()] += c.Count
		fs.total += c.Count
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Workspace %s: %d files, %d with threads\n\n", ws, len(files), len(order))
	for _, id := range order {
		fs := byFile[id]
		fmt.Fprintf(&sb, "%s (%d threads)\n", fs.path, fs.total)
		states := make([]string, 0, len(fs.counts))
		for st := range fs.counts {
			states = append(states, st)
		}
		sort.Strings(states)
		for _, st := range states {
			fmt.Fprintf(&sb, "  %-14s %d\n", st, fs.counts[st])
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *toolServer) hotPaths(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := t.workspace(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := t.trees.GetOrBuild(ws)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	paths := f.HotPaths(int(req.GetFloat("top_n", 10)))
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hot paths (%d samples total)\n\n", f.TotalSamples())
	if len(paths) == 0 {
		sb.WriteString("No samples.\n")
	}
	for i, p := range paths {
		fmt.Fprintf(&sb, "#%d: %d samples (%.1f%%)\n", i+1, p.Samples, p.Percentage)
		for depth, name := range p.Path {
			fmt.Fprintf(&sb, "  %s%s\n", strings.Repeat("  ", depth), name)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *toolServer) searchMethods(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ws, err := t.workspace(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	matches, err := t.store.SearchMethods(ws, query, int(req.GetFloat("fuzzy", 0)), int(req.GetFloat("limit", 0)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d matches for %q\n\n", len(matches), query)
	for _, m := range matches {
		if m.Distance > 0 {
			fmt.Fprintf(&sb, "%s (distance %d)\n", m.Name, m.Distance)
			continue
		}
		sb.WriteString(m.Name)
		sb.WriteByte('\n')
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *toolServer) lockContention(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := t.workspace(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threads, err := t.store.LoadStacks(ws)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report := analysis.AnalyzeLocks(threads)

	var sb strings.Builder
	if len(report.Findings) == 0 {
		sb.WriteString("No contention or deadlocks found.\n")
	}
	for _, f := range report.Findings {
		fmt.Fprintf(&sb, "[%s] %s\n", f.Severity, f.Message)
	}

	contended := 0
	for _, l := range report.Locks {
		blocked := l.Blocked()
		if blocked == 0 {
			continue
		}
		if contended == 0 {
			sb.WriteString("\nContended locks:\n")
		}
		contended++
		owner := "nobody"
		if l.Owner != nil {
			owner = fmt.Sprintf("%q", l.Owner.Name)
		}
		fmt.Fprintf(&sb, "  %s (a %s) held by %s, %d blocked:", l.Address, l.ClassName, owner, blocked)
		for _, w := range l.Waiters {
			if w.Kind != analysis.WaitOn {
				fmt.Fprintf(&sb, " %q", w.Thread.Name)
			}
		}
		sb.WriteByte('\n')
	}

	for _, c := range report.Chains {
		names := make([]string, len(c.Threads))
		for i, th := range c.Threads {
			names[i] = th.Name
		}
		fmt.Fprintf(&sb, "\nBlocked chain: %s\n", strings.Join(names, " -> "))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *toolServer) stackGroups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := t.workspace(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threads, err := t.store.LoadStacks(ws)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	groups := logutil.GroupByStack(threads)
	if top := int(req.GetFloat("top_n", 10)); top > 0 && len(groups) > top {
		groups = groups[:top]
	}

	var sb strings.Builder
	for i, g := range groups {
		fmt.Fprintf(&sb, "#%d: %d threads, top %s\n", i+1, g.Count, g.TopMethod)
		if g.Insight != nil {
			fmt.Fprintf(&sb, "  hint: %s %s\n", g.Insight.Description, g.Insight.Action)
		}
		for _, fr := range g.Frames {
			fmt.Fprintf(&sb, "    %s\n", fr)
		}
	}
	if len(groups) == 0 {
		sb.WriteString("No threads.\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (t *toolServer) healthCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ws, err := t.workspace(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cells, err := t.store.StatusTimeline(ws)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threads, err := t.store.LoadStacks(ws)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report := diagnostics.Audit(threads, timeline.BuildSnapshots(cells))

	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall: %s\n\n", report.Worst())
	for _, r := range report.Results {
		fmt.Fprintf(&sb, "[%s] %s: %s (expected %s)\n", r.Status, r.Name, r.CurrentValue, r.ExpectedValue)
		if r.Remediation != "" {
			fmt.Fprintf(&sb, "  %s\n", r.Remediation)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

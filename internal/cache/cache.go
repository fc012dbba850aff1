package cache

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/alextreichler/threadViewer/internal/calltree"
	"github.com/alextreichler/threadViewer/internal/config"
	"github.com/alextreichler/threadViewer/internal/dict"
	"github.com/alextreichler/threadViewer/internal/downloader"
	"github.com/alextreichler/threadViewer/internal/intern"
	"github.com/alextreichler/threadViewer/internal/metrics"
	"github.com/alextreichler/threadViewer/internal/models"
	"github.com/alextreichler/threadViewer/internal/parser"
	"github.com/alextreichler/threadViewer/internal/store"
)

// LatestWorkspaceKey is the metadata key holding the most recently analyzed workspace.
const LatestWorkspaceKey = "latest_workspace"

type Options struct {
	DataDir          string
	Keywords         models.FileKeywords
	Parse            parser.DumpOptions
	SkipPseudoFrames bool
	TreeWorkers      int
}

func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		DataDir:          cfg.ResolveDataDir(),
		Keywords:         cfg.Files,
		Parse:            parser.DumpOptions{SkipSystemThreads: cfg.Ingest.SkipSystemThreads},
		SkipPseudoFrames: cfg.Ingest.SkipPseudoFrames,
		TreeWorkers:      cfg.Ingest.TreeWorkers,
	}
}

// TreeOptions are the call-tree options every build of a workspace must use,
// whether from a fresh analysis or a rebuild from the store.
func (o Options) TreeOptions() []calltree.Option {
	if o.SkipPseudoFrames {
		return []calltree.Option{calltree.SkipPseudoFrames()}
	}
	return nil
}

// FileFailures groups the stanza failures of one dump file.
type FileFailures struct {
	FileID   string                `json:"file_id"`
	Path     string                `json:"path"`
	Error    string                `json:"error,omitempty"`
	Failures []parser.ParseFailure `json:"failures,omitempty"`
}

// CachedData is the result of analyzing one bundle.
type CachedData struct {
	Workspace   *models.Workspace
	Files       []models.DumpFile
	Failures    []FileFailures
	Forest      *calltree.Forest
	ThreadCount int
	Store       store.Store
}

// New analyzes a bundle end to end: the bundle is resolved to a directory,
// every thread dump in it is parsed and persisted, the method index and
// dictionary are written and the call tree is built. Progress is reported on
// p at stage boundaries; finishing the tracker is left to the caller.
func New(bundlePath string, s store.Store, opts Options, p *models.ProgressTracker) (*CachedData, error) {
	if p == nil {
		p = models.NewProgressTracker()
	}
	start := time.Now()
	log := slog.With("component", "analysis", "bundle", bundlePath)

	p.Update(1, "Resolving bundle...")
	dir, err := downloader.ResolveBundle(bundlePath, opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bundle: %w", err)
	}

	p.Update(10, "Creating workspace...")
	ws, err := s.CreateWorkspace(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	log = log.With("workspace", ws.ID)

	p.Update(15, "Classifying files...")
	files, err := parser.DiscoverFiles(dir, ws.ID, opts.Keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to classify bundle files: %w", err)
	}
	m := metrics.GetMetrics()
	for _, f := range files {
		m.FilesProcessed.WithLabelValues(string(f.Type)).Inc()
	}
	dumps := parser.ThreadDumps(files)
	log.Info("Classified bundle files", "files", len(files), "thread_dumps", len(dumps))

	p.Update(30, "Parsing thread dumps...")
	results := parser.ParseThreadDumps(dumps, opts.Parse)

	data := &CachedData{Workspace: ws, Files: files, Store: s}
	for _, r := range results {
		if r.Err == nil && len(r.Result.Failures) == 0 {
			continue
		}
		ff := FileFailures{FileID: r.File.ID, Path: r.File.Path}
		if r.Err != nil {
			ff.Error = r.Err.Error()
		} else {
			ff.Failures = r.Result.Failures
		}
		data.Failures = append(data.Failures, ff)
	}

	p.Update(50, "Writing threads...")
	if err := s.InsertDumpFiles(files); err != nil {
		return nil, fmt.Errorf("failed to write dump files: %w", err)
	}
	enc := dict.NewEncoder()
	threadRows, stackRows, threads, err := buildRows(ws.ID, results, enc)
	if err != nil {
		return nil, err
	}
	if err := s.InsertThreads(threadRows); err != nil {
		return nil, fmt.Errorf("failed to write threads: %w", err)
	}
	data.ThreadCount = len(threadRows)

	p.Update(65, "Writing stacks...")
	if err := s.InsertStacks(stackRows); err != nil {
		return nil, fmt.Errorf("failed to write stacks: %w", err)
	}

	p.Update(80, "Indexing methods...")
	if err := s.IndexMethods(ws.ID, methodVocabulary(threads)); err != nil {
		return nil, fmt.Errorf("failed to index methods: %w", err)
	}
	if err := s.SaveDictionary(ws.ID, enc.Entries()); err != nil {
		return nil, fmt.Errorf("failed to save dictionary: %w", err)
	}

	p.Update(95, "Building call tree...")
	forest := calltree.BuildParallel(threads, opts.TreeWorkers, intern.New(), opts.TreeOptions()...)
	forest.Sort()
	data.Forest = forest
	if err := s.SetMetadata(LatestWorkspaceKey, ws.ID); err != nil {
		log.Warn("Failed to record latest workspace", "error", err)
	}

	if err := s.Optimize(p); err != nil {
		log.Warn("Database optimization failed", "error", err)
	}

	log.Info("Bundle analyzed",
		"path", filepath.Base(dir),
		"threads", data.ThreadCount,
		"stacks", len(stackRows),
		"failed_files", len(data.Failures),
		"roots", forest.Len(),
		"duration", time.Since(start))
	return data, nil
}

// buildRows turns parse results into persisted rows. Row ids are fresh; the
// JVM thread id ("#12") is kept in ThreadID.
func buildRows(workspace string, results []parser.FileResult, enc *dict.Encoder) ([]models.ThreadRow, []models.StackRow, []*models.Thread, error) {
	var (
		threadRows []models.ThreadRow
		stackRows  []models.StackRow
		threads    []*models.Thread
	)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for _, t := range r.Result.Threads {
			t.FileID = r.File.ID
			rowID := uuid.NewString()
			codes, err := enc.CompressStack(callNames(t))
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to encode stack of %q: %w", t.Name, err)
			}
			threadRows = append(threadRows, models.ThreadRow{
				ID:         rowID,
				Workspace:  workspace,
				FileID:     r.File.ID,
				ThreadID:   t.ID,
				Name:       t.Name,
				Daemon:     t.Daemon,
				Prio:       t.Prio,
				OsPrio:     t.OsPrio,
				Tid:        t.Tid,
				Nid:        t.Nid,
				Address:    t.Address,
				Status:     t.Status,
				StartLine:  t.StartLine,
				EndLine:    t.EndLine,
				MethodName: t.TopMethod(),
				StackCodes: dict.PackCodes(codes),
			})
			for depth, f := range t.Frames {
				stackRows = append(stackRows, models.StackRow{
					ID:         uuid.NewString(),
					Workspace:  workspace,
					ThreadRow:  rowID,
					Depth:      depth,
					ClassName:  f.ClassName,
					MethodName: f.MethodName,
					MethodLine: f.LineNumber,
					Status:     f.StatusJSON(),
				})
			}
			threads = append(threads, t)
		}
	}
	return threadRows, stackRows, threads, nil
}

func callNames(t *models.Thread) []string {
	names := make([]string, 0, len(t.Frames))
	for _, f := range t.Frames {
		if f.IsCall() {
			names = append(names, f.MethodName)
		}
	}
	return names
}

func methodVocabulary(threads []*models.Thread) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, t := range threads {
		for _, n := range t.MethodNames() {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	return names
}

package parser

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/alextreichler/threadViewer/internal/models"
)

// DiscoverFiles walks a bundle directory and classifies every regular file by
// name. Hidden files are skipped; unreadable entries are logged, not fatal.
func DiscoverFiles(dir, workspace string, kw models.FileKeywords) ([]models.DumpFile, error) {
	var files []models.DumpFile
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			slog.Error("Error walking directory", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		df := models.DumpFile{
			ID:        uuid.NewString(),
			Workspace: workspace,
			Path:      path,
			Type:      models.ClassifyFile(path, kw),
		}
		if df.Type == models.FileThreadDump {
			if ts, ok := models.CaptureTime(path); ok {
				df.CapturedAt = ts
			}
		}
		files = append(files, df)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ThreadDumps filters the thread-dump files out of a classified file list.
func ThreadDumps(files []models.DumpFile) []models.DumpFile {
	var out []models.DumpFile
	for _, f := range files {
		if f.Type == models.FileThreadDump {
			out = append(out, f)
		}
	}
	return out
}

package store

import (
	"errors"

	"github.com/alextreichler/threadViewer/internal/dict"
	"github.com/alextreichler/threadViewer/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store defines the interface for data storage operations.
type Store interface {
	CreateWorkspace(path string) (*models.Workspace, error)
	GetWorkspace(id string) (*models.Workspace, error)
	ListWorkspaces() ([]models.Workspace, error)

	InsertDumpFiles(files []models.DumpFile) error
	ListDumpFiles(workspace string) ([]models.DumpFile, error)

	InsertThreads(rows []models.ThreadRow) error
	InsertStacks(rows []models.StackRow) error
	ListThreads(filter *models.ThreadFilter) ([]models.ThreadRow, int, error)
	GetThread(workspace, id string) (*models.Thread, error)
	GetStackCodes(workspace, id string) ([]byte, error)
	CountThreadStatus(workspace, fileID string) ([]models.StatusCount, error)
	StatusTimeline(workspace string) ([]models.FileStatusCount, error)
	LoadStacks(workspace string) ([]*models.Thread, error)

	SaveDictionary(workspace string, entries []dict.Entry) error
	LoadDictionary(workspace string) ([]dict.Entry, error)

	IndexMethods(workspace string, names []string) error
	SearchMethods(workspace, query string, maxEdits, limit int) ([]models.MethodMatch, error)

	SetMetadata(key, value string) error
	GetMetadata(key string) (string, error)

	Optimize(p *models.ProgressTracker) error
	Close() error
}

package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/dao"
	"github.com/modal-labs/conveyor/service/dao/criteria"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/toolbox"
)

// Service implements filesystem-based run storage, one JSON file per run.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

// Ensure Service implements dao.Service
var _ dao.Service[string, execution.Run] = (*Service)(nil)

// Save persists a run to the filesystem
func (s *Service) Save(ctx context.Context, run *execution.Run) error {
	if run == nil {
		return dao.ErrNilEntity
	}
	if run.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.runPath(run.ID)
	if stored, err := s.storedRevision(ctx, filePath); err != nil {
		return err
	} else if run.Revision() < stored {
		return fmt.Errorf("run %s: recorded revision %d is ahead of %d: %w", run.ID, stored, run.Revision(), dao.ErrStale)
	}
	run.BumpRevision()

	data, err := s.marshalRun(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save run to file %s: %w", filePath, err)
	}
	return nil
}

// storedRevision reads the save counter recorded in an existing run file, or
// zero when the run was never saved.
func (s *Service) storedRevision(ctx context.Context, filePath string) (int, error) {
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to check if run exists: %w", err)
	}
	if !exists {
		return 0, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read run file: %w", err)
	}
	var stored struct {
		SCN int `json:"scn"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return 0, nil
	}
	return stored.SCN, nil
}

// marshalRun serializes a run, stripping empty keys to keep run files lean.
func (s *Service) marshalRun(run *execution.Run) ([]byte, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	var aMap map[string]interface{}
	if err := json.Unmarshal(data, &aMap); err != nil {
		return data, nil
	}
	aMap = toolbox.DeleteEmptyKeys(aMap)
	return json.Marshal(aMap)
}

// Load retrieves a run from the filesystem
func (s *Service) Load(ctx context.Context, id string) (*execution.Run, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.runPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if run exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var run execution.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run data: %w", err)
	}
	return &run, nil
}

// Delete removes a run from the filesystem
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.runPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if run exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}

	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete run file: %w", err)
	}
	return nil
}

// List returns all runs from the filesystem
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*execution.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	var runs []*execution.Run
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}

		data, err := s.fs.Download(ctx, object)
		if err != nil {
			log.Warn("skipping unreadable run file", "url", object.URL(), "err", err)
			continue
		}

		var run execution.Run
		if err := json.Unmarshal(data, &run); err != nil {
			log.Warn("skipping malformed run file", "url", object.URL(), "err", err)
			continue
		}
		if !criteria.FilterByState(string(run.GetState()), parameters) {
			continue
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

// runPath returns the file path for a run
func (s *Service) runPath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", id))
}

// New creates a new filesystem run storage service
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := afs.New()
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	basePath = url.Normalize(basePath, file.Scheme)
	return &Service{
		basePath: basePath,
		fs:       fs,
	}, nil
}

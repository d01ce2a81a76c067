package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"golang.org/x/sync/errgroup"

	"github.com/modal-labs/conveyor/runtime/execution"
)

// SaveInput defines parameters for saving directories into the cache
type SaveInput struct {
	Key     string   `json:"key" required:"true" description:"cache key to save under"`
	Path    string   `json:"path,omitempty" description:"directory to save"`
	Paths   []string `json:"paths,omitempty" description:"directories to save"`
	Scope   string   `json:"scope,omitempty" description:"cache namespace; defaults to the manifest package name"`
	Workdir string   `json:"workdir,omitempty" description:"base for relative paths; defaults to the job working copy"`
}

func (i *SaveInput) Init(ctx context.Context) {
	if i.Path != "" {
		i.Paths = append(i.Paths, i.Path)
		i.Path = ""
	}
	if i.Workdir == "" {
		i.Workdir = execution.Workdir(ctx)
	}
}

func (i *SaveInput) Validate() error {
	if i.Key == "" {
		return fmt.Errorf("key is required")
	}
	if len(i.Paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	return nil
}

// SaveOutput reports the save outcome
type SaveOutput struct {
	Saved bool   `json:"saved"`
	Key   string `json:"key,omitempty"`
}

// Save uploads the named directories under the key. Entries are immutable:
// when the key already exists the save is skipped, mirroring the exact-hit
// restore that preceded it.
func (s *Service) Save(ctx context.Context, input *SaveInput, output *SaveOutput) error {
	input.Init(ctx)
	if err := input.Validate(); err != nil {
		return err
	}
	scope := s.resolveScope(ctx, input.Scope, input.Workdir)

	entryURL := s.entryURL(scope, input.Key)
	if existing, err := s.loadEntry(ctx, entryURL); err != nil {
		return err
	} else if existing != nil {
		output.Key = existing.Key
		return nil
	}

	entry := &Entry{
		Key:       input.Key,
		Scope:     scope,
		Paths:     input.Paths,
		CreatedAt: time.Now(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i, path := range input.Paths {
		source := path
		if !filepath.IsAbs(source) && input.Workdir != "" {
			source = filepath.Join(input.Workdir, source)
		}
		if _, err := os.Stat(source); err != nil {
			continue // nothing built at this path, skip it
		}
		dataURL := s.dataURL(entryURL, i)
		group.Go(func() error {
			return s.fs.Copy(groupCtx, url.Normalize(source, file.Scheme), dataURL)
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("failed to save cache %v: %w", input.Key, err)
	}

	// Metadata written last marks the entry complete.
	if err := s.storeEntry(ctx, entryURL, entry); err != nil {
		return err
	}
	output.Saved = true
	output.Key = input.Key
	return nil
}

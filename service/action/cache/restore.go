package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/modal-labs/conveyor/runtime/execution"
)

// RestoreInput defines parameters for restoring cached directories
type RestoreInput struct {
	Key         string   `json:"key" required:"true" description:"exact cache key to restore"`
	RestoreKeys []string `json:"restoreKeys,omitempty" yaml:"restore-keys" description:"key prefixes tried in order when the exact key misses"`
	Path        string   `json:"path,omitempty" description:"directory to restore"`
	Paths       []string `json:"paths,omitempty" description:"directories to restore"`
	Scope       string   `json:"scope,omitempty" description:"cache namespace; defaults to the manifest package name"`
	Workdir     string   `json:"workdir,omitempty" description:"base for relative paths; defaults to the job working copy"`
}

func (i *RestoreInput) Init(ctx context.Context) {
	if i.Path != "" {
		i.Paths = append(i.Paths, i.Path)
		i.Path = ""
	}
	if i.Workdir == "" {
		i.Workdir = execution.Workdir(ctx)
	}
}

func (i *RestoreInput) Validate() error {
	if i.Key == "" {
		return fmt.Errorf("key is required")
	}
	return nil
}

// RestoreOutput reports the restore outcome
type RestoreOutput struct {
	CacheHit bool     `json:"cacheHit"`          // exact key matched
	Key      string   `json:"key,omitempty"`     // key of the entry actually restored
	Paths    []string `json:"paths,omitempty"`   // locations restored to
	Partial  bool     `json:"partial,omitempty"` // entry came from a restore-keys prefix
}

// Restore restores the directories of the best matching cache entry. A miss
// is not an error: the output simply reports no hit so later steps rebuild.
func (s *Service) Restore(ctx context.Context, input *RestoreInput, output *RestoreOutput) error {
	input.Init(ctx)
	if err := input.Validate(); err != nil {
		return err
	}
	scope := s.resolveScope(ctx, input.Scope, input.Workdir)

	entryURL := s.entryURL(scope, input.Key)
	entry, err := s.loadEntry(ctx, entryURL)
	if err != nil {
		return err
	}
	if entry != nil {
		output.CacheHit = true
	} else {
		for _, prefix := range input.RestoreKeys {
			found, err := s.findByPrefix(ctx, scope, prefix)
			if err != nil {
				return err
			}
			if found != nil {
				entry, entryURL = found.entry, found.url
				output.Partial = true
				break
			}
		}
	}
	if entry == nil {
		return nil
	}

	paths := input.Paths
	if len(paths) == 0 {
		paths = entry.Paths
	}
	for i, path := range paths {
		if i >= len(entry.Paths) {
			break
		}
		dataURL := s.dataURL(entryURL, i)
		if ok, _ := s.fs.Exists(ctx, dataURL); !ok {
			continue
		}
		dest := path
		if !filepath.IsAbs(dest) && input.Workdir != "" {
			dest = filepath.Join(input.Workdir, dest)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := s.fs.Copy(ctx, dataURL, url.Normalize(dest, file.Scheme)); err != nil {
			return fmt.Errorf("failed to restore %v: %w", path, err)
		}
		output.Paths = append(output.Paths, dest)
	}
	output.Key = entry.Key
	return nil
}


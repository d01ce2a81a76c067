// Package cache stores and restores build directories between runs, keyed by
// expressions such as `cargo-${{ hashFiles('Cargo.lock') }}`.  Entries live
// under a cache root addressed through afs, so the root may point at local
// disk or any supported object store.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/modal-labs/conveyor/model/types"
)

const Name = "cache"

// Service persists and restores cached directories
type Service struct {
	fs      afs.Service
	rootURL string
}

// New creates a cache service
func New(options ...Option) *Service {
	ret := &Service{
		fs:      afs.New(),
		rootURL: url.Normalize(filepath.Join(os.TempDir(), "conveyor", "cache"), file.Scheme),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Option customises the cache service.
type Option func(*Service)

// WithRootURL points the service at a different cache root.
func WithRootURL(rootURL string) Option {
	return func(s *Service) {
		if rootURL != "" {
			s.rootURL = url.Normalize(rootURL, file.Scheme)
		}
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return Name
}

// Methods returns the service methods
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:        "restore",
			Description: "Restores cached directories for the given key, falling back to restore-keys prefixes.",
			Input:       reflect.TypeOf(&RestoreInput{}),
			Output:      reflect.TypeOf(&RestoreOutput{}),
		},
		{
			Name:        "save",
			Description: "Saves directories under the given key; existing entries are left untouched.",
			Input:       reflect.TypeOf(&SaveInput{}),
			Output:      reflect.TypeOf(&SaveOutput{}),
		},
	}
}

// Method returns the specified method. The default method restores, matching
// the common `uses: cache` step that primes a workspace before a build.
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "run", "restore":
		return s.restore, nil
	case "save":
		return s.save, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

func (s *Service) restore(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*RestoreInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*RestoreOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Restore(ctx, input, output)
}

func (s *Service) save(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*SaveInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*SaveOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Save(ctx, input, output)
}

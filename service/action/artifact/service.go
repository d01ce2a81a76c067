// Package artifact moves build outputs between the job working copy and the
// artifact store, the counterpart of upload-artifact / download-artifact
// steps.  The store is addressed through afs, so the artifact root may point
// at local disk or any supported object store.
package artifact

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
	"github.com/modal-labs/conveyor/runtime/execution"
)

const Name = "artifact"

// Service provides artifact store operations using afs
type Service struct {
	fs      afs.Service
	rootURL string
}

// New creates a new artifact service
func New(options ...Option) *Service {
	ret := &Service{
		fs:      afs.New(),
		rootURL: url.Normalize(filepath.Join(os.TempDir(), "conveyor", "artifacts"), file.Scheme),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Option customises the artifact service.
type Option func(*Service)

// WithRootURL points the service at a different artifact root.
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
			Name:        "upload",
			Description: "Uploads files or directories from the working copy into the artifact store.",
			Input:       reflect.TypeOf(&UploadInput{}),
			Output:      reflect.TypeOf(&UploadOutput{}),
		},
		{
			Name:        "download",
			Description: "Downloads stored artifacts into the working copy.",
			Input:       reflect.TypeOf(&DownloadInput{}),
			Output:      reflect.TypeOf(&DownloadOutput{}),
		},
		{
			Name:        "list",
			Description: "Lists artifacts stored for the current run.",
			Input:       reflect.TypeOf(&ListInput{}),
			Output:      reflect.TypeOf(&ListOutput{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "upload", "run":
		return s.upload, nil
	case "download":
		return s.download, nil
	case "list":
		return s.list, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

func (s *Service) upload(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*UploadInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*UploadOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Upload(ctx, input, output)
}

func (s *Service) download(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*DownloadInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*DownloadOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Download(ctx, input, output)
}

func (s *Service) list(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*ListInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*ListOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.List(ctx, input, output)
}

// resolveURL joins a store location with the artifact root, namespaced by
// the current run so parallel runs never clobber each other.
func (s *Service) resolveURL(ctx context.Context, location string) string {
	if strings.Contains(location, "://") {
		return location
	}
	base := s.rootURL
	if run := execution.ContextValue[*execution.Run](ctx); run != nil && run.ID != "" {
		base = url.Join(base, run.ID)
	}
	if location == "" {
		return base
	}
	return url.Join(base, location)
}

package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Service loads configuration and workflow assets from any afs-supported
// location (file, embed, mem, s3, gs). Asset text may reference environment
// variables with ${env.KEY}, expanded before decoding.
type Service struct {
	fs        afs.Service
	baseURL   string
	fsOptions []storage.Option
}

// New creates a meta service rooted at baseURL. An empty baseURL leaves
// URLs untouched, so absolute URLs keep working.
func New(fs afs.Service, baseURL string, fsOptions ...storage.Option) *Service {
	return &Service{
		fs:        fs,
		baseURL:   baseURL,
		fsOptions: fsOptions,
	}
}

// ResolveURL joins a relative URL with the service base URL.
func (s *Service) ResolveURL(URL string) string {
	if s.baseURL == "" || strings.Contains(URL, "://") || strings.HasPrefix(URL, "/") {
		return URL
	}
	return url.Join(s.baseURL, URL)
}

// Exists checks whether an asset is present.
func (s *Service) Exists(ctx context.Context, URL string) (bool, error) {
	return s.fs.Exists(ctx, s.ResolveURL(URL), s.fsOptions...)
}

// Download returns raw asset bytes after ${env.KEY} expansion.
func (s *Service) Download(ctx context.Context, URL string) ([]byte, error) {
	resolved := s.ResolveURL(URL)
	data, err := s.fs.DownloadWithURL(ctx, resolved, s.fsOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", resolved, err)
	}
	return []byte(expandEnvExpr(string(data))), nil
}

// Load downloads an asset and decodes it into target based on its extension.
// YAML is the default; .json and .toml assets use their native decoders.
func (s *Service) Load(ctx context.Context, URL string, target interface{}) error {
	data, err := s.Download(ctx, URL)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(URL)) {
	case ".json":
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("failed to decode json %s: %w", URL, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, target); err != nil {
			return fmt.Errorf("failed to decode toml %s: %w", URL, err)
		}
	default:
		if err := yaml.Unmarshal(data, target); err != nil {
			return fmt.Errorf("failed to decode yaml %s: %w", URL, err)
		}
	}
	return nil
}

// List returns asset URLs under the given location.
func (s *Service) List(ctx context.Context, URL string) ([]string, error) {
	resolved := s.ResolveURL(URL)
	objects, err := s.fs.List(ctx, resolved, s.fsOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", resolved, err)
	}
	var result []string
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		result = append(result, object.URL())
	}
	return result, nil
}

package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/modal-labs/conveyor/runtime/execution"
)

// UploadInput defines parameters for uploading artifacts
type UploadInput struct {
	Source      string   `json:"source,omitempty" description:"file or directory in the working copy to upload"`
	Destination string   `json:"destination,omitempty" description:"location under the artifact root; defaults to the source base name"`
	Assets      []*Asset `json:"assets,omitempty" description:"inline assets to upload"`
}

func (i *UploadInput) Validate() error {
	if i.Source == "" && len(i.Assets) == 0 {
		return fmt.Errorf("source or assets is required for upload")
	}
	return nil
}

// UploadOutput contains results from an upload operation
type UploadOutput struct {
	Assets []*Asset `json:"assets,omitempty" description:"uploaded assets"`
}

// Upload copies the source path, plus any inline assets, into the store.
func (s *Service) Upload(ctx context.Context, input *UploadInput, output *UploadOutput) error {
	if err := input.Validate(); err != nil {
		return err
	}

	uploaded := make([]*Asset, 0, len(input.Assets)+1)

	if input.Source != "" {
		source := input.Source
		if !filepath.IsAbs(source) {
			source = filepath.Join(execution.Workdir(ctx), source)
		}
		destination := input.Destination
		if destination == "" {
			destination = filepath.Base(source)
		}
		destURL := s.resolveURL(ctx, destination)
		if err := s.fs.Copy(ctx, url.Normalize(source, file.Scheme), destURL); err != nil {
			return fmt.Errorf("failed to upload %v: %w", input.Source, err)
		}
		asset, err := s.describe(ctx, destURL)
		if err != nil {
			return err
		}
		uploaded = append(uploaded, asset)
	}

	for _, inline := range input.Assets {
		if inline.URL == "" {
			return fmt.Errorf("asset URL cannot be empty")
		}
		destURL := s.resolveURL(ctx, inline.URL)
		if err := s.fs.Upload(ctx, destURL, file.DefaultFileOsMode, bytes.NewReader(inline.Data)); err != nil {
			return err
		}
		asset, err := s.describe(ctx, destURL)
		if err != nil {
			return err
		}
		uploaded = append(uploaded, asset)
	}

	output.Assets = uploaded
	return nil
}

// describe reads back store metadata for a freshly written asset.
func (s *Service) describe(ctx context.Context, assetURL string) (*Asset, error) {
	object, err := s.fs.Object(ctx, assetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get object for %s: %w", assetURL, err)
	}
	return &Asset{
		URL:         assetURL,
		Name:        filepath.Base(url.Path(assetURL)),
		IsDir:       object.IsDir(),
		Size:        object.Size(),
		ModTime:     object.ModTime(),
		Mode:        object.Mode().String(),
		ContentType: GetContentType(url.Path(assetURL)),
	}, nil
}

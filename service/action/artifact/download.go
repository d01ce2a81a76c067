package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/modal-labs/conveyor/runtime/execution"
)

// DownloadInput defines parameters for downloading artifacts
type DownloadInput struct {
	Source      string `json:"source" required:"true" description:"artifact location or URL"`
	Destination string `json:"destination,omitempty" description:"working copy path to download to"`
	IncludeData bool   `json:"includeData,omitempty" description:"include file data in the response"`
}

func (i *DownloadInput) Validate() error {
	if i.Source == "" {
		return fmt.Errorf("source is required")
	}
	return nil
}

// DownloadOutput contains results from a download operation
type DownloadOutput struct {
	Assets []*Asset `json:"assets,omitempty" description:"downloaded assets"`
}

// Download fetches a stored artifact, optionally materialising it in the
// working copy.
func (s *Service) Download(ctx context.Context, input *DownloadInput, output *DownloadOutput) error {
	if err := input.Validate(); err != nil {
		return err
	}

	sourceURL := s.resolveURL(ctx, input.Source)
	exists, err := s.fs.Exists(ctx, sourceURL)
	if err != nil {
		return fmt.Errorf("failed to check if %s exists: %w", sourceURL, err)
	}
	if !exists {
		return fmt.Errorf("artifact does not exist: %s", input.Source)
	}

	asset, err := s.describe(ctx, sourceURL)
	if err != nil {
		return err
	}

	if input.IncludeData && !asset.IsDir {
		data, err := s.fs.DownloadWithURL(ctx, sourceURL)
		if err != nil {
			return fmt.Errorf("failed to download data from %s: %w", sourceURL, err)
		}
		asset.Data = data
	}

	if input.Destination != "" {
		destination := input.Destination
		if !filepath.IsAbs(destination) {
			destination = filepath.Join(execution.Workdir(ctx), destination)
		}
		if err := s.fs.Copy(ctx, sourceURL, url.Normalize(destination, file.Scheme)); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", sourceURL, destination, err)
		}
	}

	output.Assets = append(output.Assets, asset)
	return nil
}

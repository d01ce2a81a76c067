package artifact

import (
	"context"
	"fmt"
	"path"

	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
)

// ListInput defines parameters for listing artifacts
type ListInput struct {
	Location  string `json:"location,omitempty" description:"location under the artifact root; empty lists the current run"`
	Recursive bool   `json:"recursive,omitempty" description:"list artifacts recursively"`
	PageSize  int    `json:"pageSize,omitempty" description:"maximum number of results to return"`
}

// ListOutput contains results from a list operation
type ListOutput struct {
	Assets []*Asset `json:"assets,omitempty" description:"artifacts found"`
}

// List lists artifacts at the resolved store location.
func (s *Service) List(ctx context.Context, input *ListInput, output *ListOutput) error {
	location := s.resolveURL(ctx, input.Location)
	if ok, _ := s.fs.Exists(ctx, location); !ok {
		output.Assets = []*Asset{}
		return nil
	}

	listOptions := make([]storage.Option, 0)
	if input.Recursive {
		listOptions = append(listOptions, option.NewRecursive(true))
	}
	if input.PageSize > 0 {
		listOptions = append(listOptions, option.NewPage(0, input.PageSize))
	}

	objects, err := s.fs.List(ctx, location, listOptions...)
	if err != nil {
		return fmt.Errorf("failed to list artifacts at %s: %w", location, err)
	}

	assets := make([]*Asset, 0, len(objects))
	for _, object := range objects {
		assets = append(assets, &Asset{
			URL:         object.URL(),
			Name:        path.Base(object.URL()),
			IsDir:       object.IsDir(),
			Size:        object.Size(),
			ModTime:     object.ModTime(),
			Mode:        object.Mode().String(),
			ContentType: GetContentType(url.Path(object.URL())),
		})
	}

	output.Assets = assets
	return nil
}

package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// manifest is the subset of a package manifest the cache scope derives from.
type manifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
}

const defaultScope = "default"

// resolveScope namespaces cache entries. An explicit scope wins; otherwise
// the package name from a Cargo.toml or conveyor.toml manifest in the
// working directory is used so unrelated projects sharing a cache root never
// collide.
func (s *Service) resolveScope(ctx context.Context, scope, workdir string) string {
	if scope != "" {
		return scope
	}
	if workdir == "" {
		return defaultScope
	}
	for _, candidate := range []string{"Cargo.toml", "conveyor.toml"} {
		if name := manifestName(filepath.Join(workdir, candidate)); name != "" {
			return name
		}
	}
	return defaultScope
}

func manifestName(location string) string {
	data, err := os.ReadFile(location)
	if err != nil {
		return ""
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return ""
	}
	if m.Package.Name != "" {
		return m.Package.Name
	}
	return m.Project.Name
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// HashFilesFunc returns the implementation of the hashFiles(...) workflow
// expression: a hex sha256 over the contents of the named files, resolved
// against dir.  When no argument matches a file the result is the empty
// string, so keys built from it still expand.
func HashFilesFunc(dir string) func(args ...interface{}) (interface{}, error) {
	return func(args ...interface{}) (interface{}, error) {
		hash := sha256.New()
		matched := false
		for _, arg := range args {
			pattern, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("hashFiles: expected string argument, got %T", arg)
			}
			if !filepath.IsAbs(pattern) && dir != "" {
				pattern = filepath.Join(dir, pattern)
			}
			names, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("hashFiles: %w", err)
			}
			for _, name := range names {
				data, err := os.ReadFile(name)
				if err != nil {
					continue
				}
				_, _ = hash.Write(data)
				matched = true
			}
		}
		if !matched {
			return "", nil
		}
		return hex.EncodeToString(hash.Sum(nil)), nil
	}
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
)

const entryFile = "entry.json"

// Entry is the metadata document stored alongside each cache entry's data.
type Entry struct {
	Key       string    `json:"key"`
	Scope     string    `json:"scope,omitempty"`
	Paths     []string  `json:"paths"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size,omitempty"`
}

// hashKey digests a cache key into a stable hex token used for addressing.
func hashKey(key string) string {
	digest := sha256.Sum256([]byte(key))
	return hex.EncodeToString(digest[:])
}

// entryURL lays entries out as <root>/<scope>/<shard>/<digest>, where shard
// is the first two hex characters of the key digest to keep directory plans
// shallow on large caches.
func (s *Service) entryURL(scope, key string) string {
	digest := hashKey(key)
	return url.Join(s.rootURL, scope, digest[:2], digest)
}

func (s *Service) dataURL(entryURL string, index int) string {
	return url.Join(entryURL, "data", fmt.Sprintf("%d", index))
}

// loadEntry reads entry metadata, returning nil when the entry is absent.
func (s *Service) loadEntry(ctx context.Context, entryURL string) (*Entry, error) {
	location := url.Join(entryURL, entryFile)
	if ok, _ := s.fs.Exists(ctx, location); !ok {
		return nil, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, err
	}
	entry := &Entry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("corrupted cache entry %v: %w", location, err)
	}
	return entry, nil
}

func (s *Service) storeEntry(ctx context.Context, entryURL string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.fs.Upload(ctx, url.Join(entryURL, entryFile), 0o644, strings.NewReader(string(data)))
}

// match holds a prefix-matched entry and its location.
type match struct {
	entry *Entry
	url   string
}

// findByPrefix scans the scope for the newest entry whose key starts with
// prefix.
func (s *Service) findByPrefix(ctx context.Context, scope, prefix string) (*match, error) {
	scopeURL := url.Join(s.rootURL, scope)
	if ok, _ := s.fs.Exists(ctx, scopeURL); !ok {
		return nil, nil
	}
	objects, err := s.fs.List(ctx, scopeURL, option.NewRecursive(true))
	if err != nil {
		return nil, err
	}
	var matches []*match
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.URL(), "/"+entryFile) {
			continue
		}
		entryURL := strings.TrimSuffix(object.URL(), "/"+entryFile)
		entry, err := s.loadEntry(ctx, entryURL)
		if err != nil || entry == nil {
			continue
		}
		if strings.HasPrefix(entry.Key, prefix) {
			matches = append(matches, &match{entry: entry, url: entryURL})
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].entry.CreatedAt.After(matches[j].entry.CreatedAt)
	})
	return matches[0], nil
}

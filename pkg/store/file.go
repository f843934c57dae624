package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const entrySuffix = ".json"

// FileStore persists entries as one JSON file per resource:
//
//	root/<resource>/<athleteID>/<resourceID>.json
//
// Writes go to a temp file in the target directory and are renamed into
// place, so a reader never observes a half-written entry.
type FileStore struct {
	root string
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// Root returns the cache root directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) entryPath(key Key) string {
	return filepath.Join(
		s.root,
		string(key.Resource),
		strconv.FormatInt(key.AthleteID, 10),
		strconv.FormatInt(key.ResourceID, 10)+entrySuffix,
	)
}

// Get retrieves an entry by key.
// Returns ErrCacheMiss if no file exists for the key.
func (s *FileStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues("file").Inc()
	return &entry, nil
}

// Put stores an entry atomically, replacing any previous entry for the key.
func (s *FileStore) Put(ctx context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	path := s.entryPath(entry.Key())
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("create athlete directory: %w", err)
	}

	// Write to a temp file in the same directory, then rename into place.
	// Rename is atomic on POSIX filesystems within one directory.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("sync cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("rename cache file: %w", err)
	}

	return nil
}

// ListIDs returns the cached resource ids for a resource type in ascending
// order. athleteID 0 lists ids across all athletes.
func (s *FileStore) ListIDs(ctx context.Context, resource ResourceType, athleteID int64) ([]int64, error) {
	if !resource.Valid() {
		return nil, fmt.Errorf("invalid resource type %q", resource)
	}

	var athleteDirs []string
	if athleteID > 0 {
		athleteDirs = append(athleteDirs, filepath.Join(s.root, string(resource), strconv.FormatInt(athleteID, 10)))
	} else {
		resourceDir := filepath.Join(s.root, string(resource))
		dirs, err := os.ReadDir(resourceDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			CacheErrors.WithLabelValues("list").Inc()
			return nil, fmt.Errorf("read resource directory: %w", err)
		}
		for _, d := range dirs {
			if d.IsDir() {
				athleteDirs = append(athleteDirs, filepath.Join(resourceDir, d.Name()))
			}
		}
	}

	var ids []int64
	for _, dir := range athleteDirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			CacheErrors.WithLabelValues("list").Inc()
			return nil, fmt.Errorf("read athlete directory: %w", err)
		}
		for _, f := range files {
			id, ok := parseEntryName(f.Name())
			if !ok {
				continue
			}
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// DeleteAll removes every entry and returns the number deleted.
func (s *FileStore) DeleteAll(ctx context.Context) (int, error) {
	deleted := 0
	err := s.walkFiles(func(path string) error {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove cache file: %w", err)
		}
		deleted++
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return deleted, err
	}

	CacheDeletes.WithLabelValues("all").Add(float64(deleted))
	return deleted, nil
}

// DeleteOlderThan removes entries fetched more than days ago and returns
// the number deleted. Unreadable entries are skipped, not deleted.
func (s *FileStore) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	if days < 1 {
		return 0, fmt.Errorf("days must be >= 1 (got %d)", days)
	}

	deleted := 0
	err := s.walkFiles(func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read cache file: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		if !entry.OlderThan(days) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove cache file: %w", err)
		}
		deleted++
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return deleted, err
	}

	CacheDeletes.WithLabelValues("age").Add(float64(deleted))
	return deleted, nil
}

// Walk calls fn for every stored entry.
func (s *FileStore) Walk(ctx context.Context, fn func(*Entry) error) error {
	return s.walkFiles(func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read cache file: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		return fn(&entry)
	})
}

// walkFiles visits every entry file under the cache root. Temp files left
// over from interrupted writes are ignored.
func (s *FileStore) walkFiles(fn func(path string) error) error {
	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := parseEntryName(d.Name()); !ok {
			return nil
		}
		return fn(path)
	})
}

// parseEntryName extracts the resource id from an entry file name.
// Returns false for anything that is not "<id>.json".
func parseEntryName(name string) (int64, bool) {
	if !strings.HasSuffix(name, entrySuffix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(name, entrySuffix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

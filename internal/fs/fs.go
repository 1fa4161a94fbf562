package fs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/consts"
	"github.com/ianwesterfield/aj.westerfield.cloud-sub002/internal/logger"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the workspace root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace root")

// FileInfo represents file metadata
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// FileSystem is an abstraction over filesystem operations scoped to one root.
// Relative paths are resolved against the root; every path must stay inside it.
type FileSystem interface {
	// Root returns the absolute workspace root
	Root() string
	// Resolve maps a caller path to an absolute path inside the root
	Resolve(path string) (string, error)
	// ReadFile reads the entire file
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// ReadFileLines reads lines from..to (1-based, inclusive)
	ReadFileLines(ctx context.Context, path string, from, to int) ([]string, error)
	// WriteFile writes data to a file, creating parent directories
	WriteFile(ctx context.Context, path string, data []byte) error
	// AppendFile appends data to a file, creating it if needed
	AppendFile(ctx context.Context, path string, data []byte) error
	// Stat returns file information
	Stat(ctx context.Context, path string) (*FileInfo, error)
	// ListDir lists directory contents
	ListDir(ctx context.Context, path string) ([]*FileInfo, error)
	// Exists checks if a file exists
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes a regular file
	Delete(ctx context.Context, path string) error
	// MkdirAll creates a directory and all parent directories
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
}

// CachedFS is a workspace-scoped filesystem with a directory listing cache
// that fsnotify keeps fresh.
type CachedFS struct {
	root       string
	dirCache   map[string]*dirCacheEntry
	cacheMu    sync.RWMutex
	cacheTTL   time.Duration
	maxEntries int
	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
	closeOnce  sync.Once
}

type dirCacheEntry struct {
	entries   []*FileInfo
	timestamp time.Time
}

// NewCachedFS creates a new cached filesystem rooted at root
func NewCachedFS(root string, cacheTTL time.Duration, maxEntries int) (*CachedFS, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fs: failed to create file watcher: %v", err)
	}

	cfs := &CachedFS{
		root:       absRoot,
		dirCache:   make(map[string]*dirCacheEntry),
		cacheTTL:   cacheTTL,
		maxEntries: maxEntries,
		watcher:    watcher,
		stopWatch:  make(chan struct{}),
	}

	if watcher != nil {
		go cfs.watchFiles()
	}

	return cfs, nil
}

// Close stops the filesystem watcher
func (cfs *CachedFS) Close() error {
	var err error
	cfs.closeOnce.Do(func() {
		close(cfs.stopWatch)
		if cfs.watcher != nil {
			err = cfs.watcher.Close()
		}
	})
	return err
}

// watchFiles monitors filesystem events and invalidates cache
func (cfs *CachedFS) watchFiles() {
	for {
		select {
		case <-cfs.stopWatch:
			return
		case event, ok := <-cfs.watcher.Events:
			if !ok {
				return
			}
			cfs.InvalidateDirCache(filepath.Dir(event.Name))
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				cfs.InvalidateDirCache(event.Name)
			}
		case err, ok := <-cfs.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("fs: watcher error: %v", err)
		}
	}
}

func (cfs *CachedFS) watch(dir string) {
	if cfs.watcher == nil {
		return
	}
	if err := cfs.watcher.Add(dir); err != nil {
		logger.Debug("fs: failed to watch %s: %v", dir, err)
	}
}

// InvalidateDirCache removes a directory from cache
func (cfs *CachedFS) InvalidateDirCache(absDir string) {
	cfs.cacheMu.Lock()
	defer cfs.cacheMu.Unlock()
	delete(cfs.dirCache, absDir)
}

// ClearCache removes all entries from cache
func (cfs *CachedFS) ClearCache() {
	cfs.cacheMu.Lock()
	defer cfs.cacheMu.Unlock()
	cfs.dirCache = make(map[string]*dirCacheEntry)
}

func (cfs *CachedFS) Root() string {
	return cfs.root
}

// Resolve joins path onto the root and rejects anything that escapes it,
// including escapes through symlinks. For a path that does not exist yet the
// deepest existing ancestor is resolved instead, so "link/new.txt" is refused
// when link points outside the root.
func (cfs *CachedFS) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(cfs.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !cfs.within(candidate) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}

	if !cfs.resolvesWithin(candidate) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}

	return candidate, nil
}

// resolvesWithin follows symlinks from the deepest existing ancestor of
// absPath. An entry that exists but cannot be resolved, such as a dangling
// link, is refused since writing through it would create its target.
func (cfs *CachedFS) resolvesWithin(absPath string) bool {
	existing := absPath
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return cfs.within(resolved)
		}
		if _, lerr := os.Lstat(existing); !errors.Is(lerr, os.ErrNotExist) {
			return false
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return false
		}
		existing = parent
	}
}

func (cfs *CachedFS) within(absPath string) bool {
	rel, err := filepath.Rel(cfs.root, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Rel returns absPath relative to the root, or absPath when that fails.
func (cfs *CachedFS) Rel(absPath string) string {
	rel, err := filepath.Rel(cfs.root, absPath)
	if err != nil {
		return absPath
	}
	return rel
}

func (cfs *CachedFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(absPath)
}

// ReadFileLines streams the file and keeps lines from..to (1-based,
// inclusive). A start past the last line is an error.
func (cfs *CachedFS) ReadFileLines(ctx context.Context, path string, from, to int) ([]string, error) {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	from = max(from, 1)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, consts.BufferSize4KB), consts.BufferSize1MB)

	var lines []string
	n := 0
	for n < to && scanner.Scan() {
		n++
		if n%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if n >= from {
			lines = append(lines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", cfs.Rel(absPath), err)
	}
	if n < from {
		return nil, fmt.Errorf("from line %d exceeds file length %d", from, n)
	}
	return lines, nil
}

func (cfs *CachedFS) WriteFile(ctx context.Context, path string, data []byte) error {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(absPath, data, 0644); err != nil {
		return err
	}

	cfs.InvalidateDirCache(dir)
	cfs.watch(dir)
	return nil
}

func (cfs *CachedFS) AppendFile(ctx context.Context, path string, data []byte) error {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(absPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	cfs.InvalidateDirCache(dir)
	return nil
}

func (cfs *CachedFS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		Path:    cfs.Rel(absPath),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (cfs *CachedFS) ListDir(ctx context.Context, path string) ([]*FileInfo, error) {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return nil, err
	}

	if cached, ok := cfs.cachedListing(absPath); ok {
		return cached, nil
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, err
	}

	result := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, &FileInfo{
			Path:    cfs.Rel(filepath.Join(absPath, entry.Name())),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   entry.IsDir(),
		})
	}

	cfs.storeListing(absPath, result)
	cfs.watch(absPath)

	return result, nil
}

func (cfs *CachedFS) cachedListing(absDir string) ([]*FileInfo, bool) {
	cfs.cacheMu.RLock()
	defer cfs.cacheMu.RUnlock()
	entry, ok := cfs.dirCache[absDir]
	if !ok || time.Since(entry.timestamp) >= cfs.cacheTTL {
		return nil, false
	}
	return entry.entries, true
}

// storeListing caches a listing, evicting the stalest entry when full.
func (cfs *CachedFS) storeListing(absDir string, entries []*FileInfo) {
	cfs.cacheMu.Lock()
	defer cfs.cacheMu.Unlock()

	if _, ok := cfs.dirCache[absDir]; !ok && len(cfs.dirCache) >= cfs.maxEntries {
		stalest := ""
		for dir, e := range cfs.dirCache {
			if stalest == "" || e.timestamp.Before(cfs.dirCache[stalest].timestamp) {
				stalest = dir
			}
		}
		delete(cfs.dirCache, stalest)
	}
	cfs.dirCache[absDir] = &dirCacheEntry{entries: entries, timestamp: time.Now()}
}

func (cfs *CachedFS) Exists(ctx context.Context, path string) (bool, error) {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(absPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (cfs *CachedFS) Delete(ctx context.Context, path string) error {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return err
	}
	if absPath == cfs.root {
		return errors.New("refusing to delete the workspace root")
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if err := os.Remove(absPath); err != nil {
		return err
	}

	cfs.InvalidateDirCache(filepath.Dir(absPath))
	return nil
}

func (cfs *CachedFS) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	absPath, err := cfs.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(absPath, perm); err != nil {
		return err
	}
	cfs.InvalidateDirCache(filepath.Dir(absPath))
	return nil
}

package httpconn

import (
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxCachedFileSize is the largest file kept in the cache; bigger files are read on every request.
const MaxCachedFileSize = 1 << 20

type cachedFile struct {
	body    []byte
	modTime time.Time
	size    int64
}

// FileCache keeps recently served file bodies. An entry is reused only while
// the file's size and modification time are unchanged.
type FileCache struct {
	entries *lru.Cache[string, cachedFile]
}

// NewFileCache returns a cache holding up to size files, or nil when size <= 0.
func NewFileCache(size int) (*FileCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, cachedFile](size)
	if err != nil {
		return nil, err
	}
	return &FileCache{entries: c}, nil
}

// Len returns the number of cached files.
func (c *FileCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// Read returns the body of the regular file at name, described by fi.
func (c *FileCache) Read(name string, fi os.FileInfo) ([]byte, error) {
	if c != nil {
		if f, ok := c.entries.Get(name); ok && f.size == fi.Size() && f.modTime.Equal(fi.ModTime()) {
			return f.body, nil
		}
	}

	body, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	if c != nil && len(body) <= MaxCachedFileSize {
		c.entries.Add(name, cachedFile{body: body, modTime: fi.ModTime(), size: fi.Size()})
	}
	return body, nil
}

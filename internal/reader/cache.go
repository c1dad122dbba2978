// Package reader serves query results from materialized partitions.
package reader

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lakeerrors "github.com/chronolake/chronolake/internal/errors"
	"github.com/chronolake/chronolake/internal/storage"
	"github.com/google/uuid"
)

// PartitionCache keeps downloaded partition files on local disk, evicting
// least-recently-used files when the total size exceeds the budget.
// Entries are keyed by the partition's object path; since files are
// immutable, a cached copy never goes stale, it can only vanish.
type PartitionCache struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	curBytes int64

	// entries maps object path to a list element holding *cachedFile.
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cachedFile struct {
	objectPath string
	localPath  string
	size       int64
}

// NewPartitionCache creates a cache storing files under dir with the
// given byte budget (default 10 GiB).
func NewPartitionCache(dir string, maxBytes int64) (*PartitionCache, error) {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024 * 1024
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("reader: failed to create cache directory: %w", err)
	}
	return &PartitionCache{
		dir:      dir,
		maxBytes: maxBytes,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}, nil
}

// Fetch returns a local copy of the partition file, downloading it on a
// cache miss. expectedSize comes from the metadata record; a size mismatch
// evicts the cached copy and re-downloads. An object missing from the
// store means a retirement raced the read: the caller should re-plan from
// metadata, so the error is retryable.
func (c *PartitionCache) Fetch(ctx context.Context, store storage.ObjectStorage, objectPath string, expectedSize int64) (string, error) {
	if local := c.get(objectPath, expectedSize); local != "" {
		return local, nil
	}

	localPath := filepath.Join(c.dir, uuid.New().String()+".slp")
	if err := store.Download(ctx, objectPath, localPath); err != nil {
		os.Remove(localPath)
		if errors.Is(err, storage.ErrObjectNotFound) || isNotExist(err) {
			return "", lakeerrors.NewReadError(lakeerrors.CodePartitionVanished,
				fmt.Sprintf("partition file %s no longer exists", objectPath), err)
		}
		return "", lakeerrors.NewReadError(lakeerrors.CodeIncompleteQuery,
			fmt.Sprintf("failed to download partition file %s", objectPath), err)
	}

	c.put(objectPath, localPath)
	return localPath, nil
}

// get returns the cached local path, or "" on miss. A file that vanished
// or changed size is evicted.
func (c *PartitionCache) get(objectPath string, expectedSize int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[objectPath]
	if !ok {
		return ""
	}
	entry := elem.Value.(*cachedFile)

	info, err := os.Stat(entry.localPath)
	if err != nil || info.Size() != entry.size || (expectedSize > 0 && info.Size() != expectedSize) {
		c.removeLocked(elem)
		return ""
	}

	c.order.MoveToFront(elem)
	return entry.localPath
}

// put records a downloaded file, evicting old entries over budget.
func (c *PartitionCache) put(objectPath, localPath string) {
	info, err := os.Stat(localPath)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[objectPath]; ok {
		// Another fetch won the download race; keep its copy.
		old := elem.Value.(*cachedFile)
		if old.localPath != localPath {
			os.Remove(localPath)
		}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cachedFile{
		objectPath: objectPath,
		localPath:  localPath,
		size:       info.Size(),
	})
	c.entries[objectPath] = elem
	c.curBytes += info.Size()

	for c.curBytes > c.maxBytes && c.order.Len() > 1 {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back)
		}
	}
}

// removeLocked drops an entry and deletes its file. Caller holds c.mu.
func (c *PartitionCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cachedFile)
	c.order.Remove(elem)
	delete(c.entries, entry.objectPath)
	c.curBytes -= entry.size
	os.Remove(entry.localPath)
}

// Size returns the total bytes currently cached.
func (c *PartitionCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Len returns the number of cached files.
func (c *PartitionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry and deletes the cached files.
func (c *PartitionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.order.Len() > 0 {
		c.removeLocked(c.order.Back())
	}
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "NoSuchKey")
}

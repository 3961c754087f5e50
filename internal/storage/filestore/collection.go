package filestore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/item"
	"github.com/sonroyaalmerol/gitdav/internal/storage"
	"github.com/sonroyaalmerol/gitdav/internal/vcs"
)

type fileStamp struct {
	mtime time.Time
	size  int64
}

func (s fileStamp) same(o fileStamp) bool {
	return s.size == o.size && s.mtime.Equal(o.mtime)
}

// Collection is a directory of calendar objects and cards. Every read
// freshens the in-memory index from disk first; every write freshens it
// again afterwards. All methods are safe for concurrent use.
type Collection struct {
	mu     sync.Mutex
	dir    string
	url    string
	vcs    vcs.VersionControl
	logger zerolog.Logger

	// charset of item files; empty means UTF-8 with a Latin-1 fallback
	encoding string

	scanned  bool
	dirMtime time.Time
	ctag     string
	items    map[string]*item.Item
	files    map[string]fileStamp
	byPath   map[string]*item.Item
}

// NewCollection indexes dir. url is the collection's path below the storage
// root ("alice/calendar"); its first segment names the owner.
func NewCollection(dir, url string, vc vcs.VersionControl, logger zerolog.Logger) *Collection {
	if vc == nil {
		vc = vcs.Nop{}
	}
	return &Collection{
		dir:    dir,
		url:    strings.Trim(url, "/"),
		vcs:    vc,
		logger: logger.With().Str("collection", url).Logger(),
		items:  make(map[string]*item.Item),
		files:  make(map[string]fileStamp),
		byPath: make(map[string]*item.Item),
	}
}

func (c *Collection) Dir() string { return c.dir }
func (c *Collection) URL() string { return c.url }

// Name is the last segment of the collection URL.
func (c *Collection) Name() string {
	return c.url[strings.LastIndex(c.url, "/")+1:]
}

func (c *Collection) Owner() string {
	owner, _, _ := strings.Cut(c.url, "/")
	return owner
}

// Freshen reconciles the index with the directory. Unless force is set it
// returns immediately when the directory mtime has not moved.
func (c *Collection) Freshen(force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freshen(force)
}

func isItemFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch filepath.Ext(name) {
	case ".ics", ".vcf", ".dav":
		return true
	}
	return false
}

func (c *Collection) freshen(force bool) error {
	fi, err := os.Stat(c.dir)
	if err != nil {
		c.items = make(map[string]*item.Item)
		c.files = make(map[string]fileStamp)
		c.byPath = make(map[string]*item.Item)
		c.scanned = false
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("collection %s: %w", c.url, storage.ErrNotFound)
		}
		return err
	}
	mtime := fi.ModTime()
	if !force && c.scanned && mtime.Equal(c.dirMtime) {
		return nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}

	files := make(map[string]fileStamp, len(entries))
	byPath := make(map[string]*item.Item, len(entries))
	items := make(map[string]*item.Item, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !isItemFile(e.Name()) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		info, err := e.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}
		stamp := fileStamp{mtime: info.ModTime(), size: info.Size()}
		files[path] = stamp

		it, known := c.byPath[path]
		if old, tracked := c.files[path]; !tracked || !old.same(stamp) || !known {
			it = c.scanFile(path)
		}
		byPath[path] = it
		if it == nil {
			continue
		}
		if prev, dup := items[it.Name()]; dup {
			c.logger.Warn().
				Str("file", path).
				Str("name", it.Name()).
				Str("indexed", prev.Path()).
				Msg("duplicate item name, file shadowed")
			continue
		}
		items[it.Name()] = it
	}

	c.items = items
	c.files = files
	c.byPath = byPath
	c.dirMtime = mtime
	c.ctag = computeCTag(mtime, items)
	c.scanned = true
	return nil
}

// scanFile parses one file. Unreadable or malformed files are logged and
// tracked with a nil item so they are not re-parsed until they change.
func (c *Collection) scanFile(path string) *item.Item {
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable file")
		return nil
	}
	it, err := item.Parse([]byte(item.Decode(data, c.encoding)), "", path)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", path).Msg("skipping unparsable file")
		return nil
	}
	return it
}

func computeCTag(dirMtime time.Time, items map[string]*item.Item) string {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha1.New()
	h.Write([]byte(strconv.FormatInt(dirMtime.UnixNano(), 10)))
	for _, name := range names {
		h.Write([]byte("\n" + name + ":" + items[name].ETag()))
	}
	return strconv.FormatInt(dirMtime.Unix(), 10) + "-" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the item called name.
func (c *Collection) Get(name string) (*item.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.freshen(false); err != nil {
		return nil, err
	}
	it, ok := c.items[name]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", name, storage.ErrNotFound)
	}
	return it, nil
}

// Items returns every indexed item sorted by name.
func (c *Collection) Items() ([]*item.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.freshen(false); err != nil {
		return nil, err
	}
	return c.sortedItems(), nil
}

func (c *Collection) sortedItems() []*item.Item {
	out := make([]*item.Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (c *Collection) CTag() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.freshen(false); err != nil {
		return "", err
	}
	return c.ctag, nil
}

// LastModified is the newest item modification time, or the directory
// mtime for an empty collection.
func (c *Collection) LastModified() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.freshen(false); err != nil {
		return time.Time{}, err
	}
	latest := c.dirMtime
	if len(c.items) > 0 {
		latest = time.Time{}
	}
	for _, it := range c.items {
		if it.LastModified().After(latest) {
			latest = it.LastModified()
		}
	}
	return latest, nil
}

// Kind is Card when every item is a card and the collection is not empty,
// Calendar otherwise.
func (c *Collection) Kind() (item.Kind, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.freshen(false); err != nil {
		return item.Calendar, err
	}
	if len(c.items) == 0 {
		return item.Calendar, nil
	}
	for _, it := range c.items {
		if it.Kind() != item.Card {
			return item.Calendar, nil
		}
	}
	return item.Card, nil
}

// Text concatenates the text of every item in name order.
func (c *Collection) Text() (string, error) {
	items, err := c.Items()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.Text())
	}
	return b.String(), nil
}

// Append stores a new item. It fails with storage.ErrDuplicateItem when the
// resolved name is already taken.
func (c *Collection) Append(ctx context.Context, name string, data []byte, mc storage.MutationContext) (*item.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.append(ctx, name, data, mc)
}

func (c *Collection) append(ctx context.Context, name string, data []byte, mc storage.MutationContext) (*item.Item, error) {
	if err := c.freshen(false); err != nil {
		return nil, err
	}
	it, err := item.Parse(data, name, "")
	if err != nil {
		return nil, err
	}
	if _, exists := c.items[it.Name()]; exists {
		return nil, fmt.Errorf("item %s: %w", it.Name(), storage.ErrDuplicateItem)
	}

	path := filepath.Join(c.dir, it.FileName(randID()))
	if err := writeFileAtomic(path, it.Serialize(), true); err != nil {
		return nil, err
	}
	return c.commitAndReload(ctx, path, it.Name(), mc.WithAction(storage.ActionAdd))
}

// Precondition vets the current item, nil when name is absent, before a
// write. A non-nil error aborts the write and is returned unchanged.
type Precondition func(current *item.Item) error

// Replace rewrites the item called name in place. When no such item exists
// it falls back to remove then append.
func (c *Collection) Replace(ctx context.Context, name string, data []byte, mc storage.MutationContext) (*item.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replace(ctx, name, data, mc)
}

// Store checks cond and then replaces or appends name in one critical
// section, so no other write can slip in between.
func (c *Collection) Store(ctx context.Context, name string, data []byte, cond Precondition, mc storage.MutationContext) (*item.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.current(name, cond)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return c.append(ctx, name, data, mc)
	}
	return c.replace(ctx, name, data, mc)
}

func (c *Collection) current(name string, cond Precondition) (*item.Item, error) {
	if err := c.freshen(false); err != nil {
		return nil, err
	}
	current := c.items[name]
	if cond != nil {
		if err := cond(current); err != nil {
			return nil, err
		}
	}
	return current, nil
}

func (c *Collection) replace(ctx context.Context, name string, data []byte, mc storage.MutationContext) (*item.Item, error) {
	if err := c.freshen(false); err != nil {
		return nil, err
	}
	old, ok := c.items[name]
	if !ok {
		if err := c.remove(ctx, name, mc); err != nil {
			return nil, err
		}
		return c.append(ctx, name, data, mc)
	}

	it, err := item.Parse(data, name, old.Path())
	if err != nil {
		return nil, err
	}
	if it.Name() != name {
		if _, taken := c.items[it.Name()]; taken {
			return nil, fmt.Errorf("item %s: %w", it.Name(), storage.ErrDuplicateItem)
		}
	}

	if err := writeFileAtomic(old.Path(), it.Serialize(), false); err != nil {
		return nil, err
	}
	// the rename can leave size and mtime looking unchanged; force a re-read
	delete(c.files, old.Path())
	delete(c.byPath, old.Path())
	return c.commitAndReload(ctx, old.Path(), it.Name(), mc.WithAction(storage.ActionModify))
}

// Remove deletes the item called name. Removing an absent name is a no-op.
func (c *Collection) Remove(ctx context.Context, name string, mc storage.MutationContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remove(ctx, name, mc)
}

// RemoveIf is Remove guarded by cond, evaluated under the same lock.
func (c *Collection) RemoveIf(ctx context.Context, name string, cond Precondition, mc storage.MutationContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.current(name, cond); err != nil {
		return err
	}
	return c.remove(ctx, name, mc)
}

func (c *Collection) remove(ctx context.Context, name string, mc storage.MutationContext) error {
	if err := c.freshen(false); err != nil {
		return err
	}
	old, ok := c.items[name]
	if !ok {
		return nil
	}
	if err := os.Remove(old.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_, err := c.commitAndReload(ctx, old.Path(), "", mc.WithAction(storage.ActionRemove))
	return err
}

// commitAndReload runs after a file operation: it bumps the directory mtime,
// hands the change to version control and re-indexes. A version control
// failure is returned after the index has been refreshed; the file change
// itself is kept.
func (c *Collection) commitAndReload(ctx context.Context, path, name string, mc storage.MutationContext) (*item.Item, error) {
	touchDir(c.dir)

	// the file is already in place; a client going away must not abort the commit
	vcsErr := c.vcs.Commit(context.WithoutCancel(ctx), c.dir, []string{path}, mc)
	if vcsErr != nil {
		c.logger.Error().Err(vcsErr).Str("file", path).Str("action", mc.Action).Msg("version control failed, file change kept")
	}
	if err := c.freshen(true); err != nil {
		return nil, err
	}
	if vcsErr != nil {
		return nil, vcsErr
	}
	if name == "" {
		return nil, nil
	}
	it, ok := c.items[name]
	if !ok {
		return nil, fmt.Errorf("item %s vanished after write: %w", name, storage.ErrNotFound)
	}
	return it, nil
}

package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"vdirsync/ical"
	"vdirsync/vderr"
)

// FilesystemConfig configures a directory tree of one-subdirectory-per-
// collection, one-file-per-item storage.
type FilesystemConfig struct {
	// Root is the storage root directory. Every first-level subdirectory
	// under Root is a collection.
	Root string
	// Extension is the file suffix (without leading dot, e.g. "ics",
	// "vcf") that marks a file inside a collection directory as an item.
	// Any other file (notably displayname, color) holds a collection
	// property instead.
	Extension string
}

// FilesystemStorage implements Storage over a local directory tree,
// generalizing the teacher's single-file section model (backend/file) to
// one subdirectory per collection and one file per item, as spec'd.
type FilesystemStorage struct {
	root string
	ext  string
}

var _ Storage = (*FilesystemStorage)(nil)

// NewFilesystemStorage resolves cfg.Root to an absolute path and returns
// a ready-to-use FilesystemStorage. The root directory is created if it
// does not already exist.
func NewFilesystemStorage(cfg FilesystemConfig) (*FilesystemStorage, error) {
	root := cfg.Root
	if root == "" {
		return nil, vderr.Newf(vderr.InvalidInput, "filesystem storage root must not be empty")
	}
	if !filepath.IsAbs(root) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, vderr.Wrapf(vderr.Io, err, "resolving working directory")
		}
		root = filepath.Join(wd, root)
	}
	ext := strings.TrimPrefix(cfg.Extension, ".")
	if ext == "" {
		return nil, vderr.Newf(vderr.InvalidInput, "filesystem storage extension must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, vderr.Wrapf(vderr.Io, err, "creating storage root %q", root)
	}
	return &FilesystemStorage{root: root, ext: ext}, nil
}

func (s *FilesystemStorage) Close() error { return nil }

// DiscoverCollections lists every first-level subdirectory of the root.
func (s *FilesystemStorage) DiscoverCollections(ctx context.Context) ([]Collection, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, vderr.Wrapf(vderr.Io, err, "reading storage root %q", s.root)
	}
	var out []Collection
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out = append(out, s.collection(e.Name()))
	}
	return out, nil
}

// CreateCollection mkdirs a new collection subdirectory named id.
func (s *FilesystemStorage) CreateCollection(ctx context.Context, id string) (Collection, error) {
	dir, err := s.resolveCollectionDir(id)
	if err != nil {
		return nil, err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return s.collection(id), nil
		}
		return nil, vderr.Wrapf(vderr.Io, err, "creating collection directory %q", dir)
	}
	return s.collection(id), nil
}

// DestroyCollection removes a collection's directory and everything
// under it.
func (s *FilesystemStorage) DestroyCollection(ctx context.Context, c Collection) error {
	dir, err := s.resolveCollectionDir(c.ID())
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return vderr.Wrapf(vderr.Io, err, "removing collection directory %q", dir)
	}
	return nil
}

func (s *FilesystemStorage) collection(id string) *filesystemCollection {
	return &filesystemCollection{storage: s, id: id}
}

// resolveCollectionDir joins id onto root and rejects any id that would
// escape the storage root, e.g. "..", "../x", or an absolute path.
func (s *FilesystemStorage) resolveCollectionDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." {
		return "", vderr.Newf(vderr.InvalidInput, "invalid collection id %q", id)
	}
	dir := filepath.Join(s.root, id)
	if filepath.Dir(dir) != s.root {
		return "", vderr.Newf(vderr.InvalidInput, "collection id %q escapes storage root", id)
	}
	return dir, nil
}

type filesystemCollection struct {
	storage *FilesystemStorage
	id      string
}

var _ Collection = (*filesystemCollection)(nil)

func (c *filesystemCollection) ID() string   { return c.id }
func (c *filesystemCollection) Href() string { return c.id }

func (c *filesystemCollection) dir() string {
	return filepath.Join(c.storage.root, c.id)
}

// itemPath joins href onto the collection directory and rejects any
// href that would escape it.
func (c *filesystemCollection) itemPath(href string) (string, error) {
	if href == "" {
		return "", vderr.Newf(vderr.InvalidInput, "item href must not be empty")
	}
	dir := c.dir()
	p := filepath.Join(dir, href)
	if filepath.Dir(p) != dir {
		return "", vderr.Newf(vderr.InvalidInput, "href %q escapes collection root", href)
	}
	return p, nil
}

func (c *filesystemCollection) List(ctx context.Context) ([]ItemRef, error) {
	entries, err := os.ReadDir(c.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vderr.Wrapf(vderr.DoesNotExist, err, "collection %q", c.id)
		}
		return nil, vderr.Wrapf(vderr.Io, err, "reading collection directory %q", c.dir())
	}
	var out []ItemRef
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "."+c.storage.ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, vderr.Wrapf(vderr.Io, err, "stat %q", e.Name())
		}
		out = append(out, ItemRef{Href: e.Name(), ETag: fileETag(info)})
	}
	return out, nil
}

func (c *filesystemCollection) Get(ctx context.Context, href string) (*ical.Item, string, error) {
	p, err := c.itemPath(href)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", vderr.Wrapf(vderr.DoesNotExist, err, "item %q", href)
		}
		return nil, "", vderr.Wrapf(vderr.Io, err, "reading item %q", href)
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, "", vderr.Wrapf(vderr.Io, err, "stat item %q", href)
	}
	return ical.NewItem(string(data)), fileETag(info), nil
}

func (c *filesystemCollection) GetMany(ctx context.Context, hrefs []string) (map[string]GetResult, error) {
	out := make(map[string]GetResult, len(hrefs))
	for _, href := range hrefs {
		item, etag, err := c.Get(ctx, href)
		out[href] = GetResult{Item: item, ETag: etag, Err: err}
	}
	return out, nil
}

// Add writes a new file named "<item.Ident()>.<ext>" with exclusive-
// create semantics: it fails if the file already exists.
func (c *filesystemCollection) Add(ctx context.Context, item *ical.Item) (string, string, error) {
	href := item.Ident() + "." + c.storage.ext
	p, err := c.itemPath(href)
	if err != nil {
		return "", "", err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", "", vderr.Wrapf(vderr.InvalidData, err, "item %q already exists", href)
		}
		return "", "", vderr.Wrapf(vderr.Io, err, "creating item %q", href)
	}
	defer f.Close()
	if _, err := f.WriteString(item.Raw()); err != nil {
		return "", "", vderr.Wrapf(vderr.Io, err, "writing item %q", href)
	}
	info, err := f.Stat()
	if err != nil {
		return "", "", vderr.Wrapf(vderr.Io, err, "stat written item %q", href)
	}
	return href, fileETag(info), nil
}

// Update truncates and rewrites an existing file, preconditioned on the
// caller-supplied etag matching the file's current etag.
func (c *filesystemCollection) Update(ctx context.Context, href, etag string, item *ical.Item) (string, error) {
	p, err := c.itemPath(href)
	if err != nil {
		return "", err
	}
	if err := c.checkETag(p, href, etag); err != nil {
		return "", err
	}
	if err := os.WriteFile(p, []byte(item.Raw()), 0o644); err != nil {
		return "", vderr.Wrapf(vderr.Io, err, "updating item %q", href)
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", vderr.Wrapf(vderr.Io, err, "stat updated item %q", href)
	}
	return fileETag(info), nil
}

// Delete unlinks a file, preconditioned on the caller-supplied etag
// matching the file's current etag.
func (c *filesystemCollection) Delete(ctx context.Context, href, etag string) error {
	p, err := c.itemPath(href)
	if err != nil {
		return err
	}
	if err := c.checkETag(p, href, etag); err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return vderr.Wrapf(vderr.Io, err, "deleting item %q", href)
	}
	return nil
}

func (c *filesystemCollection) checkETag(p, href, etag string) error {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return vderr.Wrapf(vderr.DoesNotExist, err, "item %q", href)
		}
		return vderr.Wrapf(vderr.Io, err, "stat item %q", href)
	}
	if etag != "" && fileETag(info) != etag {
		return vderr.Newf(vderr.InvalidData, "etag mismatch for item %q", href)
	}
	return nil
}

// propertyPath accepts only the fixed property names (displayname, color,
// description), each stored as a file of that name without the item
// extension, so it is never mistaken for an item file.
func (c *filesystemCollection) propertyPath(name Property) (string, error) {
	switch name {
	case PropertyDisplayName, PropertyColor, PropertyDescription:
	default:
		return "", vderr.Newf(vderr.InvalidInput, "unknown collection property %q", name)
	}
	return filepath.Join(c.dir(), string(name)), nil
}

func (c *filesystemCollection) GetProperty(ctx context.Context, name Property) (string, error) {
	p, err := c.propertyPath(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", vderr.Wrapf(vderr.DoesNotExist, err, "property %q", name)
		}
		return "", vderr.Wrapf(vderr.Io, err, "reading property %q", name)
	}
	return string(data), nil
}

func (c *filesystemCollection) SetProperty(ctx context.Context, name Property, value string) error {
	p, err := c.propertyPath(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, []byte(value), 0o644); err != nil {
		return vderr.Wrapf(vderr.Io, err, "writing property %q", name)
	}
	return nil
}

// fileETag builds "<mtime_unixnano>;<inode>": cheap to compute, changes
// on any content write, stable across reads.
func fileETag(info fs.FileInfo) string {
	var ino uint64
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		ino = stat.Ino
	}
	return fmt.Sprintf("%d;%d", info.ModTime().UnixNano(), ino)
}

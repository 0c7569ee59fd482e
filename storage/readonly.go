package storage

import (
	"context"

	"vdirsync/ical"
	"vdirsync/vderr"
)

// ReadOnlyStorage decorates any Storage, delegating reads and rejecting
// every mutation with vderr.ReadOnly. Used to protect one side of a pair
// the user has configured as a one-way source.
type ReadOnlyStorage struct {
	inner Storage
}

var _ Storage = (*ReadOnlyStorage)(nil)

// NewReadOnlyStorage wraps inner.
func NewReadOnlyStorage(inner Storage) *ReadOnlyStorage {
	return &ReadOnlyStorage{inner: inner}
}

func (s *ReadOnlyStorage) Close() error { return s.inner.Close() }

func (s *ReadOnlyStorage) DiscoverCollections(ctx context.Context) ([]Collection, error) {
	cols, err := s.inner.DiscoverCollections(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Collection, len(cols))
	for i, c := range cols {
		out[i] = &readOnlyCollection{inner: c}
	}
	return out, nil
}

func (s *ReadOnlyStorage) CreateCollection(ctx context.Context, id string) (Collection, error) {
	return nil, vderr.Newf(vderr.ReadOnly, "storage is read-only")
}

func (s *ReadOnlyStorage) DestroyCollection(ctx context.Context, c Collection) error {
	return vderr.Newf(vderr.ReadOnly, "storage is read-only")
}

type readOnlyCollection struct {
	inner Collection
}

var _ Collection = (*readOnlyCollection)(nil)

func (c *readOnlyCollection) ID() string   { return c.inner.ID() }
func (c *readOnlyCollection) Href() string { return c.inner.Href() }

func (c *readOnlyCollection) List(ctx context.Context) ([]ItemRef, error) {
	return c.inner.List(ctx)
}

func (c *readOnlyCollection) Get(ctx context.Context, href string) (*ical.Item, string, error) {
	return c.inner.Get(ctx, href)
}

func (c *readOnlyCollection) GetMany(ctx context.Context, hrefs []string) (map[string]GetResult, error) {
	return c.inner.GetMany(ctx, hrefs)
}

func (c *readOnlyCollection) Add(ctx context.Context, item *ical.Item) (string, string, error) {
	return "", "", vderr.Newf(vderr.ReadOnly, "collection %q is read-only", c.inner.ID())
}

func (c *readOnlyCollection) Update(ctx context.Context, href, etag string, item *ical.Item) (string, error) {
	return "", vderr.Newf(vderr.ReadOnly, "collection %q is read-only", c.inner.ID())
}

func (c *readOnlyCollection) Delete(ctx context.Context, href, etag string) error {
	return vderr.Newf(vderr.ReadOnly, "collection %q is read-only", c.inner.ID())
}

func (c *readOnlyCollection) GetProperty(ctx context.Context, name Property) (string, error) {
	return c.inner.GetProperty(ctx, name)
}

func (c *readOnlyCollection) SetProperty(ctx context.Context, name Property, value string) error {
	return vderr.Newf(vderr.ReadOnly, "collection %q is read-only", c.inner.ID())
}

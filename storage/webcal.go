package storage

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"vdirsync/ical"
	"vdirsync/internal/webdav"
	"vdirsync/vderr"
)

// WebCalConfig configures a read-only WebCalStorage.
type WebCalConfig struct {
	// Client must be a webdav.Client whose Endpoint is the feed URL
	// itself; WebCalStorage issues plain GETs against it.
	Client *webdav.Client
	// CollectionID names the single synthetic collection this storage
	// exposes. Falls back to a generated uuid.New() id when empty.
	CollectionID string
}

// WebCalStorage exposes a single remote calendar/address-book feed (a
// webcal:// or plain HTTPS URL) as one read-only synthetic collection,
// splitting the fetched body into standalone items via ical.Split and
// using each item's content hash as its etag.
type WebCalStorage struct {
	client *webdav.Client
	id     string
}

var _ Storage = (*WebCalStorage)(nil)

// NewWebCalStorage wraps an already-configured client pointed at the
// feed URL.
func NewWebCalStorage(cfg WebCalConfig) (*WebCalStorage, error) {
	if cfg.Client == nil {
		return nil, vderr.Newf(vderr.InvalidInput, "webcal storage requires a client")
	}
	id := cfg.CollectionID
	if id == "" {
		id = uuid.New().String()
	}
	return &WebCalStorage{client: cfg.Client, id: id}, nil
}

func (s *WebCalStorage) Close() error { return nil }

func (s *WebCalStorage) DiscoverCollections(ctx context.Context) ([]Collection, error) {
	return []Collection{&webcalCollection{storage: s}}, nil
}

func (s *WebCalStorage) CreateCollection(ctx context.Context, id string) (Collection, error) {
	return nil, vderr.Newf(vderr.Unsupported, "webcal storage does not support creating collections")
}

func (s *WebCalStorage) DestroyCollection(ctx context.Context, c Collection) error {
	return vderr.Newf(vderr.Unsupported, "webcal storage does not support destroying collections")
}

type webcalCollection struct {
	storage *WebCalStorage
}

var _ Collection = (*webcalCollection)(nil)

func (c *webcalCollection) ID() string   { return c.storage.id }
func (c *webcalCollection) Href() string { return c.storage.id }

// fetchItems GETs the feed once and splits it into standalone items.
func (c *webcalCollection) fetchItems(ctx context.Context) ([]*ical.Item, error) {
	data, _, _, err := c.storage.client.Get(ctx, "")
	if err != nil {
		return nil, err
	}
	cal, err := ical.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil, vderr.Wrapf(vderr.InvalidData, err, "parsing feed body")
	}
	comps, err := ical.Split(cal)
	if err != nil {
		return nil, vderr.Wrapf(vderr.InvalidData, err, "splitting feed into items")
	}
	items := make([]*ical.Item, len(comps))
	for i, comp := range comps {
		var sb strings.Builder
		if err := comp.Encode(&sb); err != nil {
			return nil, vderr.Wrapf(vderr.InvalidData, err, "encoding split item")
		}
		items[i] = ical.NewItem(sb.String())
	}
	return items, nil
}

func (c *webcalCollection) List(ctx context.Context) ([]ItemRef, error) {
	items, err := c.fetchItems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ItemRef, len(items))
	for i, item := range items {
		out[i] = ItemRef{Href: item.Ident(), ETag: item.Hash()}
	}
	return out, nil
}

func (c *webcalCollection) Get(ctx context.Context, href string) (*ical.Item, string, error) {
	items, err := c.fetchItems(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, item := range items {
		if item.Ident() == href {
			return item, item.Hash(), nil
		}
	}
	return nil, "", vderr.New(vderr.DoesNotExist, nil)
}

func (c *webcalCollection) GetMany(ctx context.Context, hrefs []string) (map[string]GetResult, error) {
	items, err := c.fetchItems(ctx)
	if err != nil {
		return nil, err
	}
	byIdent := make(map[string]*ical.Item, len(items))
	for _, item := range items {
		byIdent[item.Ident()] = item
	}
	out := make(map[string]GetResult, len(hrefs))
	for _, href := range hrefs {
		item, ok := byIdent[href]
		if !ok {
			out[href] = GetResult{Err: vderr.New(vderr.DoesNotExist, nil)}
			continue
		}
		out[href] = GetResult{Item: item, ETag: item.Hash()}
	}
	return out, nil
}

func (c *webcalCollection) Add(ctx context.Context, item *ical.Item) (string, string, error) {
	return "", "", vderr.Newf(vderr.Unsupported, "webcal storage is read-only")
}

func (c *webcalCollection) Update(ctx context.Context, href, etag string, item *ical.Item) (string, error) {
	return "", vderr.Newf(vderr.Unsupported, "webcal storage is read-only")
}

func (c *webcalCollection) Delete(ctx context.Context, href, etag string) error {
	return vderr.Newf(vderr.Unsupported, "webcal storage is read-only")
}

func (c *webcalCollection) GetProperty(ctx context.Context, name Property) (string, error) {
	return "", vderr.Newf(vderr.Unsupported, "webcal storage does not support collection properties")
}

func (c *webcalCollection) SetProperty(ctx context.Context, name Property, value string) error {
	return vderr.Newf(vderr.Unsupported, "webcal storage is read-only")
}

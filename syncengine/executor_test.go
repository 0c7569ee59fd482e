package syncengine_test

import (
	"context"
	"errors"
	"testing"

	"vdirsync/ical"
	"vdirsync/storage"
	"vdirsync/syncengine"
	"vdirsync/syncstate"
	"vdirsync/vderr"
)

// memStorage is a minimal in-memory storage.Storage used to exercise
// the executor without any real filesystem or network backend.
type memStorage struct {
	colls map[string]*memCollection
}

func newMemStorage() *memStorage {
	return &memStorage{colls: map[string]*memCollection{}}
}

func (m *memStorage) DiscoverCollections(ctx context.Context) ([]storage.Collection, error) {
	var out []storage.Collection
	for _, c := range m.colls {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStorage) CreateCollection(ctx context.Context, id string) (storage.Collection, error) {
	if _, ok := m.colls[id]; ok {
		return nil, vderr.Newf(vderr.InvalidInput, "collection %q already exists", id)
	}
	c := &memCollection{id: id, items: map[string]*memItem{}}
	m.colls[id] = c
	return c, nil
}

func (m *memStorage) DestroyCollection(ctx context.Context, c storage.Collection) error {
	mc, ok := c.(*memCollection)
	if !ok {
		return vderr.Newf(vderr.InvalidInput, "not a memCollection")
	}
	if len(mc.items) > 0 {
		return vderr.New(vderr.CollectionNotEmpty, nil)
	}
	delete(m.colls, mc.id)
	return nil
}

func (m *memStorage) Close() error { return nil }

type memItem struct {
	item *ical.Item
	etag string
}

type memCollection struct {
	id    string
	items map[string]*memItem // keyed by href
	seq   int
}

func (c *memCollection) ID() string   { return c.id }
func (c *memCollection) Href() string { return "/" + c.id + "/" }

func (c *memCollection) List(ctx context.Context) ([]storage.ItemRef, error) {
	var out []storage.ItemRef
	for href, it := range c.items {
		out = append(out, storage.ItemRef{Href: href, ETag: it.etag})
	}
	return out, nil
}

func (c *memCollection) Get(ctx context.Context, href string) (*ical.Item, string, error) {
	it, ok := c.items[href]
	if !ok {
		return nil, "", vderr.Newf(vderr.DoesNotExist, "no item at %q", href)
	}
	return it.item, it.etag, nil
}

func (c *memCollection) GetMany(ctx context.Context, hrefs []string) (map[string]storage.GetResult, error) {
	out := map[string]storage.GetResult{}
	for _, href := range hrefs {
		it, etag, err := c.Get(ctx, href)
		out[href] = storage.GetResult{Item: it, ETag: etag, Err: err}
	}
	return out, nil
}

func (c *memCollection) Add(ctx context.Context, item *ical.Item) (string, string, error) {
	c.seq++
	href := item.Ident()
	if _, ok := c.items[href]; ok {
		return "", "", vderr.New(vderr.InvalidInput, errors.New("already exists"))
	}
	etag := item.Hash()
	c.items[href] = &memItem{item: item, etag: etag}
	return href, etag, nil
}

func (c *memCollection) Update(ctx context.Context, href, etag string, item *ical.Item) (string, error) {
	cur, ok := c.items[href]
	if !ok {
		return "", vderr.Newf(vderr.DoesNotExist, "no item at %q", href)
	}
	if cur.etag != etag {
		return "", vderr.Newf(vderr.InvalidInput, "etag mismatch")
	}
	newETag := item.Hash()
	c.items[href] = &memItem{item: item, etag: newETag}
	return newETag, nil
}

func (c *memCollection) Delete(ctx context.Context, href, etag string) error {
	cur, ok := c.items[href]
	if !ok {
		return vderr.Newf(vderr.DoesNotExist, "no item at %q", href)
	}
	if cur.etag != etag {
		return vderr.Newf(vderr.InvalidInput, "etag mismatch")
	}
	delete(c.items, href)
	return nil
}

func (c *memCollection) GetProperty(ctx context.Context, name storage.Property) (string, error) {
	return "", vderr.New(vderr.Unsupported, nil)
}

func (c *memCollection) SetProperty(ctx context.Context, name storage.Property, value string) error {
	return vderr.New(vderr.Unsupported, nil)
}

func mustAdd(t *testing.T, c *memCollection, raw string) (href, etag string) {
	t.Helper()
	href, etag, err := c.Add(context.Background(), ical.NewItem(raw))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return href, etag
}

func TestRunCreatesNewCollectionAndCopiesItemsToB(t *testing.T) {
	a := newMemStorage()
	b := newMemStorage()

	collA, err := a.CreateCollection(context.Background(), "personal")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	mustAdd(t, collA.(*memCollection), "BEGIN:VEVENT\r\nUID:event-1\r\nEND:VEVENT\r\n")

	result, err := syncengine.Run(context.Background(), a, b, syncstate.StorageState{}, syncstate.StorageState{}, syncengine.Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}

	bColl, ok := b.colls["personal"]
	if !ok {
		t.Fatalf("expected collection %q created on B", "personal")
	}
	if len(bColl.items) != 1 {
		t.Fatalf("expected 1 item copied to B, got %d", len(bColl.items))
	}

	aState, ok := result.StateA.CollectionByID("personal")
	if !ok || len(aState.Items) != 1 {
		t.Fatalf("expected state A to track 1 item, got %+v ok=%v", aState, ok)
	}
	bState, ok := result.StateB.CollectionByID("personal")
	if !ok || len(bState.Items) != 1 {
		t.Fatalf("expected state B to track 1 item, got %+v ok=%v", bState, ok)
	}
}

func TestRunDeletesOnOtherSideWhenRemovedFromOneSide(t *testing.T) {
	a := newMemStorage()
	b := newMemStorage()

	collA, _ := a.CreateCollection(context.Background(), "personal")
	collB, _ := b.CreateCollection(context.Background(), "personal")
	hrefA, etagA := mustAdd(t, collA.(*memCollection), "BEGIN:VEVENT\r\nUID:event-1\r\nEND:VEVENT\r\n")
	hrefB, etagB := mustAdd(t, collB.(*memCollection), "BEGIN:VEVENT\r\nUID:event-1\r\nEND:VEVENT\r\n")

	prevA := syncstate.StorageState{Collections: []syncstate.CollectionState{
		{ID: "personal", Items: []syncstate.ItemState{{Href: hrefA, UID: "event-1", ETag: etagA, Hash: "x"}}},
	}}
	prevB := syncstate.StorageState{Collections: []syncstate.CollectionState{
		{ID: "personal", Items: []syncstate.ItemState{{Href: hrefB, UID: "event-1", ETag: etagB, Hash: "x"}}},
	}}

	delete(collA.(*memCollection).items, hrefA)

	result, err := syncengine.Run(context.Background(), a, b, prevA, prevB, syncengine.Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}

	if len(collB.(*memCollection).items) != 0 {
		t.Fatalf("expected item deleted on B, still has %d items", len(collB.(*memCollection).items))
	}
	bState, _ := result.StateB.CollectionByID("personal")
	if len(bState.Items) != 0 {
		t.Fatalf("expected state B to drop the deleted item, got %+v", bState)
	}
}

func TestRunCopiesEveryItemToNewCollectionWithoutErrors(t *testing.T) {
	a := newMemStorage()
	b := newMemStorage()

	collA, _ := a.CreateCollection(context.Background(), "personal")
	mc := collA.(*memCollection)
	mustAdd(t, mc, "BEGIN:VEVENT\r\nUID:event-1\r\nEND:VEVENT\r\n")
	mustAdd(t, mc, "BEGIN:VEVENT\r\nUID:event-2\r\nEND:VEVENT\r\n")

	result, err := syncengine.Run(context.Background(), a, b, syncstate.StorageState{}, syncstate.StorageState{}, syncengine.Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors on first run: %+v", result.Errors)
	}

	bColl := b.colls["personal"]
	if len(bColl.items) != 2 {
		t.Fatalf("expected 2 items copied, got %d", len(bColl.items))
	}
}

func TestRunConnectivityProbeCollapsesPerItemFailures(t *testing.T) {
	a := newMemStorage()
	b := newMemStorage()

	collA, _ := a.CreateCollection(context.Background(), "personal")
	mc := collA.(*memCollection)
	mustAdd(t, mc, "BEGIN:VEVENT\r\nUID:event-1\r\nEND:VEVENT\r\n")
	mustAdd(t, mc, "BEGIN:VEVENT\r\nUID:event-2\r\nEND:VEVENT\r\n")

	probe := func(ctx context.Context, s storage.Storage) error {
		return errors.New("unreachable")
	}

	result, err := syncengine.Run(context.Background(), a, b, syncstate.StorageState{}, syncstate.StorageState{}, syncengine.Config{
		ProbeB: probe,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly one collapsed probe error, got %+v", result.Errors)
	}
	if result.Errors[0].Action != "probe" {
		t.Fatalf("expected probe error, got %+v", result.Errors[0])
	}
}

// Package syncengine drives one sync run between two storages: it
// discovers collections on each side, asks syncplan for the action to
// take on every collection and item, applies those actions, and
// returns the resulting state for the caller to persist.
package syncengine

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"vdirsync/storage"
	"vdirsync/syncplan"
	"vdirsync/syncstate"
	"vdirsync/vderr"
)

// SynchronizationError is one failed action within an otherwise
// continuing run. Collected rather than returned, so that one bad item
// never aborts the rest of a collection or the rest of a run.
type SynchronizationError struct {
	CollectionID string
	UID          string
	Action       string
	Err          error
}

func (e *SynchronizationError) Error() string {
	return e.CollectionID + "/" + e.UID + " (" + e.Action + "): " + e.Err.Error()
}

func (e *SynchronizationError) Unwrap() error { return e.Err }

// Result is the outcome of one Run: the updated state for each side
// plus every partial failure encountered along the way.
type Result struct {
	StateA StorageState
	StateB StorageState
	Errors []SynchronizationError
}

// StorageState is an alias so callers of this package don't need to
// import syncstate directly just to pass state through Run.
type StorageState = syncstate.StorageState

// ConnectivityProbe reports whether s is currently reachable. When
// supplied to Run and it errors for a storage, every action against
// that storage for the run is collapsed into one SynchronizationError
// per collection instead of one per item, so a storage that is simply
// offline doesn't flood the error list.
type ConnectivityProbe func(ctx context.Context, s storage.Storage) error

// Config configures one Run.
type Config struct {
	CollectionIDs []string
	ProbeA        ConnectivityProbe
	ProbeB        ConnectivityProbe
	BreakerA      *StorageBreaker
	BreakerB      *StorageBreaker
	Logger        zerolog.Logger
}

// Run synchronizes every collection named in cfg.CollectionIDs (or, if
// empty, the union of collections discovered on both sides and those
// recorded in either side's previous state) between a
// and b, starting from the previously persisted state of each side.
func Run(ctx context.Context, a, b storage.Storage, prevA, prevB StorageState, cfg Config) (Result, error) {
	collsA, err := a.DiscoverCollections(ctx)
	if err != nil {
		return Result{}, vderr.Wrapf(vderr.Io, err, "discovering collections on side A")
	}
	collsB, err := b.DiscoverCollections(ctx)
	if err != nil {
		return Result{}, vderr.Wrapf(vderr.Io, err, "discovering collections on side B")
	}

	byIDA := indexByID(collsA)
	byIDB := indexByID(collsB)

	ids := cfg.CollectionIDs
	if len(ids) == 0 {
		ids = unionIDs(byIDA, byIDB, prevA, prevB)
	}

	result := Result{StateA: prevA, StateB: prevB}

	for _, id := range ids {
		collA, hasA := byIDA[id]
		collB, hasB := byIDB[id]
		prevStateA, hadPrevA := prevA.CollectionByID(id)
		prevStateB, hadPrevB := prevB.CollectionByID(id)

		var prevAPtr, curA, prevBPtr, curB *syncstate.CollectionState
		if hadPrevA {
			prevAPtr = &prevStateA
		}
		if hadPrevB {
			prevBPtr = &prevStateB
		}

		// Learn what's actually in each collection right now: the
		// planner classifies every item from these live snapshots,
		// never from the bare fact that a collection exists.
		if hasA {
			snap, err := snapshotCollection(ctx, id, collA, prevAPtr)
			if err != nil {
				result.Errors = append(result.Errors, SynchronizationError{CollectionID: id, Action: "list_a", Err: err})
				continue
			}
			curA = snap
		}
		if hasB {
			snap, err := snapshotCollection(ctx, id, collB, prevBPtr)
			if err != nil {
				result.Errors = append(result.Errors, SynchronizationError{CollectionID: id, Action: "list_b", Err: err})
				continue
			}
			curB = snap
		}

		plan := syncplan.Plan(prevAPtr, curA, prevBPtr, curB, id, nil)

		newStateA, newStateB, errs := cfg.runCollection(ctx, id, a, b, collA, collB, hasA, hasB, plan, curA, curB)
		result.Errors = append(result.Errors, errs...)

		if newStateA != nil {
			result.StateA = result.StateA.WithCollection(*newStateA)
		} else if plan.CollectionAction == syncplan.DeleteInA {
			result.StateA = result.StateA.WithoutCollection(id)
		}
		if newStateB != nil {
			result.StateB = result.StateB.WithCollection(*newStateB)
		} else if plan.CollectionAction == syncplan.DeleteInB {
			result.StateB = result.StateB.WithoutCollection(id)
		}
	}

	return result, nil
}

// snapshotCollection lists coll's current items and returns a
// CollectionState describing them. An href whose etag still matches
// prev's reuses the already-known UID/hash without refetching
// (invariant 1, spec.md §8: an unchanged etag never forces a refetch);
// anything new or etag-changed is fetched to learn its UID and content
// hash. An href that's no longer listed is simply absent from the
// result, which is how the planner learns an item was deleted.
func snapshotCollection(ctx context.Context, id string, coll storage.Collection, prev *syncstate.CollectionState) (*syncstate.CollectionState, error) {
	refs, err := coll.List(ctx)
	if err != nil {
		return nil, err
	}

	prevByHref := map[string]syncstate.ItemState{}
	if prev != nil {
		for _, it := range prev.Items {
			prevByHref[it.Href] = it
		}
	}

	cur := &syncstate.CollectionState{ID: id}
	var toFetch []string
	for _, ref := range refs {
		if p, ok := prevByHref[ref.Href]; ok && p.ETag == ref.ETag {
			cur.Items = append(cur.Items, p)
			continue
		}
		toFetch = append(toFetch, ref.Href)
	}
	if len(toFetch) == 0 {
		return cur, nil
	}

	fetched, err := coll.GetMany(ctx, toFetch)
	if err != nil {
		return nil, err
	}
	for _, href := range toFetch {
		res, ok := fetched[href]
		if !ok || res.Err != nil {
			// Carry the previously known state forward (if any) so it
			// looks unchanged-but-unreadable and will be retried next run.
			if p, had := prevByHref[href]; had {
				cur.Items = append(cur.Items, p)
			}
			continue
		}
		cur.Items = append(cur.Items, syncstate.ItemState{
			Href: href,
			UID:  res.Item.UID(),
			ETag: res.ETag,
			Hash: res.Item.Hash(),
		})
	}
	return cur, nil
}

// runCollection applies the collection-level action (create/delete)
// then every item-level action for one collection, returning the
// updated CollectionState for each side (nil if the collection no
// longer exists on that side after this run). curA/curB are this
// run's live snapshots (nil if the collection didn't exist on that
// side before this call); the returned states start from them so
// unmodified items carry their just-observed href/etag/hash forward.
func (cfg Config) runCollection(
	ctx context.Context,
	id string,
	a, b storage.Storage,
	collA, collB storage.Collection,
	hasA, hasB bool,
	plan syncplan.CollectionPlan,
	curA, curB *syncstate.CollectionState,
) (*syncstate.CollectionState, *syncstate.CollectionState, []SynchronizationError) {
	var errs []SynchronizationError

	switch plan.CollectionAction {
	case syncplan.CopyToB:
		if !hasB {
			nc, err := b.CreateCollection(ctx, id)
			if err != nil {
				errs = append(errs, SynchronizationError{CollectionID: id, Action: "create_collection_b", Err: err})
				return nil, nil, errs
			}
			collB, hasB = nc, true
		}
	case syncplan.CopyToA:
		if !hasA {
			nc, err := a.CreateCollection(ctx, id)
			if err != nil {
				errs = append(errs, SynchronizationError{CollectionID: id, Action: "create_collection_a", Err: err})
				return nil, nil, errs
			}
			collA, hasA = nc, true
		}
	}

	if hasA {
		if probeErr := probeFailure(ctx, a, cfg.ProbeA, cfg.BreakerA); probeErr != nil {
			errs = append(errs, SynchronizationError{CollectionID: id, Action: "probe", Err: probeErr})
			hasA = false
		}
	}
	if hasB {
		if probeErr := probeFailure(ctx, b, cfg.ProbeB, cfg.BreakerB); probeErr != nil {
			errs = append(errs, SynchronizationError{CollectionID: id, Action: "probe", Err: probeErr})
			hasB = false
		}
	}

	stateA := cloneCollectionState(id, curA)
	stateB := cloneCollectionState(id, curB)

	if hasA && hasB {
		for _, ip := range plan.Items {
			if itemErr := cfg.applyItem(ctx, id, collA, collB, curA, curB, ip, &stateA, &stateB); itemErr != nil {
				errs = append(errs, *itemErr)
			}
		}
	}

	switch plan.CollectionAction {
	case syncplan.DeleteInA:
		if hasA {
			if err := a.DestroyCollection(ctx, collA); err != nil {
				errs = append(errs, SynchronizationError{CollectionID: id, Action: "destroy_collection_a", Err: err})
				return &stateA, &stateB, errs
			}
		}
		return nil, &stateB, errs
	case syncplan.DeleteInB:
		if hasB {
			if err := b.DestroyCollection(ctx, collB); err != nil {
				errs = append(errs, SynchronizationError{CollectionID: id, Action: "destroy_collection_b", Err: err})
				return &stateA, &stateB, errs
			}
		}
		return &stateA, nil, errs
	}

	return &stateA, &stateB, errs
}

// cloneCollectionState copies cur's items into a fresh CollectionState,
// or returns an empty one (e.g. for a collection just created this run)
// if cur is nil.
func cloneCollectionState(id string, cur *syncstate.CollectionState) syncstate.CollectionState {
	if cur == nil {
		return syncstate.CollectionState{ID: id}
	}
	items := make([]syncstate.ItemState, len(cur.Items))
	copy(items, cur.Items)
	return syncstate.CollectionState{ID: id, Items: items}
}

// applyItem performs one item-level action and mutates stateA/stateB
// to reflect it, only after the underlying storage call succeeds.
// curA/curB are this run's live snapshots, used to find the href of an
// item that has never been synced before (so has no entry in either
// side's prior persisted state).
func (cfg Config) applyItem(
	ctx context.Context,
	collID string,
	collA, collB storage.Collection,
	curA, curB *syncstate.CollectionState,
	ip syncplan.ItemPlan,
	stateA, stateB *syncstate.CollectionState,
) *SynchronizationError {
	switch ip.Action {
	case syncplan.NoOp, syncplan.Conflict:
		return nil

	case syncplan.CopyToB:
		return cfg.copyItem(ctx, collID, collA, collB, ip.UID, curA, stateB)

	case syncplan.CopyToA:
		return cfg.copyItem(ctx, collID, collB, collA, ip.UID, curB, stateA)

	case syncplan.DeleteInA:
		return cfg.deleteItem(ctx, collID, collA, ip.UID, stateA)

	case syncplan.DeleteInB:
		return cfg.deleteItem(ctx, collID, collB, ip.UID, stateB)
	}
	return nil
}

// copyItem fetches uid's current form from src (by its href in srcCur,
// this run's live snapshot of src) and writes it to dst, creating or
// updating depending on whether dstState already has that UID, then
// records the written state on the destination side.
func (cfg Config) copyItem(
	ctx context.Context,
	collID string,
	src, dst storage.Collection,
	uid string,
	srcCur *syncstate.CollectionState,
	dstState *syncstate.CollectionState,
) *SynchronizationError {
	srcItem, ok := srcCur.ItemByUID(uid)
	if !ok {
		return &SynchronizationError{CollectionID: collID, UID: uid, Action: "copy", Err: vderr.Newf(vderr.DoesNotExist, "no current item for uid %q", uid)}
	}

	item, _, err := src.Get(ctx, srcItem.Href)
	if err != nil {
		return &SynchronizationError{CollectionID: collID, UID: uid, Action: "fetch_source", Err: err}
	}

	dstItem, ok := dstState.ItemByUID(uid)
	var newHref, newETag string
	if ok {
		newETag, err = dst.Update(ctx, dstItem.Href, dstItem.ETag, item)
		newHref = dstItem.Href
	} else {
		newHref, newETag, err = dst.Add(ctx, item)
	}
	if err != nil {
		return &SynchronizationError{CollectionID: collID, UID: uid, Action: "write_destination", Err: err}
	}

	setItemState(dstState, syncstate.ItemState{Href: newHref, UID: uid, ETag: newETag, Hash: item.Hash()})
	return nil
}

func (cfg Config) deleteItem(ctx context.Context, collID string, coll storage.Collection, uid string, state *syncstate.CollectionState) *SynchronizationError {
	it, ok := state.ItemByUID(uid)
	if ok {
		if err := coll.Delete(ctx, it.Href, it.ETag); err != nil && !vderr.Is(err, vderr.DoesNotExist) {
			return &SynchronizationError{CollectionID: collID, UID: uid, Action: "delete", Err: err}
		}
	}
	removeItemState(state, uid)
	return nil
}

// probeFailure runs probe against s, honoring a circuit breaker when
// configured: a breaker already open short-circuits to a cached
// failure without calling probe again.
func probeFailure(ctx context.Context, s storage.Storage, probe ConnectivityProbe, breaker *StorageBreaker) error {
	if probe == nil {
		return nil
	}
	if breaker != nil && !breaker.Allow() {
		return errors.New("circuit open: storage marked unavailable until the breaker cooldown elapses")
	}
	err := probe(ctx, s)
	if breaker != nil {
		if err != nil {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	return err
}

func setItemState(coll *syncstate.CollectionState, item syncstate.ItemState) {
	for i := range coll.Items {
		if coll.Items[i].UID == item.UID {
			coll.Items[i] = item
			return
		}
	}
	coll.Items = append(coll.Items, item)
}

func removeItemState(coll *syncstate.CollectionState, uid string) {
	out := coll.Items[:0]
	for _, it := range coll.Items {
		if it.UID != uid {
			out = append(out, it)
		}
	}
	coll.Items = out
}

func indexByID(colls []storage.Collection) map[string]storage.Collection {
	out := make(map[string]storage.Collection, len(colls))
	for _, c := range colls {
		out[c.ID()] = c
	}
	return out
}

func unionIDs(byIDA, byIDB map[string]storage.Collection, prevA, prevB StorageState) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for id := range byIDA {
		add(id)
	}
	for id := range byIDB {
		add(id)
	}
	for _, c := range prevA.Collections {
		add(c.ID)
	}
	for _, c := range prevB.Collections {
		add(c.ID)
	}
	sort.Strings(out)
	return out
}

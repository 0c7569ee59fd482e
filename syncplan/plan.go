// Package syncplan implements the pure, I/O-free decision logic of the
// sync engine: given the previous and current state of a collection on
// both sides of a pair, decide what to do with each item and with the
// collection itself.
package syncplan

import (
	"sort"

	"vdirsync/syncstate"
)

// Change classifies one side's item (or collection) between the
// previous and current observation.
type Change int

const (
	NoChange Change = iota
	Changed
	Deleted
	Absent
)

// Action is what the executor should do for one item or collection.
type Action int

const (
	NoOp Action = iota
	CopyToA
	CopyToB
	DeleteInA
	DeleteInB
	Conflict
)

func (a Action) String() string {
	switch a {
	case NoOp:
		return "noop"
	case CopyToA:
		return "copy_to_a"
	case CopyToB:
		return "copy_to_b"
	case DeleteInA:
		return "delete_in_a"
	case DeleteInB:
		return "delete_in_b"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// actionTable[A-change][B-change], exactly the table of spec.md §4.11.
var actionTable = [4][4]Action{
	NoChange: {NoChange: NoOp, Changed: CopyToA, Deleted: DeleteInA, Absent: CopyToB},
	Changed:  {NoChange: CopyToB, Changed: Conflict, Deleted: CopyToB, Absent: CopyToB},
	Deleted:  {NoChange: DeleteInB, Changed: CopyToA, Deleted: NoOp, Absent: NoOp},
	Absent:   {NoChange: CopyToA, Changed: CopyToA, Deleted: NoOp, Absent: NoOp},
}

// ItemPlan is the decided action for one UID.
type ItemPlan struct {
	UID    string
	Action Action
}

// CollectionPlan is the decided action for one collection, plus every
// item action within it.
type CollectionPlan struct {
	ID               string
	CollectionAction Action
	Items            []ItemPlan
}

// Plan computes the collection-level action plus every per-item action
// for one collection, per spec.md §4.11. prevA/curA/prevB/curB are nil
// when the collection was absent in that observation. uids, when
// non-empty, fixes the UID universe and its iteration order (letting a
// caller batch-plan several collections against a stable ordering);
// otherwise the union of UIDs across all four inputs is used, sorted
// for a stable (not necessarily meaningful) iteration order.
func Plan(prevA, curA, prevB, curB *syncstate.CollectionState, id string, uids []string) CollectionPlan {
	collA := classifyPresence(prevA != nil, curA != nil)
	collB := classifyPresence(prevB != nil, curB != nil)

	universe := uids
	if len(universe) == 0 {
		universe = unionUIDs(prevA, curA, prevB, curB)
	}

	items := make([]ItemPlan, 0, len(universe))
	for _, uid := range universe {
		pA, _ := itemState(prevA, uid)
		cA, _ := itemState(curA, uid)
		pB, _ := itemState(prevB, uid)
		cB, _ := itemState(curB, uid)

		aChange := classifyItem(pA, cA)
		bChange := classifyItem(pB, cB)
		items = append(items, ItemPlan{UID: uid, Action: actionTable[aChange][bChange]})
	}

	return CollectionPlan{
		ID:               id,
		CollectionAction: actionTable[collA][collB],
		Items:            items,
	}
}

// classifyPresence applies the item change rules to mere presence,
// since collection content is treated as immutable at the collection
// level (spec.md §4.11): both present is NoChange (nothing about a
// collection can "change" once created), newly present is Changed,
// newly absent is Deleted, neither is Absent.
func classifyPresence(prevPresent, curPresent bool) Change {
	switch {
	case prevPresent && curPresent:
		return NoChange
	case curPresent:
		return Changed
	case prevPresent:
		return Deleted
	default:
		return Absent
	}
}

func classifyItem(prev, cur *syncstate.ItemState) Change {
	switch {
	case prev != nil && cur != nil:
		if prev.ETag == cur.ETag && prev.Hash == cur.Hash {
			return NoChange
		}
		return Changed
	case cur != nil:
		return Changed
	case prev != nil:
		return Deleted
	default:
		return Absent
	}
}

func itemState(coll *syncstate.CollectionState, uid string) (*syncstate.ItemState, bool) {
	if coll == nil {
		return nil, false
	}
	if it, ok := coll.ItemByUID(uid); ok {
		return &it, true
	}
	return nil, false
}

func unionUIDs(states ...*syncstate.CollectionState) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range states {
		if s == nil {
			continue
		}
		for _, it := range s.Items {
			if !seen[it.UID] {
				seen[it.UID] = true
				out = append(out, it.UID)
			}
		}
	}
	sort.Strings(out)
	return out
}

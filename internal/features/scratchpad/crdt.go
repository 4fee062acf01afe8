// Package scratchpad implements the Scratchpad feature adapter (§4.6):
// collaborative plain-text editing via a convergent replicated structure.
//
// No CRDT library appears anywhere in the example pack (see DESIGN.md's
// Open Question entry), and spec.md explicitly permits "any convergent
// replicated text type with binary incremental updates," so this package
// hand-rolls a minimal operation-based replicated sequence: each
// character insertion/deletion is tagged with a globally unique,
// causally ordered operation id, and concurrent inserts at the same
// position are deterministically ordered by that id. This gives the
// same convergence guarantee as a full RGA without the generality (no
// tombstone compaction, no cursor-transform API) a richer implementation
// would offer.
package scratchpad

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// opID orders concurrent operations deterministically: (counter, siteID)
// with siteID breaking ties, matching the tie-break rule of RGA-family
// CRDTs.
type opID struct {
	Counter uint64 `json:"counter"`
	SiteID  string `json:"site_id"`
}

func (a opID) less(b opID) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.SiteID < b.SiteID
}

// elem is one character in the replicated sequence; Deleted elements are
// tombstones kept for ordering stability.
type elem struct {
	ID      opID   `json:"id"`
	After   opID   `json:"after"` // zero value means "sequence start"
	Char    rune   `json:"char"`
	Deleted bool   `json:"deleted"`
}

// Update is the binary incremental update emitted/applied by the
// adapter (§4.6: "each update is emitted as one event whose payload is
// { type: "crdt_update", update: base64(update_bytes) }"). JSON here
// plays the role of "binary" for this hand-rolled structure — a richer
// CRDT would use a compact binary delta format instead.
type Update struct {
	Elements []elem `json:"elements"`
}

// Doc is one collaborative text document: an operation-based replicated
// sequence CRDT (§4.6).
type Doc struct {
	siteID  string
	counter uint64

	mu   sync.Mutex
	elems []elem
	seen map[opID]bool
}

// NewDoc constructs an empty document for one site (device).
func NewDoc(siteID string) *Doc {
	return &Doc{siteID: siteID, seen: map[opID]bool{}}
}

// Text renders the current document content in causal order, skipping
// tombstones.
func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renderLocked()
}

func (d *Doc) renderLocked() string {
	ordered := d.orderedLocked()
	var sb []rune
	for _, e := range ordered {
		if !e.Deleted {
			sb = append(sb, e.Char)
		}
	}
	return string(sb)
}

// orderedLocked returns elems in causal sequence order: each element is
// placed immediately after the element it names in After, ties broken by
// opID.
func (d *Doc) orderedLocked() []elem {
	children := map[opID][]elem{}
	for _, e := range d.elems {
		children[e.After] = append(children[e.After], e)
	}
	for k := range children {
		sort.Slice(children[k], func(i, j int) bool { return children[k][i].ID.less(children[k][j].ID) })
	}

	var out []elem
	var walk func(after opID)
	walk = func(after opID) {
		for _, e := range children[after] {
			out = append(out, e)
			walk(e.ID)
		}
	}
	walk(opID{})
	return out
}

// InsertAtEnd appends text to the document and returns the local Update
// to emit as an event (§4.6 "Local edits produce binary updates").
func (d *Doc) InsertAtEnd(text string) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	ordered := d.orderedLocked()
	after := opID{}
	if len(ordered) > 0 {
		after = ordered[len(ordered)-1].ID
	}

	var added []elem
	for _, r := range text {
		d.counter++
		id := opID{Counter: d.counter, SiteID: d.siteID}
		e := elem{ID: id, After: after, Char: r}
		d.elems = append(d.elems, e)
		d.seen[id] = true
		added = append(added, e)
		after = id
	}
	return Update{Elements: added}
}

// DeleteRange marks the elements covering [start, end) visible-character
// positions as tombstoned and returns the Update to emit.
func (d *Doc) DeleteRange(start, end int) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	ordered := d.orderedLocked()
	var added []elem
	visible := 0
	for i := range ordered {
		if ordered[i].Deleted {
			continue
		}
		if visible >= start && visible < end {
			for j := range d.elems {
				if d.elems[j].ID == ordered[i].ID {
					d.elems[j].Deleted = true
					added = append(added, d.elems[j])
					break
				}
			}
		}
		visible++
	}
	return Update{Elements: added}
}

// Apply merges a remote Update into the document. Local edits
// (InsertAtEnd/DeleteRange) return only the elements they themselves
// create or tombstone, so an applied remote update is never re-emitted
// (§4.6); Apply itself is idempotent per operation id, so duplicate
// delivery is harmless regardless.
func (d *Doc) Apply(u Update) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range u.Elements {
		if d.seen[e.ID] {
			// Already-known op: this is a tombstone update for an
			// existing element, or a duplicate insert — merge the
			// deleted flag and skip re-inserting.
			for i := range d.elems {
				if d.elems[i].ID == e.ID {
					d.elems[i].Deleted = d.elems[i].Deleted || e.Deleted
					break
				}
			}
			continue
		}
		d.seen[e.ID] = true
		d.elems = append(d.elems, e)
		// Keep local op ids ahead of every id seen so far, so a document
		// rebuilt from its own earlier updates never reuses one.
		if e.ID.Counter > d.counter {
			d.counter = e.ID.Counter
		}
	}
}

// MarshalUpdate serializes an Update for the event payload.
func MarshalUpdate(u Update) ([]byte, error) {
	return json.Marshal(u)
}

// UnmarshalUpdate deserializes an Update from an event payload.
func UnmarshalUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("scratchpad: invalid update: %w", err)
	}
	return u, nil
}

package api

import (
	"encoding/json"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/danghamo/nearby/internal/channel"
	"github.com/danghamo/nearby/internal/domain/venue"
)

// ChannelPatch carries a JSON merge patch against the last channel snapshot
// sent to the same user. The first patch for a venue is the full snapshot.
type ChannelPatch struct {
	VenueID venue.ID        `json:"venue_id"`
	Patch   json.RawMessage `json:"patch"`
}

// snapshotDiffer remembers the last snapshot sent per user and venue
type snapshotDiffer struct {
	mu   sync.Mutex
	last map[string]map[venue.ID][]byte
}

func newSnapshotDiffer() *snapshotDiffer {
	return &snapshotDiffer{last: make(map[string]map[venue.ID][]byte)}
}

// Diff returns the merge patch from the previous snapshot to snap, or false
// when nothing changed
func (d *snapshotDiffer) Diff(userID string, snap channel.Snapshot) (ChannelPatch, bool) {
	current, err := json.Marshal(snap)
	if err != nil {
		return ChannelPatch{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	venues, ok := d.last[userID]
	if !ok {
		venues = make(map[venue.ID][]byte)
		d.last[userID] = venues
	}
	previous, seen := venues[snap.VenueID]
	venues[snap.VenueID] = current

	if !seen {
		return ChannelPatch{VenueID: snap.VenueID, Patch: current}, true
	}

	patch, err := jsonpatch.CreateMergePatch(previous, current)
	if err != nil {
		return ChannelPatch{VenueID: snap.VenueID, Patch: current}, true
	}
	if string(patch) == "{}" {
		return ChannelPatch{}, false
	}
	return ChannelPatch{VenueID: snap.VenueID, Patch: patch}, true
}

// Forget drops every snapshot remembered for the user
func (d *snapshotDiffer) Forget(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, userID)
}

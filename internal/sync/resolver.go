package sync

import (
	"bytes"
	"sort"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/marcus/riff/internal/models"
)

// Conflict pairs the two versions of a record the manual strategy held back.
type Conflict struct {
	Local  models.Record
	Remote models.Record
}

// Resolution is the reconciled view of one record type.
type Resolution struct {
	Merged    []models.Record // reconciled collection, sorted by id
	ToLocal   []models.Record // versions the local store must take
	ToRemote  []models.Record // versions the remote store must take
	Conflicts []Conflict
}

// Resolve merges a local and a remote collection of one record type. It is a
// pure function: applying it to its own Merged output on both sides yields an
// identical collection and no writes.
//
// A record present on one side only is kept. When both sides hold an id the
// larger updatedAt wins and an exact tie goes to the remote copy. Tombstones
// compete like any other version, so a later remote update restores a record
// deleted locally. Under StrategyManual, ids changed on both sides after
// lastSync with differing content become Conflicts; the local copy stays in
// Merged and neither store is written. A local version marked Pushed already
// reached the remote, so a remote edit made on top of it is not a conflict.
// A zero lastSync (first sync) never produces conflicts.
func Resolve(strategy Strategy, local, remote []models.Record, lastSync time.Time) Resolution {
	byID := make(map[string]*pair, len(local)+len(remote))
	for i := range local {
		p := byID[local[i].ID]
		if p == nil {
			p = &pair{}
			byID[local[i].ID] = p
		}
		p.local = &local[i]
	}
	for i := range remote {
		p := byID[remote[i].ID]
		if p == nil {
			p = &pair{}
			byID[remote[i].ID] = p
		}
		p.remote = &remote[i]
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res Resolution
	for _, id := range ids {
		p := byID[id]
		switch {
		case p.remote == nil:
			res.Merged = append(res.Merged, *p.local)
			res.ToRemote = append(res.ToRemote, *p.local)
		case p.local == nil:
			res.Merged = append(res.Merged, *p.remote)
			res.ToLocal = append(res.ToLocal, *p.remote)
		case sameVersion(*p.local, *p.remote):
			res.Merged = append(res.Merged, *p.remote)
		case strategy == StrategyManual && !lastSync.IsZero() && !p.local.Pushed &&
			p.local.UpdatedAt.After(lastSync) && p.remote.UpdatedAt.After(lastSync) &&
			!sameContent(*p.local, *p.remote):
			res.Merged = append(res.Merged, *p.local)
			res.Conflicts = append(res.Conflicts, Conflict{Local: *p.local, Remote: *p.remote})
		case p.local.UpdatedAt.After(p.remote.UpdatedAt):
			res.Merged = append(res.Merged, *p.local)
			res.ToRemote = append(res.ToRemote, *p.local)
		default:
			res.Merged = append(res.Merged, *p.remote)
			res.ToLocal = append(res.ToLocal, *p.remote)
		}
	}
	return res
}

type pair struct {
	local, remote *models.Record
}

// sameVersion reports whether both copies are already identical.
func sameVersion(a, b models.Record) bool {
	return a.UpdatedAt.Equal(b.UpdatedAt) && sameContent(a, b)
}

// sameContent compares deletion state and canonical payload.
func sameContent(a, b models.Record) bool {
	if a.Deleted != b.Deleted {
		return false
	}
	if a.Deleted {
		return true
	}
	return payloadEqual(a.Payload, b.Payload)
}

func payloadEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	ca, errA := jcs.Transform(a)
	cb, errB := jcs.Transform(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

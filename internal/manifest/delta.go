package manifest

import "sort"

// Entry is one manifest line.
type Entry struct {
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`
}

// Change is a key whose fingerprint differs between two manifests.
type Change struct {
	Key    string `json:"key"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Rename is a fingerprint that moved from one key to another.
type Rename struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Fingerprint string `json:"fingerprint"`
}

// Delta describes the changes from a previous manifest to the current one.
// The sets are mutually consistent after rename pairing:
//
//   - Added: keys present now that were not in the previous manifest
//   - Removed: keys present previously that are no longer in the current one
//   - Changed: same key, different fingerprint
//   - Renamed: one-to-one pairings of a removed and an added key with the
//     same fingerprint
//   - Unchanged: number of keys with identical fingerprints
type Delta struct {
	Added     []Entry  `json:"added"`
	Removed   []Entry  `json:"removed"`
	Changed   []Change `json:"changed"`
	Renamed   []Rename `json:"renamed"`
	Unchanged int      `json:"unchanged"`
}

// Empty reports whether the two manifests were identical.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && len(d.Renamed) == 0
}

// Compare computes the change set between two manifests. A nil prev is
// treated as empty (first deployment).
func Compare(prev, curr Manifest) Delta {
	d := Delta{
		Added:   []Entry{},
		Removed: []Entry{},
		Changed: []Change{},
		Renamed: []Rename{},
	}
	for key, before := range prev {
		after, ok := curr[key]
		switch {
		case !ok:
			d.Removed = append(d.Removed, Entry{Key: key, Fingerprint: before})
		case after != before:
			d.Changed = append(d.Changed, Change{Key: key, Before: before, After: after})
		default:
			d.Unchanged++
		}
	}
	for key, fp := range curr {
		if _, ok := prev[key]; !ok {
			d.Added = append(d.Added, Entry{Key: key, Fingerprint: fp})
		}
	}

	sortEntries(d.Removed)
	sortEntries(d.Added)
	d.Renamed, d.Removed, d.Added = matchExactRenames(d.Removed, d.Added)

	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Key < d.Changed[j].Key })
	sort.Slice(d.Renamed, func(i, j int) bool {
		if d.Renamed[i].From == d.Renamed[j].From {
			return d.Renamed[i].To < d.Renamed[j].To
		}
		return d.Renamed[i].From < d.Renamed[j].From
	})
	return d
}

// matchExactRenames pairs removed and added entries sharing a fingerprint.
// Both inputs must be sorted by key; for a fingerprint with several removed
// candidates the lexically smallest is paired first.
func matchExactRenames(removed, added []Entry) ([]Rename, []Entry, []Entry) {
	renamed := []Rename{}
	if len(removed) == 0 || len(added) == 0 {
		return renamed, removed, added
	}
	byFP := make(map[string][]int, len(removed))
	for idx, r := range removed {
		byFP[r.Fingerprint] = append(byFP[r.Fingerprint], idx)
	}

	usedRemoved := make(map[int]bool)
	usedAdded := make(map[int]bool)
	for ai, a := range added {
		cands := byFP[a.Fingerprint]
		if len(cands) == 0 {
			continue
		}
		ri := cands[0]
		byFP[a.Fingerprint] = cands[1:]
		usedRemoved[ri] = true
		usedAdded[ai] = true
		renamed = append(renamed, Rename{From: removed[ri].Key, To: a.Key, Fingerprint: a.Fingerprint})
	}
	return renamed, filterEntries(removed, usedRemoved), filterEntries(added, usedAdded)
}

func filterEntries(entries []Entry, used map[int]bool) []Entry {
	if len(used) == 0 {
		return entries
	}
	out := make([]Entry, 0, len(entries)-len(used))
	for idx, e := range entries {
		if !used[idx] {
			out = append(out, e)
		}
	}
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

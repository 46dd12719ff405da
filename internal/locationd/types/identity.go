package types

import (
	"fmt"
	"sort"
	"strings"
)

// Identity describes the caller that owns a registration.
type Identity struct {
	PID     int    `json:"pid"`
	UID     int    `json:"uid"`
	UserID  int    `json:"user_id"`
	Package string `json:"package"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s[uid=%d pid=%d user=%d]", i.Package, i.UID, i.PID, i.UserID)
}

// PermissionLevel is the location access level granted to a caller.
type PermissionLevel int

const (
	PermissionNone PermissionLevel = iota
	PermissionCoarse
	PermissionFine
)

func (p PermissionLevel) String() string {
	switch p {
	case PermissionNone:
		return "none"
	case PermissionCoarse:
		return "coarse"
	case PermissionFine:
		return "fine"
	default:
		return fmt.Sprintf("permission(%d)", int(p))
	}
}

// WorkSource attributes power usage to the uids on whose behalf work is
// performed. The zero value is an empty source and is usable directly.
type WorkSource struct {
	uids map[int]string
}

// NewWorkSource returns a source blaming a single uid/package pair.
func NewWorkSource(uid int, pkg string) WorkSource {
	return WorkSource{uids: map[int]string{uid: pkg}}
}

// IsEmpty reports whether the source blames nobody.
func (w WorkSource) IsEmpty() bool {
	return len(w.uids) == 0
}

// Union returns a new source blaming every uid in either source.
func (w WorkSource) Union(other WorkSource) WorkSource {
	if other.IsEmpty() {
		return w.Copy()
	}
	out := w.Copy()
	if out.uids == nil {
		out.uids = make(map[int]string, len(other.uids))
	}
	for uid, pkg := range other.uids {
		out.uids[uid] = pkg
	}
	return out
}

// Copy returns an independent copy of the source.
func (w WorkSource) Copy() WorkSource {
	if w.uids == nil {
		return WorkSource{}
	}
	out := make(map[int]string, len(w.uids))
	for uid, pkg := range w.uids {
		out[uid] = pkg
	}
	return WorkSource{uids: out}
}

// Equal reports whether both sources blame the same uid/package pairs.
func (w WorkSource) Equal(other WorkSource) bool {
	if len(w.uids) != len(other.uids) {
		return false
	}
	for uid, pkg := range w.uids {
		if o, ok := other.uids[uid]; !ok || o != pkg {
			return false
		}
	}
	return true
}

// UIDs returns the blamed uids in ascending order.
func (w WorkSource) UIDs() []int {
	out := make([]int, 0, len(w.uids))
	for uid := range w.uids {
		out = append(out, uid)
	}
	sort.Ints(out)
	return out
}

func (w WorkSource) String() string {
	if w.IsEmpty() {
		return "worksource{}"
	}
	parts := make([]string, 0, len(w.uids))
	for _, uid := range w.UIDs() {
		parts = append(parts, fmt.Sprintf("%d:%s", uid, w.uids[uid]))
	}
	return "worksource{" + strings.Join(parts, ",") + "}"
}

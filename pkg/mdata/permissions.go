package mdata

import (
	"github.com/havenlab/haven/pkg/types"
)

// PermValue is one cell of the stored access-control list.
type PermValue uint8

const (
	NotSet PermValue = iota
	Allowed
	Denied
)

func (v PermValue) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "not-set"
	}
}

// Action is one permission axis.
type Action uint8

const (
	ActionRead Action = iota
	ActionInsert
	ActionUpdate
	ActionDelete
	ActionManagePermissions
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionManagePermissions:
		return "manage-permissions"
	default:
		return "unknown"
	}
}

// PermSet is the stored, tri-state permission set for one user.
type PermSet struct {
	Read              PermValue `cbor:"read"`
	Insert            PermValue `cbor:"insert"`
	Update            PermValue `cbor:"update"`
	Delete            PermValue `cbor:"delete"`
	ManagePermissions PermValue `cbor:"manage_permissions"`
}

// Get returns the cell for one action.
func (p PermSet) Get(a Action) PermValue {
	switch a {
	case ActionRead:
		return p.Read
	case ActionInsert:
		return p.Insert
	case ActionUpdate:
		return p.Update
	case ActionDelete:
		return p.Delete
	case ActionManagePermissions:
		return p.ManagePermissions
	default:
		return NotSet
	}
}

// Set writes the cell for one action.
func (p *PermSet) Set(a Action, v PermValue) {
	switch a {
	case ActionRead:
		p.Read = v
	case ActionInsert:
		p.Insert = v
	case ActionUpdate:
		p.Update = v
	case ActionDelete:
		p.Delete = v
	case ActionManagePermissions:
		p.ManagePermissions = v
	}
}

// PermSetFromRequest lifts a boolean request set into the stored form:
// requested axes become Allowed, the rest stay NotSet.
func PermSetFromRequest(req types.PermissionSet) PermSet {
	var p PermSet
	if req.Read {
		p.Read = Allowed
	}
	if req.Insert {
		p.Insert = Allowed
	}
	if req.Update {
		p.Update = Allowed
	}
	if req.Delete {
		p.Delete = Allowed
	}
	if req.ManagePermissions {
		p.ManagePermissions = Allowed
	}
	return p
}

// UserPerms pairs a user with its permission set inside a record.
type UserPerms struct {
	User types.User `cbor:"user"`
	Set  PermSet    `cbor:"set"`
}

// Permissions is the access-control list of one record.
type Permissions []UserPerms

func (ps Permissions) find(u types.User) (int, bool) {
	for i := range ps {
		if ps[i].User == u {
			return i, true
		}
	}
	return 0, false
}

// Get returns the stored set for u, if any.
func (ps Permissions) Get(u types.User) (PermSet, bool) {
	if i, ok := ps.find(u); ok {
		return ps[i].Set, true
	}
	return PermSet{}, false
}

// Effective decides one (user, action) pair. The tie-break order is
// fixed: user-specific deny, user-specific allow, anyone deny, anyone
// allow, owner override, default deny. The owner is implicitly granted
// every action, including manage-permissions, regardless of explicit
// entries against its own key.
func (ps Permissions) Effective(requester types.SignPubKey, owner types.SignPubKey, a Action) bool {
	if requester == owner {
		return true
	}
	if set, ok := ps.Get(types.SpecificUser(requester)); ok {
		switch set.Get(a) {
		case Denied:
			return false
		case Allowed:
			return true
		}
	}
	if set, ok := ps.Get(types.Anyone()); ok {
		switch set.Get(a) {
		case Denied:
			return false
		case Allowed:
			return true
		}
	}
	return false
}

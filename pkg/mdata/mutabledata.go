// Package mdata models the versioned, permissioned key-value records
// shared through the network: per-key monotonically versioned entries,
// a tri-state access-control list, a single owner and a structural
// record version serializing administrative changes.
//
// The model is pure in-memory state; persistence and the
// compare-and-swap commit point live in pkg/vault.
package mdata

import (
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/types"
)

// Limits a single record may not exceed.
const (
	MaxEntries         = 100
	MaxSerializedBytes = 1 << 20
)

// MetadataKey is the reserved entry under which a record may describe
// itself (name, purpose) for sharing decisions.
const MetadataKey = "_metadata"

// Value is one stored entry value. A tombstone keeps its version but
// has nil Content.
type Value struct {
	Content []byte `cbor:"content"`
	Version uint64 `cbor:"version"`
	Deleted bool   `cbor:"deleted,omitempty"`
}

// Entry pairs a key with its value for listings.
type Entry struct {
	Key   []byte
	Value Value
}

// MutableData is one record. Version counts structural changes
// (creation, permission and ownership mutations); entry versions are
// tracked per key.
// Serialization goes through the wire form in wire.go because entry
// keys may be arbitrary bytes.
type MutableData struct {
	Name        types.XorName
	Tag         types.TypeTag
	Entries     map[string]Value
	Permissions Permissions
	Owner       types.SignPubKey
	Version     uint64
}

// New creates a record owned by owner with the given initial
// permissions and entries. Initial entries start at version 0.
func New(name types.XorName, tag types.TypeTag, owner types.SignPubKey, perms Permissions, entries map[string][]byte) (*MutableData, error) {
	const op = "mdata.New"

	if len(entries) > MaxEntries {
		return nil, errs.Errorf(op, errs.AllocationError, "%d entries exceeds limit %d", len(entries), MaxEntries)
	}
	md := &MutableData{
		Name:        name,
		Tag:         tag,
		Entries:     make(map[string]Value, len(entries)),
		Permissions: perms,
		Owner:       owner,
	}
	for k, v := range entries {
		md.Entries[k] = Value{Content: v}
	}
	return md, nil
}

// Get returns the live value under key. Tombstoned and absent keys
// both report NotFound. Requires read permission.
func (md *MutableData) Get(key []byte, requester types.SignPubKey) (Value, error) {
	const op = "mdata.Get"

	if !md.Permissions.Effective(requester, md.Owner, ActionRead) {
		return Value{}, errs.E(op, errs.PermissionDenied)
	}
	v, ok := md.Entries[string(key)]
	if !ok || v.Deleted {
		return Value{}, errs.E(op, errs.NotFound)
	}
	return v, nil
}

// ListEntries snapshots every entry, tombstones included so callers
// can see current versions. Requires read permission.
func (md *MutableData) ListEntries(requester types.SignPubKey) ([]Entry, error) {
	if !md.Permissions.Effective(requester, md.Owner, ActionRead) {
		return nil, errs.E("mdata.ListEntries", errs.PermissionDenied)
	}
	out := make([]Entry, 0, len(md.Entries))
	for k, v := range md.Entries {
		out = append(out, Entry{Key: []byte(k), Value: v})
	}
	return out, nil
}

// ListKeys snapshots the keys of live entries.
func (md *MutableData) ListKeys(requester types.SignPubKey) ([][]byte, error) {
	if !md.Permissions.Effective(requester, md.Owner, ActionRead) {
		return nil, errs.E("mdata.ListKeys", errs.PermissionDenied)
	}
	out := make([][]byte, 0, len(md.Entries))
	for k, v := range md.Entries {
		if v.Deleted {
			continue
		}
		out = append(out, []byte(k))
	}
	return out, nil
}

// ListValues snapshots the values of live entries.
func (md *MutableData) ListValues(requester types.SignPubKey) ([]Value, error) {
	if !md.Permissions.Effective(requester, md.Owner, ActionRead) {
		return nil, errs.E("mdata.ListValues", errs.PermissionDenied)
	}
	out := make([]Value, 0, len(md.Entries))
	for _, v := range md.Entries {
		if v.Deleted {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Mutate applies a batch atomically. Every action is validated against
// the current state before any is applied; a single stale expected
// version fails the whole batch with VersionConflict and leaves the
// record untouched.
func (md *MutableData) Mutate(batch *EntryActions, requester types.SignPubKey) error {
	const op = "mdata.Mutate"

	staged := make(map[string]Value, len(batch.actions))
	current := func(key string) (Value, bool) {
		if v, ok := staged[key]; ok {
			return v, true
		}
		v, ok := md.Entries[key]
		return v, ok
	}

	liveAfter := md.liveCount()
	for _, a := range batch.actions {
		key := string(a.key)
		v, exists := current(key)
		switch a.kind {
		case actInsert:
			if exists && !v.Deleted {
				return errs.Errorf(op, errs.AlreadyExists, "entry %q", key)
			}
			if !md.Permissions.Effective(requester, md.Owner, ActionInsert) {
				return errs.Errorf(op, errs.PermissionDenied, "insert %q", key)
			}
			next := Value{Content: a.value}
			if exists {
				// Re-insert over a tombstone continues its version line.
				next.Version = v.Version + 1
			}
			staged[key] = next
			liveAfter++
		case actUpdate:
			if !exists || v.Deleted {
				return errs.Errorf(op, errs.NotFound, "entry %q", key)
			}
			if !md.Permissions.Effective(requester, md.Owner, ActionUpdate) {
				return errs.Errorf(op, errs.PermissionDenied, "update %q", key)
			}
			if a.version != v.Version {
				return errs.Errorf(op, errs.VersionConflict,
					"entry %q at version %d, expected %d", key, v.Version, a.version)
			}
			staged[key] = Value{Content: a.value, Version: v.Version + 1}
		case actDelete:
			if !exists || v.Deleted {
				return errs.Errorf(op, errs.NotFound, "entry %q", key)
			}
			if !md.Permissions.Effective(requester, md.Owner, ActionDelete) {
				return errs.Errorf(op, errs.PermissionDenied, "delete %q", key)
			}
			if a.version != v.Version {
				return errs.Errorf(op, errs.VersionConflict,
					"entry %q at version %d, expected %d", key, v.Version, a.version)
			}
			staged[key] = Value{Version: v.Version + 1, Deleted: true}
			liveAfter--
		}
	}

	if liveAfter > MaxEntries {
		return errs.Errorf(op, errs.AllocationError, "batch would exceed %d entries", MaxEntries)
	}

	if md.Entries == nil {
		md.Entries = make(map[string]Value, len(staged))
	}
	for k, v := range staged {
		md.Entries[k] = v
	}
	return nil
}

func (md *MutableData) liveCount() int {
	n := 0
	for _, v := range md.Entries {
		if !v.Deleted {
			n++
		}
	}
	return n
}

// SetUserPermissions installs or replaces the permission set of one
// user. expectedVersion must equal the record's structural version;
// the version is bumped on success.
func (md *MutableData) SetUserPermissions(u types.User, set PermSet, expectedVersion uint64, requester types.SignPubKey) error {
	const op = "mdata.SetUserPermissions"

	if !md.Permissions.Effective(requester, md.Owner, ActionManagePermissions) {
		return errs.E(op, errs.PermissionDenied)
	}
	if expectedVersion != md.Version {
		return errs.Errorf(op, errs.VersionConflict,
			"record at version %d, expected %d", md.Version, expectedVersion)
	}
	if i, ok := md.Permissions.find(u); ok {
		md.Permissions[i].Set = set
	} else {
		md.Permissions = append(md.Permissions, UserPerms{User: u, Set: set})
	}
	md.Version++
	return nil
}

// DelUserPermissions removes the permission set of one user.
func (md *MutableData) DelUserPermissions(u types.User, expectedVersion uint64, requester types.SignPubKey) error {
	const op = "mdata.DelUserPermissions"

	if !md.Permissions.Effective(requester, md.Owner, ActionManagePermissions) {
		return errs.E(op, errs.PermissionDenied)
	}
	if expectedVersion != md.Version {
		return errs.Errorf(op, errs.VersionConflict,
			"record at version %d, expected %d", md.Version, expectedVersion)
	}
	i, ok := md.Permissions.find(u)
	if !ok {
		return errs.E(op, errs.NotFound)
	}
	md.Permissions = append(md.Permissions[:i], md.Permissions[i+1:]...)
	md.Version++
	return nil
}

// ChangeOwner transfers the record. Only the current owner may
// transfer, regardless of manage-permissions grants.
func (md *MutableData) ChangeOwner(newOwner types.SignPubKey, expectedVersion uint64, requester types.SignPubKey) error {
	const op = "mdata.ChangeOwner"

	if requester != md.Owner {
		return errs.E(op, errs.PermissionDenied)
	}
	if expectedVersion != md.Version {
		return errs.Errorf(op, errs.VersionConflict,
			"record at version %d, expected %d", md.Version, expectedVersion)
	}
	md.Owner = newOwner
	md.Version++
	return nil
}

// Package haven is the client core of a decentralized storage network:
// capability-based authorization between applications and a trusted
// authenticator, versioned permissioned mutable records, and a
// content-addressed immutable store built on self-encryption.
//
// A Session is one application's (or unregistered client's) context.
// Objects handed across the session boundary — record infos, entry
// batches, listings, encryptors — travel as opaque generation-checked
// handles, never as raw pointers.
package haven

import (
	"github.com/sirupsen/logrus"

	"github.com/havenlab/haven/pkg/access"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/handles"
	"github.com/havenlab/haven/pkg/ipc"
	"github.com/havenlab/haven/pkg/logging"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/tasks"
	"github.com/havenlab/haven/pkg/types"
	"github.com/havenlab/haven/pkg/vault"
)

// Session is one client context: its key material, its handle registry
// and its worker pool. Handles are meaningless outside the session
// that created them.
type Session struct {
	vault     *vault.Vault
	reg       *handles.Registry
	keys      *types.AppKeys
	container *access.Container
	pool      *tasks.Pool
	log       *logrus.Logger
}

func newSession(v *vault.Vault, cfg Config) *Session {
	log := logging.Default()
	if cfg.LogLevel != "" {
		if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			log = logging.New(level)
		}
	}
	return &Session{
		vault: v,
		reg:   handles.NewRegistry(),
		pool:  tasks.NewPool(cfg.Workers, 0),
		log:   log,
	}
}

// NewAppSession builds a registered session from a decoded grant.
func NewAppSession(v *vault.Vault, appID string, granted *ipc.AuthGranted, cfg Config) *Session {
	s := newSession(v, cfg)
	keys := granted.AppKeys
	s.keys = &keys
	s.container = access.NewContainer(v, appID, keys, granted.AccessContInfo)
	return s
}

// NewUnregisteredSession builds a session without key material,
// limited to publicly readable data.
func NewUnregisteredSession(v *vault.Vault, cfg Config) *Session {
	return newSession(v, cfg)
}

// Close stops the session's worker pool. Outstanding handles die with
// the session.
func (s *Session) Close() {
	s.pool.Close()
}

// Submit runs fn on the session pool and delivers its single Result on
// the returned channel.
func (s *Session) Submit(fn func() (interface{}, error)) <-chan tasks.Result {
	return s.pool.Submit(fn)
}

// requester is the signing identity record operations act under. The
// zero key for unregistered sessions matches no grant, so only
// anyone-readable records resolve.
func (s *Session) requester() types.SignPubKey {
	if s.keys == nil {
		return types.SignPubKey{}
	}
	return s.keys.SignPK
}

// AppKeys exposes the session's grant keys for explicit cryptography.
// Nil for unregistered sessions.
func (s *Session) AppKeys() *types.AppKeys { return s.keys }

// RefreshAccessInfo re-fetches the session's access container.
func (s *Session) RefreshAccessInfo() error {
	if s.container == nil {
		return errs.E("haven.RefreshAccessInfo", errs.PermissionDenied)
	}
	return s.container.Refresh()
}

// Containers lists the session's granted container names.
func (s *Session) Containers() ([]string, error) {
	if s.container == nil {
		return nil, errs.E("haven.Containers", errs.PermissionDenied)
	}
	return s.container.Containers()
}

// FreeHandle releases any handle. Double-free fails HandleInvalid.
func (s *Session) FreeHandle(h handles.Handle) error {
	return s.reg.Free(h)
}

// PublicMDataInfo creates an info handle for a public record.
func (s *Session) PublicMDataInfo(name types.XorName, tag types.TypeTag) handles.Handle {
	return s.reg.Put(handles.KindMDataInfo, mdata.NewPublicInfo(name, tag))
}

// PrivateMDataInfo creates an info handle for a fresh private record.
func (s *Session) PrivateMDataInfo(name types.XorName, tag types.TypeTag) (handles.Handle, error) {
	info, err := mdata.NewPrivateInfo(name, tag)
	if err != nil {
		return handles.Handle{}, err
	}
	return s.reg.Put(handles.KindMDataInfo, info), nil
}

// ContainerMDataInfo resolves a granted container to an info handle.
func (s *Session) ContainerMDataInfo(name string) (handles.Handle, error) {
	if s.container == nil {
		return handles.Handle{}, errs.E("haven.ContainerMDataInfo", errs.PermissionDenied)
	}
	info, err := s.container.ContainerInfo(name)
	if err != nil {
		return handles.Handle{}, err
	}
	return s.reg.Put(handles.KindMDataInfo, info), nil
}

func (s *Session) info(h handles.Handle) (mdata.Info, error) {
	return handles.Resolve[mdata.Info](s.reg, h, handles.KindMDataInfo)
}

// EncryptEntryKey seals a plaintext entry key with the record's keying
// material. Public infos pass through unchanged.
func (s *Session) EncryptEntryKey(infoH handles.Handle, key []byte) ([]byte, error) {
	info, err := s.info(infoH)
	if err != nil {
		return nil, err
	}
	return info.EncEntryKey(key), nil
}

// EncryptEntryValue seals a plaintext entry value.
func (s *Session) EncryptEntryValue(infoH handles.Handle, value []byte) ([]byte, error) {
	info, err := s.info(infoH)
	if err != nil {
		return nil, err
	}
	return info.EncEntryValue(value)
}

// DecryptEntry opens a stored entry key or value. The store itself
// returns ciphertext as stored; decryption is always this explicit
// call.
func (s *Session) DecryptEntry(infoH handles.Handle, stored []byte) ([]byte, error) {
	info, err := s.info(infoH)
	if err != nil {
		return nil, err
	}
	return info.DecEntryValue(stored)
}

// PutMData creates the record described by the info handle, owned by
// the session identity.
func (s *Session) PutMData(infoH handles.Handle, perms mdata.Permissions, entries map[string][]byte) error {
	info, err := s.info(infoH)
	if err != nil {
		return err
	}
	md, err := mdata.New(info.Name, info.Tag, s.requester(), perms, entries)
	if err != nil {
		return err
	}
	return s.vault.CreateMData(md)
}

// GetValue fetches one entry, ciphertext as stored.
func (s *Session) GetValue(infoH handles.Handle, key []byte) (mdata.Value, error) {
	info, err := s.info(infoH)
	if err != nil {
		return mdata.Value{}, err
	}
	md, err := s.vault.GetMData(info.Name, info.Tag)
	if err != nil {
		return mdata.Value{}, err
	}
	return md.Get(key, s.requester())
}

// GetMDataVersion fetches the record's structural version.
func (s *Session) GetMDataVersion(infoH handles.Handle) (uint64, error) {
	info, err := s.info(infoH)
	if err != nil {
		return 0, err
	}
	md, err := s.vault.GetMData(info.Name, info.Tag)
	if err != nil {
		return 0, err
	}
	return md.Version, nil
}

// NewEntryActions opens an empty mutation batch.
func (s *Session) NewEntryActions() handles.Handle {
	return s.reg.Put(handles.KindEntryActions, mdata.NewEntryActions())
}

func (s *Session) actions(h handles.Handle) (*mdata.EntryActions, error) {
	return handles.Resolve[*mdata.EntryActions](s.reg, h, handles.KindEntryActions)
}

// EntryActionsInsert adds an insert to a batch.
func (s *Session) EntryActionsInsert(h handles.Handle, key, value []byte) error {
	batch, err := s.actions(h)
	if err != nil {
		return err
	}
	batch.Insert(key, value)
	return nil
}

// EntryActionsUpdate adds a version-checked update to a batch.
func (s *Session) EntryActionsUpdate(h handles.Handle, key, value []byte, expectedVersion uint64) error {
	batch, err := s.actions(h)
	if err != nil {
		return err
	}
	batch.Update(key, value, expectedVersion)
	return nil
}

// EntryActionsDelete adds a version-checked delete to a batch.
func (s *Session) EntryActionsDelete(h handles.Handle, key []byte, expectedVersion uint64) error {
	batch, err := s.actions(h)
	if err != nil {
		return err
	}
	batch.Delete(key, expectedVersion)
	return nil
}

// MutateEntries applies a batch atomically: one stale expected version
// fails the whole batch with VersionConflict and no partial effect.
func (s *Session) MutateEntries(infoH, actionsH handles.Handle) error {
	info, err := s.info(infoH)
	if err != nil {
		return err
	}
	batch, err := s.actions(actionsH)
	if err != nil {
		return err
	}
	return s.vault.MutateEntries(info.Name, info.Tag, batch, s.requester())
}

// ListEntries snapshots a record's entries into a collection handle.
func (s *Session) ListEntries(infoH handles.Handle) (handles.Handle, error) {
	info, err := s.info(infoH)
	if err != nil {
		return handles.Handle{}, err
	}
	md, err := s.vault.GetMData(info.Name, info.Tag)
	if err != nil {
		return handles.Handle{}, err
	}
	entries, err := md.ListEntries(s.requester())
	if err != nil {
		return handles.Handle{}, err
	}
	return s.reg.Put(handles.KindEntries, entries), nil
}

// ListKeys snapshots the live entry keys into a collection handle.
func (s *Session) ListKeys(infoH handles.Handle) (handles.Handle, error) {
	info, err := s.info(infoH)
	if err != nil {
		return handles.Handle{}, err
	}
	md, err := s.vault.GetMData(info.Name, info.Tag)
	if err != nil {
		return handles.Handle{}, err
	}
	keys, err := md.ListKeys(s.requester())
	if err != nil {
		return handles.Handle{}, err
	}
	return s.reg.Put(handles.KindKeys, keys), nil
}

// ListValues snapshots the live entry values into a collection handle.
func (s *Session) ListValues(infoH handles.Handle) (handles.Handle, error) {
	info, err := s.info(infoH)
	if err != nil {
		return handles.Handle{}, err
	}
	md, err := s.vault.GetMData(info.Name, info.Tag)
	if err != nil {
		return handles.Handle{}, err
	}
	values, err := md.ListValues(s.requester())
	if err != nil {
		return handles.Handle{}, err
	}
	return s.reg.Put(handles.KindValues, values), nil
}

// EntriesLen reports the size of an entries collection.
func (s *Session) EntriesLen(h handles.Handle) (int, error) {
	entries, err := handles.Resolve[[]mdata.Entry](s.reg, h, handles.KindEntries)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// EntriesForEach calls fn once per entry in the collection, then
// returns. A non-nil error from fn stops the iteration and becomes the
// single terminal error.
func (s *Session) EntriesForEach(h handles.Handle, fn func(key []byte, value mdata.Value) error) error {
	entries, err := handles.Resolve[[]mdata.Entry](s.reg, h, handles.KindEntries)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// KeysForEach iterates a keys collection.
func (s *Session) KeysForEach(h handles.Handle, fn func(key []byte) error) error {
	keys, err := handles.Resolve[[][]byte](s.reg, h, handles.KindKeys)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// ValuesForEach iterates a values collection.
func (s *Session) ValuesForEach(h handles.Handle, fn func(value mdata.Value) error) error {
	values, err := handles.Resolve[[]mdata.Value](s.reg, h, handles.KindValues)
	if err != nil {
		return err
	}
	for _, v := range values {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// ListPermissions snapshots a record's access-control list.
func (s *Session) ListPermissions(infoH handles.Handle) (handles.Handle, error) {
	info, err := s.info(infoH)
	if err != nil {
		return handles.Handle{}, err
	}
	md, err := s.vault.GetMData(info.Name, info.Tag)
	if err != nil {
		return handles.Handle{}, err
	}
	return s.reg.Put(handles.KindPermissions, md.Permissions), nil
}

// ListUserPermissions returns the stored set for one user. NotFound if
// the user has no entry.
func (s *Session) ListUserPermissions(infoH handles.Handle, user types.User) (mdata.PermSet, error) {
	const op = "haven.ListUserPermissions"

	info, err := s.info(infoH)
	if err != nil {
		return mdata.PermSet{}, err
	}
	md, err := s.vault.GetMData(info.Name, info.Tag)
	if err != nil {
		return mdata.PermSet{}, err
	}
	set, ok := md.Permissions.Get(user)
	if !ok {
		return mdata.PermSet{}, errs.E(op, errs.NotFound)
	}
	return set, nil
}

// PermissionsForEach iterates a permissions collection.
func (s *Session) PermissionsForEach(h handles.Handle, fn func(user types.User, set mdata.PermSet) error) error {
	perms, err := handles.Resolve[mdata.Permissions](s.reg, h, handles.KindPermissions)
	if err != nil {
		return err
	}
	for _, up := range perms {
		if err := fn(up.User, up.Set); err != nil {
			return err
		}
	}
	return nil
}

// SetUserPermissions installs a user's set, version-checked against
// the record's structural version.
func (s *Session) SetUserPermissions(infoH handles.Handle, user types.User, set mdata.PermSet, expectedVersion uint64) error {
	info, err := s.info(infoH)
	if err != nil {
		return err
	}
	return s.vault.SetUserPermissions(info.Name, info.Tag, user, set, expectedVersion, s.requester())
}

// DelUserPermissions removes a user's set.
func (s *Session) DelUserPermissions(infoH handles.Handle, user types.User, expectedVersion uint64) error {
	info, err := s.info(infoH)
	if err != nil {
		return err
	}
	return s.vault.DelUserPermissions(info.Name, info.Tag, user, expectedVersion, s.requester())
}

// ChangeOwner transfers the record to a new owner key.
func (s *Session) ChangeOwner(infoH handles.Handle, newOwner types.SignPubKey, expectedVersion uint64) error {
	info, err := s.info(infoH)
	if err != nil {
		return err
	}
	return s.vault.ChangeOwner(info.Name, info.Tag, newOwner, expectedVersion, s.requester())
}

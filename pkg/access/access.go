// Package access resolves an application's view of its access
// container: the distinguished mutable record, written by the
// authenticator, whose entries map container names to decrypt-capable
// record infos.
//
// Each app owns exactly one entry in the record. The entry key is the
// app id sealed under the app's symmetric key with a nonce derived from
// the id and the container nonce, so only a holder of the key material
// can even locate its row; the entry value is the sealed CBOR container
// map.
package access

import (
	"sort"
	"sync"

	"github.com/havenlab/haven/pkg/codec"
	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/ipc"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
	"github.com/havenlab/haven/pkg/vault"
)

// EntryKey derives the access-container entry key for one app. The
// derivation is deterministic per (app id, key, nonce), so the app can
// find its row without scanning.
func EntryKey(appID string, encKey types.SymKey, nonce types.Nonce) []byte {
	keyNonce := crypt.DeriveNonce([]byte(appID), nonce[:])
	return crypt.SealSymWithNonce([]byte(appID), encKey, keyNonce)
}

// SealEntry encodes and seals a container map as an entry value.
func SealEntry(entry ipc.AccessContainerEntry, encKey types.SymKey) ([]byte, error) {
	raw, err := codec.Marshal(entry)
	if err != nil {
		return nil, errs.E("access.SealEntry", errs.DecodeError, err)
	}
	return crypt.SealSym(raw, encKey)
}

// OpenEntry reverses SealEntry. A wrong or rotated key reports
// CryptoError.
func OpenEntry(stored []byte, encKey types.SymKey) (ipc.AccessContainerEntry, error) {
	const op = "access.OpenEntry"

	raw, err := crypt.OpenSym(stored, encKey)
	if err != nil {
		return nil, err
	}
	var entry ipc.AccessContainerEntry
	if err := codec.Unmarshal(raw, &entry); err != nil {
		return nil, errs.E(op, errs.DecodeError, err)
	}
	return entry, nil
}

// Container is an application's client for its access container.
type Container struct {
	vault *vault.Vault
	appID string
	keys  types.AppKeys
	info  types.AccessContInfo

	mu      sync.RWMutex
	entry   ipc.AccessContainerEntry
	version uint64
	fetched bool
}

// NewContainer builds a client from the grant's key material and
// container info. Nothing is fetched until Refresh or first use.
func NewContainer(v *vault.Vault, appID string, keys types.AppKeys, info types.AccessContInfo) *Container {
	return &Container{vault: v, appID: appID, keys: keys, info: info}
}

// Refresh re-fetches and decrypts the app's entry from the network.
// Idempotent and safe to retry.
func (c *Container) Refresh() error {
	const op = "access.Refresh"

	md, err := c.vault.GetMData(c.info.ID, c.info.Tag)
	if err != nil {
		return err
	}
	key := EntryKey(c.appID, c.keys.EncKey, c.info.Nonce)
	v, err := md.Get(key, c.keys.SignPK)
	if err != nil {
		return err
	}
	entry, err := OpenEntry(v.Content, c.keys.EncKey)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entry = entry
	c.version = v.Version
	c.fetched = true
	c.mu.Unlock()
	return nil
}

func (c *Container) ensure() error {
	c.mu.RLock()
	fetched := c.fetched
	c.mu.RUnlock()
	if fetched {
		return nil
	}
	return c.Refresh()
}

// Containers lists the names of the containers currently granted.
func (c *Container) Containers() ([]string, error) {
	if err := c.ensure(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entry))
	for name := range c.entry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ContainerInfo returns the keying info for one granted container.
// NotFound if the app was never granted that container.
func (c *Container) ContainerInfo(name string) (mdata.Info, error) {
	const op = "access.ContainerInfo"

	if err := c.ensure(); err != nil {
		return mdata.Info{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	grant, ok := c.entry[name]
	if !ok {
		return mdata.Info{}, errs.Errorf(op, errs.NotFound, "container %q not granted", name)
	}
	return grant.Info, nil
}

// Permissions returns the access granted on one container.
func (c *Container) Permissions(name string) (types.PermissionSet, error) {
	const op = "access.Permissions"

	if err := c.ensure(); err != nil {
		return types.PermissionSet{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	grant, ok := c.entry[name]
	if !ok {
		return types.PermissionSet{}, errs.Errorf(op, errs.NotFound, "container %q not granted", name)
	}
	return grant.Access, nil
}

// Version reports the network version of the app's entry, used by the
// authenticator when rewriting it.
func (c *Container) Version() (uint64, error) {
	if err := c.ensure(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version, nil
}

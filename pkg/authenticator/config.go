package authenticator

import (
	"github.com/havenlab/haven/pkg/codec"
	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/ipc"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
)

// Entry keys of the authenticator's config record. Each value is
// sealed CBOR under the user's symmetric key.
const (
	cfgApps       = "apps"
	cfgContainers = "containers"
	cfgQueue      = "revocation-queue"
	cfgRevoked    = "revoked"
)

// appEntry is the persisted state of one registered app.
type appEntry struct {
	Identity     types.AppIdentity          `cbor:"identity"`
	Keys         types.AppKeys              `cbor:"keys"`
	Containers   []ipc.ContainerPermissions `cbor:"containers"`
	AppContainer bool                       `cbor:"app_container,omitempty"`
}

// configName derives the user's config record name from their identity.
func configName(owner types.SignPubKey) types.XorName {
	return types.XorName(crypt.Sum256(owner[:], []byte("auth-config")))
}

// accessContainerName derives the user's access-container record name.
func accessContainerName(owner types.SignPubKey) types.XorName {
	return types.XorName(crypt.Sum256(owner[:], []byte("access-container")))
}

// containerName derives the record name of one named user container.
func containerName(owner types.SignPubKey, name string) types.XorName {
	return types.XorName(crypt.Sum256(owner[:], []byte("container"), []byte(name)))
}

// readConfig loads and unseals one config entry into out. Reports the
// entry's network version and whether it exists at all; a missing
// entry is not an error.
func (a *Authenticator) readConfig(key string, out interface{}) (uint64, bool, error) {
	const op = "authenticator.readConfig"

	md, err := a.vault.GetMData(configName(a.creds.SignPK), types.TagAuthenticatorConfig)
	if err != nil {
		return 0, false, err
	}
	v, err := md.Get([]byte(key), a.creds.SignPK)
	if err != nil {
		if errs.Is(errs.NotFound, err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	raw, err := crypt.OpenSym(v.Content, a.creds.EncKey)
	if err != nil {
		return 0, false, err
	}
	if err := codec.Unmarshal(raw, out); err != nil {
		return 0, false, errs.E(op, errs.DecodeError, err)
	}
	return v.Version, true, nil
}

// writeConfig seals and stores one config entry, version-checked
// against the state readConfig reported.
func (a *Authenticator) writeConfig(key string, val interface{}, version uint64, exists bool) error {
	const op = "authenticator.writeConfig"

	raw, err := codec.Marshal(val)
	if err != nil {
		return errs.E(op, errs.DecodeError, err)
	}
	sealed, err := crypt.SealSym(raw, a.creds.EncKey)
	if err != nil {
		return err
	}

	batch := mdata.NewEntryActions()
	if exists {
		batch.Update([]byte(key), sealed, version)
	} else {
		batch.Insert([]byte(key), sealed)
	}
	return a.vault.MutateEntries(configName(a.creds.SignPK), types.TagAuthenticatorConfig, batch, a.creds.SignPK)
}

func (a *Authenticator) loadApps() (map[string]appEntry, uint64, bool, error) {
	apps := make(map[string]appEntry)
	version, exists, err := a.readConfig(cfgApps, &apps)
	return apps, version, exists, err
}

func (a *Authenticator) loadContainers() (map[string]mdata.Info, uint64, bool, error) {
	containers := make(map[string]mdata.Info)
	version, exists, err := a.readConfig(cfgContainers, &containers)
	return containers, version, exists, err
}

func (a *Authenticator) loadQueue() ([]string, uint64, bool, error) {
	var queue []string
	version, exists, err := a.readConfig(cfgQueue, &queue)
	return queue, version, exists, err
}

func (a *Authenticator) loadRevoked() ([]string, uint64, bool, error) {
	var revoked []string
	version, exists, err := a.readConfig(cfgRevoked, &revoked)
	return revoked, version, exists, err
}

// Package authenticator implements the trusted side of the
// authorization protocol: it evaluates application requests, issues key
// material and container grants, maintains the per-user access
// container and registered-app records, and revokes grants through a
// resumable FIFO queue.
//
// All authenticator state lives in two vault records owned by the
// user: the config record (registered apps, container infos, the
// revocation queue and the revoked list, each entry sealed under the
// user's symmetric key) and the access container.
package authenticator

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/havenlab/haven/pkg/access"
	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/ipc"
	"github.com/havenlab/haven/pkg/logging"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
	"github.com/havenlab/haven/pkg/vault"
)

// Credentials is the user's long-lived key material.
type Credentials struct {
	SignPK types.SignPubKey
	SignSK types.SignSecKey
	EncKey types.SymKey
}

// NewCredentials generates a fresh user identity.
func NewCredentials() (Credentials, error) {
	pk, sk, err := crypt.GenSignKeyPair()
	if err != nil {
		return Credentials{}, err
	}
	key, err := crypt.GenSymKey()
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{SignPK: pk, SignSK: sk, EncKey: key}, nil
}

// Config configures an authenticator.
type Config struct {
	// Bootstrap is the opaque network bootstrap blob handed to apps on
	// every grant.
	Bootstrap []byte
	// Logger is optional; a default stderr logger is used when nil.
	Logger *logrus.Logger
}

// Authenticator is one user's trusted authorization context.
type Authenticator struct {
	vault *vault.Vault
	creds Credentials
	cfg   Config
	log   *logrus.Logger

	mu      sync.Mutex
	pending map[uint32]ipc.Request
}

// New opens (creating on first use) the user's config and access
// container records and returns a ready authenticator.
func New(v *vault.Vault, creds Credentials, cfg Config) (*Authenticator, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	a := &Authenticator{
		vault:   v,
		creds:   creds,
		cfg:     cfg,
		log:     log,
		pending: make(map[uint32]ipc.Request),
	}
	if err := a.ensureRecord(configName(creds.SignPK), types.TagAuthenticatorConfig); err != nil {
		return nil, err
	}
	if err := a.ensureRecord(accessContainerName(creds.SignPK), types.TagAccessContainer); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authenticator) ensureRecord(name types.XorName, tag types.TypeTag) error {
	md, err := mdata.New(name, tag, a.creds.SignPK, nil, nil)
	if err != nil {
		return err
	}
	if err := a.vault.CreateMData(md); err != nil && !errs.Is(errs.AlreadyExists, err) {
		return err
	}
	return nil
}

// AccessContInfo locates the user's access container. The nonce is
// derived from the user's symmetric key, so no extra state is stored.
func (a *Authenticator) AccessContInfo() types.AccessContInfo {
	return types.AccessContInfo{
		ID:    accessContainerName(a.creds.SignPK),
		Tag:   types.TagAccessContainer,
		Nonce: crypt.DeriveNonce(a.creds.EncKey[:], []byte("access-container")),
	}
}

// HandleRequest decodes an incoming request token and parks the
// request until the user decides. The returned request is the decoded
// structure for display.
func (a *Authenticator) HandleRequest(token string) (uint32, ipc.Request, error) {
	const op = "authenticator.HandleRequest"

	reqID, req, err := ipc.DecodeRequest(token)
	if err != nil {
		return 0, nil, err
	}
	switch r := req.(type) {
	case *ipc.AuthReq:
		if err := r.App.Validate(); err != nil {
			return 0, nil, errs.E(op, errs.DecodeError, err)
		}
	case *ipc.ContainersReq:
		if err := r.App.Validate(); err != nil {
			return 0, nil, errs.E(op, errs.DecodeError, err)
		}
	case *ipc.ShareMDataReq:
		if err := r.App.Validate(); err != nil {
			return 0, nil, errs.E(op, errs.DecodeError, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.pending[reqID]; dup {
		return 0, nil, errs.Errorf(op, errs.AlreadyExists, "request %d already pending", reqID)
	}
	a.pending[reqID] = req
	return reqID, req, nil
}

func (a *Authenticator) takePending(op string, reqID uint32) (ipc.Request, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.pending[reqID]
	if !ok {
		return nil, errs.Errorf(op, errs.NotFound, "request %d unknown or already answered", reqID)
	}
	delete(a.pending, reqID)
	return req, nil
}

// Deny refuses a pending request and encodes the refusal.
func (a *Authenticator) Deny(reqID uint32, reason string) (string, error) {
	if _, err := a.takePending("authenticator.Deny", reqID); err != nil {
		return "", err
	}
	return ipc.EncodeResponse(reqID, ipc.Denied{Reason: reason})
}

// Grant approves a pending request, applies its effects and encodes
// the response token for the app.
func (a *Authenticator) Grant(reqID uint32) (string, error) {
	const op = "authenticator.Grant"

	req, err := a.takePending(op, reqID)
	if err != nil {
		return "", err
	}

	var resp ipc.Response
	switch r := req.(type) {
	case *ipc.AuthReq:
		granted, err := a.grantAuth(r)
		if err != nil {
			return "", err
		}
		resp = *granted
	case *ipc.ContainersReq:
		if err := a.grantContainers(r.App, r.Containers); err != nil {
			return "", err
		}
		resp = ipc.ContainersGranted{}
	case *ipc.UnregisteredReq:
		resp = ipc.UnregisteredGranted{Bootstrap: a.cfg.Bootstrap}
	case *ipc.ShareMDataReq:
		if err := a.grantShareMData(r); err != nil {
			return "", err
		}
		resp = ipc.ShareMDataGranted{}
	default:
		return "", errs.Errorf(op, errs.DecodeError, "unknown request type %T", req)
	}
	return ipc.EncodeResponse(reqID, resp)
}

// grantAuth issues (or re-issues) the full grant for one app: key
// material, the requested containers and the access-container entry.
func (a *Authenticator) grantAuth(req *ipc.AuthReq) (*ipc.AuthGranted, error) {
	apps, appsVer, appsExist, err := a.loadApps()
	if err != nil {
		return nil, err
	}

	// Re-authorization reuses the app's existing keys so content it
	// already encrypted stays readable.
	entry, known := apps[req.App.ID]
	if !known {
		keys, err := crypt.NewAppKeys(a.creds.SignPK)
		if err != nil {
			return nil, err
		}
		entry = appEntry{Identity: req.App, Keys: keys}
	}
	entry.AppContainer = entry.AppContainer || req.AppContainer

	requested := req.Containers
	if req.AppContainer {
		requested = append(requested, ipc.ContainerPermissions{
			Name: "apps/" + req.App.ID,
			Access: types.PermissionSet{
				Read: true, Insert: true, Update: true, Delete: true, ManagePermissions: true,
			},
		})
	}
	entry.Containers = mergeContainerPerms(entry.Containers, requested)
	grants, err := a.applyContainerGrants(entry.Keys.SignPK, entry.Containers)
	if err != nil {
		return nil, err
	}

	if err := a.writeAccessEntry(req.App.ID, entry.Keys, grants); err != nil {
		return nil, err
	}
	if err := a.allowAccessContainerRead(entry.Keys.SignPK); err != nil {
		return nil, err
	}

	apps[req.App.ID] = entry
	if err := a.writeConfig(cfgApps, apps, appsVer, appsExist); err != nil {
		return nil, err
	}
	if err := a.unrevoke(req.App.ID); err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"app":        req.App.ID,
		"containers": len(requested),
	}).Info("authorization granted")

	return &ipc.AuthGranted{
		AppKeys:         entry.Keys,
		Bootstrap:       a.cfg.Bootstrap,
		AccessContInfo:  a.AccessContInfo(),
		AccessContEntry: grants,
	}, nil
}

// grantContainers extends an existing grant with more containers.
func (a *Authenticator) grantContainers(app types.AppIdentity, containers []ipc.ContainerPermissions) error {
	const op = "authenticator.grantContainers"

	apps, appsVer, appsExist, err := a.loadApps()
	if err != nil {
		return err
	}
	entry, ok := apps[app.ID]
	if !ok {
		return errs.Errorf(op, errs.NotFound, "app %q is not registered", app.ID)
	}

	// The access entry must cover the whole grant, old and new.
	entry.Containers = mergeContainerPerms(entry.Containers, containers)
	grants, err := a.applyContainerGrants(entry.Keys.SignPK, entry.Containers)
	if err != nil {
		return err
	}
	if err := a.writeAccessEntry(app.ID, entry.Keys, grants); err != nil {
		return err
	}

	apps[app.ID] = entry
	return a.writeConfig(cfgApps, apps, appsVer, appsExist)
}

// grantShareMData applies the requested permission sets to the named
// records for the app's signing key.
func (a *Authenticator) grantShareMData(req *ipc.ShareMDataReq) error {
	const op = "authenticator.grantShareMData"

	apps, _, _, err := a.loadApps()
	if err != nil {
		return err
	}
	entry, ok := apps[req.App.ID]
	if !ok {
		return errs.Errorf(op, errs.NotFound, "app %q is not registered", req.App.ID)
	}

	for _, share := range req.MData {
		md, err := a.vault.GetMData(share.Name, share.Tag)
		if err != nil {
			return err
		}
		err = a.vault.SetUserPermissions(share.Name, share.Tag,
			types.SpecificUser(entry.Keys.SignPK),
			mdata.PermSetFromRequest(share.Access),
			md.Version, a.creds.SignPK)
		if err != nil {
			return err
		}
	}
	return nil
}

// ShareMDataMetadata fetches the _metadata entry of each record named
// in a pending share request so the user can see what they are asked
// to share. Records without metadata yield nil.
func (a *Authenticator) ShareMDataMetadata(reqID uint32) ([][]byte, error) {
	const op = "authenticator.ShareMDataMetadata"

	a.mu.Lock()
	req, ok := a.pending[reqID]
	a.mu.Unlock()
	if !ok {
		return nil, errs.Errorf(op, errs.NotFound, "request %d unknown", reqID)
	}
	share, ok := req.(*ipc.ShareMDataReq)
	if !ok {
		return nil, errs.Errorf(op, errs.DecodeError, "request %d is not a share request", reqID)
	}

	out := make([][]byte, len(share.MData))
	for i, s := range share.MData {
		md, err := a.vault.GetMData(s.Name, s.Tag)
		if err != nil {
			return nil, err
		}
		v, err := md.Get([]byte(mdata.MetadataKey), a.creds.SignPK)
		if err != nil {
			if errs.Is(errs.NotFound, err) {
				continue
			}
			return nil, err
		}
		out[i] = v.Content
	}
	return out, nil
}

// applyContainerGrants resolves each requested container to its record
// (creating user containers on first request) and installs the app's
// permission set on it.
func (a *Authenticator) applyContainerGrants(appKey types.SignPubKey, requested []ipc.ContainerPermissions) (ipc.AccessContainerEntry, error) {
	containers, version, exists, err := a.loadContainers()
	if err != nil {
		return nil, err
	}

	grants := make(ipc.AccessContainerEntry, len(requested))
	dirty := false
	for _, cp := range requested {
		info, ok := containers[cp.Name]
		if !ok {
			info, err = a.createContainer(cp.Name)
			if err != nil {
				return nil, err
			}
			containers[cp.Name] = info
			dirty = true
		}
		md, err := a.vault.GetMData(info.Name, info.Tag)
		if err != nil {
			return nil, err
		}
		err = a.vault.SetUserPermissions(info.Name, info.Tag,
			types.SpecificUser(appKey),
			mdata.PermSetFromRequest(cp.Access),
			md.Version, a.creds.SignPK)
		if err != nil {
			return nil, err
		}
		grants[cp.Name] = ipc.ContainerGrant{Info: info, Access: cp.Access}
	}

	if dirty {
		if err := a.writeConfig(cfgContainers, containers, version, exists); err != nil {
			return nil, err
		}
	}
	return grants, nil
}

func (a *Authenticator) createContainer(name string) (mdata.Info, error) {
	info, err := mdata.NewPrivateInfo(containerName(a.creds.SignPK, name), types.TagFirstFree)
	if err != nil {
		return mdata.Info{}, err
	}
	md, err := mdata.New(info.Name, info.Tag, a.creds.SignPK, nil, nil)
	if err != nil {
		return mdata.Info{}, err
	}
	if err := a.vault.CreateMData(md); err != nil && !errs.Is(errs.AlreadyExists, err) {
		return mdata.Info{}, err
	}
	a.log.WithField("container", name).Debug("container created")
	return info, nil
}

// writeAccessEntry inserts or rewrites one app's sealed row in the
// access container.
func (a *Authenticator) writeAccessEntry(appID string, keys types.AppKeys, entry ipc.AccessContainerEntry) error {
	acInfo := a.AccessContInfo()
	sealed, err := access.SealEntry(entry, keys.EncKey)
	if err != nil {
		return err
	}
	key := access.EntryKey(appID, keys.EncKey, acInfo.Nonce)

	md, err := a.vault.GetMData(acInfo.ID, acInfo.Tag)
	if err != nil {
		return err
	}
	batch := mdata.NewEntryActions()
	if v, err := md.Get(key, a.creds.SignPK); err == nil {
		batch.Update(key, sealed, v.Version)
	} else if errs.Is(errs.NotFound, err) {
		batch.Insert(key, sealed)
	} else {
		return err
	}
	return a.vault.MutateEntries(acInfo.ID, acInfo.Tag, batch, a.creds.SignPK)
}

// allowAccessContainerRead lets the app read the access container
// record so it can fetch its own row.
func (a *Authenticator) allowAccessContainerRead(appKey types.SignPubKey) error {
	acInfo := a.AccessContInfo()
	md, err := a.vault.GetMData(acInfo.ID, acInfo.Tag)
	if err != nil {
		return err
	}
	return a.vault.SetUserPermissions(acInfo.ID, acInfo.Tag,
		types.SpecificUser(appKey),
		mdata.PermSet{Read: mdata.Allowed},
		md.Version, a.creds.SignPK)
}

// unrevoke drops an app from the revoked list on re-authorization.
func (a *Authenticator) unrevoke(appID string) error {
	revoked, version, exists, err := a.loadRevoked()
	if err != nil || !exists {
		return err
	}
	kept := revoked[:0]
	for _, id := range revoked {
		if id != appID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(revoked) {
		return nil
	}
	return a.writeConfig(cfgRevoked, kept, version, exists)
}

// RegisteredApp is one row of the audit listing.
type RegisteredApp struct {
	Identity   types.AppIdentity
	Containers []ipc.ContainerPermissions
}

// RegisteredApps lists the currently registered apps, sorted by id.
func (a *Authenticator) RegisteredApps() ([]RegisteredApp, error) {
	apps, _, _, err := a.loadApps()
	if err != nil {
		return nil, err
	}
	out := make([]RegisteredApp, 0, len(apps))
	for _, entry := range apps {
		out = append(out, RegisteredApp{Identity: entry.Identity, Containers: entry.Containers})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID < out[j].Identity.ID })
	return out, nil
}

// RevokedApps lists the ids of revoked apps.
func (a *Authenticator) RevokedApps() ([]string, error) {
	revoked, _, _, err := a.loadRevoked()
	if err != nil {
		return nil, err
	}
	sort.Strings(revoked)
	return revoked, nil
}

func mergeContainerPerms(existing, added []ipc.ContainerPermissions) []ipc.ContainerPermissions {
	merged := append([]ipc.ContainerPermissions(nil), existing...)
	for _, cp := range added {
		found := false
		for i := range merged {
			if merged[i].Name == cp.Name {
				merged[i].Access = unionPerms(merged[i].Access, cp.Access)
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, cp)
		}
	}
	return merged
}

func unionPerms(a, b types.PermissionSet) types.PermissionSet {
	return types.PermissionSet{
		Read:              a.Read || b.Read,
		Insert:            a.Insert || b.Insert,
		Update:            a.Update || b.Update,
		Delete:            a.Delete || b.Delete,
		ManagePermissions: a.ManagePermissions || b.ManagePermissions,
	}
}

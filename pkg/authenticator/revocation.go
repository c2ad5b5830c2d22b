package authenticator

import (
	"github.com/havenlab/haven/pkg/access"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/ipc"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
)

// Enqueue adds an app to the persisted revocation queue. Queuing an
// app twice is a no-op; the actual revocation happens in Flush.
func (a *Authenticator) Enqueue(appID string) error {
	queue, version, exists, err := a.loadQueue()
	if err != nil {
		return err
	}
	for _, id := range queue {
		if id == appID {
			return nil
		}
	}
	queue = append(queue, appID)
	return a.writeConfig(cfgQueue, queue, version, exists)
}

// Flush processes the revocation queue strictly in FIFO order. Each
// app is fully revoked before the queue entry is removed, so a flush
// interrupted part way resumes from the first unprocessed app; running
// Flush again with an empty queue is a no-op.
func (a *Authenticator) Flush() error {
	for {
		queue, version, exists, err := a.loadQueue()
		if err != nil {
			return err
		}
		if len(queue) == 0 {
			return nil
		}
		appID := queue[0]
		if err := a.revokeApp(appID); err != nil {
			return err
		}
		if err := a.writeConfig(cfgQueue, queue[1:], version, exists); err != nil {
			return err
		}
		a.log.WithField("app", appID).Info("app revoked")
	}
}

// revokeApp strips one app's grants. Every step tolerates
// already-done state so an interrupted revocation can be replayed.
func (a *Authenticator) revokeApp(appID string) error {
	apps, appsVer, appsExist, err := a.loadApps()
	if err != nil {
		return err
	}
	entry, registered := apps[appID]
	if !registered {
		// Already moved to the revoked list by an earlier attempt.
		return nil
	}
	containers, containersVer, containersExist, err := a.loadContainers()
	if err != nil {
		return err
	}

	if err := a.stripPermissions(entry, containers); err != nil {
		return err
	}
	if err := a.removeAccessEntry(appID, entry.Keys); err != nil {
		return err
	}
	rekeyed, err := a.rekeyContainers(entry, containers)
	if err != nil {
		return err
	}
	if rekeyed {
		if err := a.writeConfig(cfgContainers, containers, containersVer, containersExist); err != nil {
			return err
		}
		if err := a.rewriteAccessEntries(apps, appID, containers); err != nil {
			return err
		}
	}

	delete(apps, appID)
	if err := a.writeConfig(cfgApps, apps, appsVer, appsExist); err != nil {
		return err
	}

	revoked, revokedVer, revokedExist, err := a.loadRevoked()
	if err != nil {
		return err
	}
	for _, id := range revoked {
		if id == appID {
			return nil
		}
	}
	return a.writeConfig(cfgRevoked, append(revoked, appID), revokedVer, revokedExist)
}

// stripPermissions removes the app's permission entries from every
// container it was granted and from the access container. From this
// point its AppKeys are unusable.
func (a *Authenticator) stripPermissions(entry appEntry, containers map[string]mdata.Info) error {
	user := types.SpecificUser(entry.Keys.SignPK)
	for _, cp := range entry.Containers {
		info, ok := containers[cp.Name]
		if !ok {
			continue
		}
		if err := a.dropUserPermissions(info.Name, info.Tag, user); err != nil {
			return err
		}
	}
	acInfo := a.AccessContInfo()
	return a.dropUserPermissions(acInfo.ID, acInfo.Tag, user)
}

func (a *Authenticator) dropUserPermissions(name types.XorName, tag types.TypeTag, user types.User) error {
	md, err := a.vault.GetMData(name, tag)
	if err != nil {
		return err
	}
	err = a.vault.DelUserPermissions(name, tag, user, md.Version, a.creds.SignPK)
	if err != nil && !errs.Is(errs.NotFound, err) {
		return err
	}
	return nil
}

// removeAccessEntry tombstones the app's row in the access container.
func (a *Authenticator) removeAccessEntry(appID string, keys types.AppKeys) error {
	acInfo := a.AccessContInfo()
	key := access.EntryKey(appID, keys.EncKey, acInfo.Nonce)

	md, err := a.vault.GetMData(acInfo.ID, acInfo.Tag)
	if err != nil {
		return err
	}
	v, err := md.Get(key, a.creds.SignPK)
	if errs.Is(errs.NotFound, err) {
		return nil
	}
	if err != nil {
		return err
	}
	batch := mdata.NewEntryActions().Delete(key, v.Version)
	return a.vault.MutateEntries(acInfo.ID, acInfo.Tag, batch, a.creds.SignPK)
}

// rekeyContainers rotates the keying material of every private
// container the revoked app could read, re-encrypting the stored
// entries under fresh keys. The map is updated in place.
func (a *Authenticator) rekeyContainers(entry appEntry, containers map[string]mdata.Info) (bool, error) {
	rekeyed := false
	for _, cp := range entry.Containers {
		oldInfo, ok := containers[cp.Name]
		if !ok || !oldInfo.Private() {
			continue
		}
		newInfo, err := mdata.NewPrivateInfo(oldInfo.Name, oldInfo.Tag)
		if err != nil {
			return rekeyed, err
		}
		if err := a.rekeyRecord(oldInfo, newInfo); err != nil {
			return rekeyed, err
		}
		containers[cp.Name] = newInfo
		rekeyed = true
	}
	return rekeyed, nil
}

// rekeyRecord rewrites every live entry of one record from the old
// keying material to the new, in a single atomic batch.
func (a *Authenticator) rekeyRecord(oldInfo, newInfo mdata.Info) error {
	md, err := a.vault.GetMData(oldInfo.Name, oldInfo.Tag)
	if err != nil {
		return err
	}
	entries, err := md.ListEntries(a.creds.SignPK)
	if err != nil {
		return err
	}

	batch := mdata.NewEntryActions()
	for _, e := range entries {
		if e.Value.Deleted {
			continue
		}
		plainKey, err := oldInfo.DecEntryKey(e.Key)
		if err != nil {
			return err
		}
		plainVal, err := oldInfo.DecEntryValue(e.Value.Content)
		if err != nil {
			return err
		}
		newVal, err := newInfo.EncEntryValue(plainVal)
		if err != nil {
			return err
		}
		batch.Delete(e.Key, e.Value.Version)
		batch.Insert(newInfo.EncEntryKey(plainKey), newVal)
	}
	if batch.Len() == 0 {
		return nil
	}
	return a.vault.MutateEntries(oldInfo.Name, oldInfo.Tag, batch, a.creds.SignPK)
}

// rewriteAccessEntries reseals the remaining apps' access-container
// rows so they pick up the rotated container keys.
func (a *Authenticator) rewriteAccessEntries(apps map[string]appEntry, revokedID string, containers map[string]mdata.Info) error {
	for id, entry := range apps {
		if id == revokedID {
			continue
		}
		grants := make(ipc.AccessContainerEntry, len(entry.Containers))
		for _, cp := range entry.Containers {
			info, ok := containers[cp.Name]
			if !ok {
				continue
			}
			grants[cp.Name] = ipc.ContainerGrant{Info: info, Access: cp.Access}
		}
		if err := a.writeAccessEntry(id, entry.Keys, grants); err != nil {
			return err
		}
	}
	return nil
}

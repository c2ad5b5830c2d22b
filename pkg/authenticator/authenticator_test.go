package authenticator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenlab/haven/pkg/access"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/ipc"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
	"github.com/havenlab/haven/pkg/vault"
)

func newTestAuth(t *testing.T) (*Authenticator, *vault.Vault) {
	t.Helper()

	v, err := vault.New(vault.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	creds, err := NewCredentials()
	require.NoError(t, err)
	a, err := New(v, creds, Config{Bootstrap: []byte("bootstrap")})
	require.NoError(t, err)
	return a, v
}

func appIdentity(id string) types.AppIdentity {
	return types.AppIdentity{ID: id, Name: "App " + id, Vendor: "Test Vendor"}
}

// authorize runs the full grant flow for one app and returns the
// decoded grant.
func authorize(t *testing.T, a *Authenticator, req ipc.AuthReq) *ipc.AuthGranted {
	t.Helper()

	_, token, err := ipc.EncodeRequest(req)
	require.NoError(t, err)
	reqID, decoded, err := a.HandleRequest(token)
	require.NoError(t, err)
	require.IsType(t, &ipc.AuthReq{}, decoded)

	respToken, err := a.Grant(reqID)
	require.NoError(t, err)
	gotID, resp, err := ipc.DecodeResponse(respToken)
	require.NoError(t, err)
	require.Equal(t, reqID, gotID)
	require.IsType(t, &ipc.AuthGranted{}, resp)
	return resp.(*ipc.AuthGranted)
}

func TestAuthGrantFlow(t *testing.T) {
	a, v := newTestAuth(t)

	granted := authorize(t, a, ipc.AuthReq{
		App: appIdentity("app1"),
		Containers: []ipc.ContainerPermissions{
			{Name: "_videos", Access: types.PermissionSet{Read: true, Insert: true}},
		},
	})

	assert.Equal(t, []byte("bootstrap"), granted.Bootstrap)
	require.Contains(t, granted.AccessContEntry, "_videos")

	// The app can resolve its grant through the access container.
	c := access.NewContainer(v, "app1", granted.AppKeys, granted.AccessContInfo)
	names, err := c.Containers()
	require.NoError(t, err)
	assert.Equal(t, []string{"_videos"}, names)

	info, err := c.ContainerInfo("_videos")
	require.NoError(t, err)

	// And act on the container with its own keys.
	key := info.EncEntryKey([]byte("movie.mp4"))
	value, err := info.EncEntryValue([]byte("content-address"))
	require.NoError(t, err)
	batch := mdata.NewEntryActions().Insert(key, value)
	require.NoError(t, v.MutateEntries(info.Name, info.Tag, batch, granted.AppKeys.SignPK))

	md, err := v.GetMData(info.Name, info.Tag)
	require.NoError(t, err)
	got, err := md.Get(key, granted.AppKeys.SignPK)
	require.NoError(t, err)
	plain, err := info.DecEntryValue(got.Content)
	require.NoError(t, err)
	assert.Equal(t, []byte("content-address"), plain)

	apps, err := a.RegisteredApps()
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "app1", apps[0].Identity.ID)
}

func TestReauthorizationKeepsKeys(t *testing.T) {
	a, _ := newTestAuth(t)

	first := authorize(t, a, ipc.AuthReq{
		App:        appIdentity("app1"),
		Containers: []ipc.ContainerPermissions{{Name: "_videos", Access: types.PermissionSet{Read: true}}},
	})
	second := authorize(t, a, ipc.AuthReq{
		App:        appIdentity("app1"),
		Containers: []ipc.ContainerPermissions{{Name: "_music", Access: types.PermissionSet{Read: true}}},
	})

	assert.Equal(t, first.AppKeys, second.AppKeys)
	// The second grant covers both old and new containers.
	assert.Contains(t, second.AccessContEntry, "_videos")
	assert.Contains(t, second.AccessContEntry, "_music")
}

func TestAppContainer(t *testing.T) {
	a, _ := newTestAuth(t)

	granted := authorize(t, a, ipc.AuthReq{
		App:          appIdentity("app1"),
		AppContainer: true,
	})
	require.Contains(t, granted.AccessContEntry, "apps/app1")
	grant := granted.AccessContEntry["apps/app1"]
	assert.True(t, grant.Access.ManagePermissions)
}

func TestDeny(t *testing.T) {
	a, _ := newTestAuth(t)

	_, token, err := ipc.EncodeRequest(ipc.AuthReq{App: appIdentity("app1")})
	require.NoError(t, err)
	reqID, _, err := a.HandleRequest(token)
	require.NoError(t, err)

	respToken, err := a.Deny(reqID, "user declined")
	require.NoError(t, err)
	_, resp, err := ipc.DecodeResponse(respToken)
	require.NoError(t, err)
	require.IsType(t, &ipc.Denied{}, resp)
	assert.Equal(t, "user declined", resp.(*ipc.Denied).Reason)

	// Answered requests cannot be answered again.
	_, err = a.Grant(reqID)
	assert.True(t, errs.Is(errs.NotFound, err))
}

func TestGrantUnknownRequest(t *testing.T) {
	a, _ := newTestAuth(t)
	_, err := a.Grant(12345)
	assert.True(t, errs.Is(errs.NotFound, err))
}

func TestUnregisteredGrant(t *testing.T) {
	a, _ := newTestAuth(t)

	_, token, err := ipc.EncodeRequest(ipc.UnregisteredReq{})
	require.NoError(t, err)
	reqID, _, err := a.HandleRequest(token)
	require.NoError(t, err)

	respToken, err := a.Grant(reqID)
	require.NoError(t, err)
	_, resp, err := ipc.DecodeResponse(respToken)
	require.NoError(t, err)
	require.IsType(t, &ipc.UnregisteredGranted{}, resp)
	assert.Equal(t, []byte("bootstrap"), resp.(*ipc.UnregisteredGranted).Bootstrap)
}

func TestContainersRequest(t *testing.T) {
	a, v := newTestAuth(t)

	granted := authorize(t, a, ipc.AuthReq{
		App:        appIdentity("app1"),
		Containers: []ipc.ContainerPermissions{{Name: "_videos", Access: types.PermissionSet{Read: true}}},
	})

	_, token, err := ipc.EncodeRequest(ipc.ContainersReq{
		App:        appIdentity("app1"),
		Containers: []ipc.ContainerPermissions{{Name: "_documents", Access: types.PermissionSet{Read: true, Insert: true}}},
	})
	require.NoError(t, err)
	reqID, _, err := a.HandleRequest(token)
	require.NoError(t, err)
	respToken, err := a.Grant(reqID)
	require.NoError(t, err)
	_, resp, err := ipc.DecodeResponse(respToken)
	require.NoError(t, err)
	require.IsType(t, &ipc.ContainersGranted{}, resp)

	c := access.NewContainer(v, "app1", granted.AppKeys, granted.AccessContInfo)
	names, err := c.Containers()
	require.NoError(t, err)
	assert.Equal(t, []string{"_documents", "_videos"}, names)
}

func TestContainersRequestUnregisteredApp(t *testing.T) {
	a, _ := newTestAuth(t)

	_, token, err := ipc.EncodeRequest(ipc.ContainersReq{App: appIdentity("ghost")})
	require.NoError(t, err)
	reqID, _, err := a.HandleRequest(token)
	require.NoError(t, err)
	_, err = a.Grant(reqID)
	assert.True(t, errs.Is(errs.NotFound, err))
}

func TestShareMData(t *testing.T) {
	a, v := newTestAuth(t)

	granted := authorize(t, a, ipc.AuthReq{App: appIdentity("app1")})

	// A user-owned record with a metadata entry.
	name := types.XorName{42}
	md, err := mdata.New(name, types.TagFirstFree, a.creds.SignPK, nil, map[string][]byte{
		mdata.MetadataKey: []byte("holiday photos"),
	})
	require.NoError(t, err)
	require.NoError(t, v.CreateMData(md))

	_, token, err := ipc.EncodeRequest(ipc.ShareMDataReq{
		App: appIdentity("app1"),
		MData: []ipc.ShareMData{
			{Name: name, Tag: types.TagFirstFree, Access: types.PermissionSet{Read: true, Insert: true}},
		},
	})
	require.NoError(t, err)
	reqID, _, err := a.HandleRequest(token)
	require.NoError(t, err)

	metadata, err := a.ShareMDataMetadata(reqID)
	require.NoError(t, err)
	require.Len(t, metadata, 1)
	assert.Equal(t, []byte("holiday photos"), metadata[0])

	respToken, err := a.Grant(reqID)
	require.NoError(t, err)
	_, resp, err := ipc.DecodeResponse(respToken)
	require.NoError(t, err)
	require.IsType(t, &ipc.ShareMDataGranted{}, resp)

	// The app can now read the shared record.
	got, err := v.GetMData(name, types.TagFirstFree)
	require.NoError(t, err)
	val, err := got.Get([]byte(mdata.MetadataKey), granted.AppKeys.SignPK)
	require.NoError(t, err)
	assert.Equal(t, []byte("holiday photos"), val.Content)
}

func TestRevocation(t *testing.T) {
	a, v := newTestAuth(t)

	granted := authorize(t, a, ipc.AuthReq{
		App:        appIdentity("app1"),
		Containers: []ipc.ContainerPermissions{{Name: "_videos", Access: types.PermissionSet{Read: true, Insert: true}}},
	})
	other := authorize(t, a, ipc.AuthReq{
		App:        appIdentity("app2"),
		Containers: []ipc.ContainerPermissions{{Name: "_videos", Access: types.PermissionSet{Read: true}}},
	})

	info, err := access.NewContainer(v, "app1", granted.AppKeys, granted.AccessContInfo).ContainerInfo("_videos")
	require.NoError(t, err)

	// Seed an entry so the re-key has something to rewrite.
	key := info.EncEntryKey([]byte("movie.mp4"))
	value, err := info.EncEntryValue([]byte("content-address"))
	require.NoError(t, err)
	require.NoError(t, v.MutateEntries(info.Name, info.Tag,
		mdata.NewEntryActions().Insert(key, value), granted.AppKeys.SignPK))

	require.NoError(t, a.Enqueue("app1"))
	require.NoError(t, a.Flush())

	// app1 is gone from the registered list and on the revoked list.
	apps, err := a.RegisteredApps()
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "app2", apps[0].Identity.ID)
	revoked, err := a.RevokedApps()
	require.NoError(t, err)
	assert.Equal(t, []string{"app1"}, revoked)

	// Its keys no longer grant record access.
	_, err = v.GetMData(info.Name, info.Tag)
	require.NoError(t, err)
	err = v.MutateEntries(info.Name, info.Tag,
		mdata.NewEntryActions().Insert(info.EncEntryKey([]byte("x")), []byte("y")),
		granted.AppKeys.SignPK)
	assert.True(t, errs.Is(errs.PermissionDenied, err))

	// Its access-container row is gone.
	err = access.NewContainer(v, "app1", granted.AppKeys, granted.AccessContInfo).Refresh()
	assert.Error(t, err)

	// The surviving app sees the rotated key and still reads the data.
	c2 := access.NewContainer(v, "app2", other.AppKeys, other.AccessContInfo)
	newInfo, err := c2.ContainerInfo("_videos")
	require.NoError(t, err)
	require.NotNil(t, newInfo.SymKey)
	assert.NotEqual(t, *info.SymKey, *newInfo.SymKey)

	md, err := v.GetMData(newInfo.Name, newInfo.Tag)
	require.NoError(t, err)
	got, err := md.Get(newInfo.EncEntryKey([]byte("movie.mp4")), other.AppKeys.SignPK)
	require.NoError(t, err)
	plain, err := newInfo.DecEntryValue(got.Content)
	require.NoError(t, err)
	assert.Equal(t, []byte("content-address"), plain)
}

func TestFlushTwiceIsNoOp(t *testing.T) {
	a, _ := newTestAuth(t)

	authorize(t, a, ipc.AuthReq{App: appIdentity("app1")})
	require.NoError(t, a.Enqueue("app1"))
	require.NoError(t, a.Flush())

	revoked, err := a.RevokedApps()
	require.NoError(t, err)
	require.Equal(t, []string{"app1"}, revoked)

	// No new enqueues: the second flush changes nothing.
	require.NoError(t, a.Flush())
	revokedAgain, err := a.RevokedApps()
	require.NoError(t, err)
	assert.Equal(t, revoked, revokedAgain)
	apps, err := a.RegisteredApps()
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestEnqueueTwice(t *testing.T) {
	a, _ := newTestAuth(t)

	authorize(t, a, ipc.AuthReq{App: appIdentity("app1")})
	require.NoError(t, a.Enqueue("app1"))
	require.NoError(t, a.Enqueue("app1"))
	require.NoError(t, a.Flush())

	revoked, err := a.RevokedApps()
	require.NoError(t, err)
	assert.Equal(t, []string{"app1"}, revoked)
}

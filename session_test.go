package haven

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenlab/haven/pkg/authenticator"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/ipc"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
	"github.com/havenlab/haven/pkg/vault"
)

// grantedSession runs the full authorization flow and opens an app
// session over the resulting grant.
func grantedSession(t *testing.T) (*Session, *vault.Vault) {
	t.Helper()

	v, err := vault.New(vault.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	creds, err := authenticator.NewCredentials()
	require.NoError(t, err)
	auth, err := authenticator.New(v, creds, authenticator.Config{Bootstrap: []byte("b")})
	require.NoError(t, err)

	_, token, err := ipc.EncodeRequest(ipc.AuthReq{
		App: types.AppIdentity{ID: "app1", Name: "App One", Vendor: "Vendor"},
		Containers: []ipc.ContainerPermissions{
			{Name: "_videos", Access: types.PermissionSet{Read: true, Insert: true, Update: true, Delete: true}},
		},
	})
	require.NoError(t, err)
	reqID, _, err := auth.HandleRequest(token)
	require.NoError(t, err)
	respToken, err := auth.Grant(reqID)
	require.NoError(t, err)
	_, resp, err := ipc.DecodeResponse(respToken)
	require.NoError(t, err)
	granted := resp.(*ipc.AuthGranted)

	s := NewAppSession(v, "app1", granted, Config{LogLevel: "error"})
	t.Cleanup(s.Close)
	return s, v
}

func TestEntryLifecycle(t *testing.T) {
	s, _ := grantedSession(t)

	infoH, err := s.ContainerMDataInfo("_videos")
	require.NoError(t, err)

	key, err := s.EncryptEntryKey(infoH, []byte("a"))
	require.NoError(t, err)
	value, err := s.EncryptEntryValue(infoH, []byte("b"))
	require.NoError(t, err)

	actionsH := s.NewEntryActions()
	require.NoError(t, s.EntryActionsInsert(actionsH, key, value))
	require.NoError(t, s.MutateEntries(infoH, actionsH))

	got, err := s.GetValue(infoH, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Version)
	plain, err := s.DecryptEntry(infoH, got.Content)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), plain)

	// Stale update leaves the record unchanged.
	updateH := s.NewEntryActions()
	newValue, err := s.EncryptEntryValue(infoH, []byte("c"))
	require.NoError(t, err)
	require.NoError(t, s.EntryActionsUpdate(updateH, key, newValue, 5))
	err = s.MutateEntries(infoH, updateH)
	assert.True(t, errs.Is(errs.VersionConflict, err))

	got, err = s.GetValue(infoH, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Version)

	require.NoError(t, s.FreeHandle(actionsH))
	require.NoError(t, s.FreeHandle(updateH))
	require.NoError(t, s.FreeHandle(infoH))
}

func TestHandleMisuse(t *testing.T) {
	s, _ := grantedSession(t)

	infoH := s.PublicMDataInfo(types.XorName{1}, types.TagFirstFree)
	require.NoError(t, s.FreeHandle(infoH))

	err := s.FreeHandle(infoH)
	assert.True(t, errs.Is(errs.HandleInvalid, err))
	_, err = s.GetValue(infoH, []byte("k"))
	assert.True(t, errs.Is(errs.HandleInvalid, err))

	// An info handle is not an actions handle.
	infoH2 := s.PublicMDataInfo(types.XorName{2}, types.TagFirstFree)
	err = s.EntryActionsInsert(infoH2, []byte("k"), []byte("v"))
	assert.True(t, errs.Is(errs.HandleTypeMismatch, err))
}

func TestIterationCollections(t *testing.T) {
	s, _ := grantedSession(t)

	infoH, err := s.ContainerMDataInfo("_videos")
	require.NoError(t, err)

	actionsH := s.NewEntryActions()
	for _, k := range []string{"one", "two", "three"} {
		key, err := s.EncryptEntryKey(infoH, []byte(k))
		require.NoError(t, err)
		value, err := s.EncryptEntryValue(infoH, []byte("v-"+k))
		require.NoError(t, err)
		require.NoError(t, s.EntryActionsInsert(actionsH, key, value))
	}
	require.NoError(t, s.MutateEntries(infoH, actionsH))

	entriesH, err := s.ListEntries(infoH)
	require.NoError(t, err)
	n, err := s.EntriesLen(entriesH)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	seen := 0
	err = s.EntriesForEach(entriesH, func(key []byte, value mdata.Value) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)

	// A failing callback stops iteration with one terminal error.
	calls := 0
	stop := errs.E("test", errs.Other)
	err = s.EntriesForEach(entriesH, func([]byte, mdata.Value) error {
		calls++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)

	keysH, err := s.ListKeys(infoH)
	require.NoError(t, err)
	keys := 0
	require.NoError(t, s.KeysForEach(keysH, func([]byte) error { keys++; return nil }))
	assert.Equal(t, 3, keys)

	valuesH, err := s.ListValues(infoH)
	require.NoError(t, err)
	values := 0
	require.NoError(t, s.ValuesForEach(valuesH, func(mdata.Value) error { values++; return nil }))
	assert.Equal(t, 3, values)
}

func TestOwnRecordAndPermissions(t *testing.T) {
	s, _ := grantedSession(t)

	infoH, err := s.PrivateMDataInfo(types.XorName{99}, types.TagFirstFree)
	require.NoError(t, err)
	require.NoError(t, s.PutMData(infoH, nil, nil))

	version, err := s.GetMDataVersion(infoH)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), version)

	other := types.SignPubKey{7}
	set := mdata.PermSet{Read: mdata.Allowed, Insert: mdata.Denied}
	require.NoError(t, s.SetUserPermissions(infoH, types.SpecificUser(other), set, 0))

	got, err := s.ListUserPermissions(infoH, types.SpecificUser(other))
	require.NoError(t, err)
	assert.Equal(t, set, got)

	permsH, err := s.ListPermissions(infoH)
	require.NoError(t, err)
	rows := 0
	require.NoError(t, s.PermissionsForEach(permsH, func(types.User, mdata.PermSet) error {
		rows++
		return nil
	}))
	assert.Equal(t, 1, rows)

	// Version bumped by the permission change.
	require.NoError(t, s.ChangeOwner(infoH, other, 1))
	_, err = s.ListUserPermissions(infoH, types.SpecificUser(types.SignPubKey{42}))
	assert.True(t, errs.Is(errs.NotFound, err))
}

func TestSelfEncryptionThroughSession(t *testing.T) {
	s, _ := grantedSession(t)

	writerH := s.NewSelfEncryptor()
	require.NoError(t, s.SelfEncryptorWrite(writerH, []byte("hello ")))
	require.NoError(t, s.SelfEncryptorWrite(writerH, []byte("world")))

	optH := s.NewPlainCipherOpt()
	addr, err := s.SelfEncryptorClose(writerH, optH)
	require.NoError(t, err)
	require.NoError(t, s.FreeHandle(writerH))
	require.NoError(t, s.FreeHandle(optH))

	readerH, err := s.FetchSelfEncryptor(addr)
	require.NoError(t, err)
	size, err := s.SelfEncryptorSize(readerH)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), size)

	got, err := s.SelfEncryptorRead(readerH, 0, 11)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
	require.NoError(t, s.FreeHandle(readerH))
}

func TestSymmetricBlobThroughSession(t *testing.T) {
	s, _ := grantedSession(t)

	writerH := s.NewSelfEncryptor()
	require.NoError(t, s.SelfEncryptorWrite(writerH, []byte("secret bytes")))
	optH := s.NewSymmetricCipherOpt()
	addr, err := s.SelfEncryptorClose(writerH, optH)
	require.NoError(t, err)

	readerH, err := s.FetchSelfEncryptor(addr)
	require.NoError(t, err)
	got, err := s.SelfEncryptorRead(readerH, 0, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret bytes"), got)
}

func TestSubmitAsync(t *testing.T) {
	s, _ := grantedSession(t)

	infoH, err := s.ContainerMDataInfo("_videos")
	require.NoError(t, err)
	key, err := s.EncryptEntryKey(infoH, []byte("a"))
	require.NoError(t, err)
	value, err := s.EncryptEntryValue(infoH, []byte("b"))
	require.NoError(t, err)
	actionsH := s.NewEntryActions()
	require.NoError(t, s.EntryActionsInsert(actionsH, key, value))

	res := <-s.Submit(func() (interface{}, error) {
		if err := s.MutateEntries(infoH, actionsH); err != nil {
			return nil, err
		}
		return s.GetValue(infoH, key)
	})
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(0), res.Value.(mdata.Value).Version)
}

func TestUnregisteredSession(t *testing.T) {
	s, v := grantedSession(t)

	// A public record readable by anyone.
	name := types.XorName{55}
	md, err := mdata.New(name, types.TagFirstFree, s.requester(),
		mdata.Permissions{{User: types.Anyone(), Set: mdata.PermSet{Read: mdata.Allowed}}},
		map[string][]byte{"public": []byte("data")})
	require.NoError(t, err)
	require.NoError(t, v.CreateMData(md))

	anon := NewUnregisteredSession(v, Config{LogLevel: "error"})
	defer anon.Close()

	infoH := anon.PublicMDataInfo(name, types.TagFirstFree)
	got, err := anon.GetValue(infoH, []byte("public"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got.Content)

	// No write access, no container grants.
	actionsH := anon.NewEntryActions()
	require.NoError(t, anon.EntryActionsInsert(actionsH, []byte("k"), []byte("v")))
	err = anon.MutateEntries(infoH, actionsH)
	assert.True(t, errs.Is(errs.PermissionDenied, err))
	_, err = anon.Containers()
	assert.True(t, errs.Is(errs.PermissionDenied, err))
}

package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
)

var testApp = types.AppIdentity{
	ID:     "net.example.player",
	Name:   "Example Player",
	Vendor: "Example Org",
}

func TestAuthReqRoundTrip(t *testing.T) {
	req := AuthReq{
		App:          testApp,
		AppContainer: true,
		Containers: []ContainerPermissions{
			{Name: "_videos", Access: types.PermissionSet{Read: true}},
		},
	}

	id, token, err := EncodeRequest(req)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	gotID, decoded, err := DecodeRequest(token)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	require.IsType(t, &AuthReq{}, decoded)
	assert.Equal(t, req, *decoded.(*AuthReq))
}

func TestRequestVariantsRoundTrip(t *testing.T) {
	reqs := []Request{
		ContainersReq{
			App: testApp,
			Containers: []ContainerPermissions{
				{Name: "_documents", Access: types.PermissionSet{Read: true, Insert: true}},
			},
		},
		UnregisteredReq{ExtraData: []byte("hello")},
		ShareMDataReq{
			App: testApp,
			MData: []ShareMData{
				{Name: types.XorName{1, 2, 3}, Tag: types.TagFirstFree, Access: types.PermissionSet{Insert: true}},
			},
		},
	}

	for _, req := range reqs {
		id, token, err := EncodeRequest(req)
		require.NoError(t, err)
		gotID, decoded, err := DecodeRequest(token)
		require.NoError(t, err)
		assert.Equal(t, id, gotID)

		switch want := req.(type) {
		case ContainersReq:
			assert.Equal(t, want, *decoded.(*ContainersReq))
		case UnregisteredReq:
			assert.Equal(t, want, *decoded.(*UnregisteredReq))
		case ShareMDataReq:
			assert.Equal(t, want, *decoded.(*ShareMDataReq))
		}
	}
}

func TestAuthGrantedRoundTrip(t *testing.T) {
	owner, _, err := crypt.GenSignKeyPair()
	require.NoError(t, err)
	keys, err := crypt.NewAppKeys(owner)
	require.NoError(t, err)

	info, err := mdata.NewPrivateInfo(types.XorName{9}, types.TagFirstFree)
	require.NoError(t, err)

	resp := AuthGranted{
		AppKeys:   keys,
		Bootstrap: []byte("bootstrap-blob"),
		AccessContInfo: types.AccessContInfo{
			ID:  types.XorName{7},
			Tag: types.TagAccessContainer,
		},
		AccessContEntry: AccessContainerEntry{
			"_videos": {Info: info, Access: types.PermissionSet{Read: true}},
		},
	}

	token, err := EncodeResponse(42, resp)
	require.NoError(t, err)

	gotID, decoded, err := DecodeResponse(token)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), gotID)
	require.IsType(t, &AuthGranted{}, decoded)
	got := decoded.(*AuthGranted)
	assert.Equal(t, resp.AppKeys, got.AppKeys)
	assert.Equal(t, resp.Bootstrap, got.Bootstrap)
	assert.Equal(t, resp.AccessContInfo, got.AccessContInfo)
	require.Contains(t, got.AccessContEntry, "_videos")
	grant := got.AccessContEntry["_videos"]
	assert.Equal(t, info.Name, grant.Info.Name)
	assert.Equal(t, info.Tag, grant.Info.Tag)
	require.NotNil(t, grant.Info.SymKey)
	assert.Equal(t, *info.SymKey, *grant.Info.SymKey)
}

func TestResponseVariantsRoundTrip(t *testing.T) {
	cases := []Response{
		ContainersGranted{},
		UnregisteredGranted{Bootstrap: []byte("b")},
		ShareMDataGranted{},
		Denied{Reason: "user declined"},
		Revoked{},
	}
	for _, resp := range cases {
		token, err := EncodeResponse(7, resp)
		require.NoError(t, err)
		id, decoded, err := DecodeResponse(token)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), id)

		switch want := resp.(type) {
		case ContainersGranted:
			assert.Equal(t, want, *decoded.(*ContainersGranted))
		case UnregisteredGranted:
			assert.Equal(t, want, *decoded.(*UnregisteredGranted))
		case ShareMDataGranted:
			assert.Equal(t, want, *decoded.(*ShareMDataGranted))
		case Denied:
			assert.Equal(t, want, *decoded.(*Denied))
		case Revoked:
			assert.Equal(t, want, *decoded.(*Revoked))
		}
	}
}

func TestDecodeIsTotal(t *testing.T) {
	for _, token := range []string{
		"",
		"not base64 !!!",
		"aGVsbG8",                     // valid base64, not CBOR
		"_____wAAAAAAAAAAAAAAAAAAAAA", // valid base64, garbage CBOR
	} {
		_, _, err := DecodeRequest(token)
		assert.True(t, errs.Is(errs.DecodeError, err), "token %q", token)
		_, _, err = DecodeResponse(token)
		assert.True(t, errs.Is(errs.DecodeError, err), "token %q", token)
	}

	// A request token is not a response token and vice versa.
	_, reqToken, err := EncodeRequest(UnregisteredReq{})
	require.NoError(t, err)
	_, _, err = DecodeResponse(reqToken)
	assert.True(t, errs.Is(errs.DecodeError, err))

	respToken, err := EncodeResponse(1, Denied{})
	require.NoError(t, err)
	_, _, err = DecodeRequest(respToken)
	assert.True(t, errs.Is(errs.DecodeError, err))
}

func TestEncodingIsDeterministic(t *testing.T) {
	req := AuthReq{App: testApp, Containers: []ContainerPermissions{
		{Name: "_music", Access: types.PermissionSet{Read: true}},
	}}
	t1, err := EncodeRequestWithID(99, req)
	require.NoError(t, err)
	t2, err := EncodeRequestWithID(99, req)
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
}

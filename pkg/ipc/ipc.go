// Package ipc implements the authorization protocol spoken between an
// application and the authenticator. Requests and responses travel as
// opaque tokens: deterministic CBOR inside url-safe base64, carrying a
// correlation id and a tagged payload. Encoding and decoding are pure
// and stateless; decoding is total and reports DecodeError for any
// malformed input.
package ipc

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"

	"github.com/havenlab/haven/pkg/codec"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
)

// ContainerPermissions names one container and the access requested or
// granted on it.
type ContainerPermissions struct {
	Name   string              `cbor:"name"`
	Access types.PermissionSet `cbor:"access"`
}

// ShareMData names one record a share request covers.
type ShareMData struct {
	Name   types.XorName       `cbor:"name"`
	Tag    types.TypeTag       `cbor:"tag"`
	Access types.PermissionSet `cbor:"access"`
}

// Request is one of the four request variants.
type Request interface {
	isRequest()
}

// AuthReq asks for initial authorization: key material, the listed
// containers and, optionally, a dedicated app container.
type AuthReq struct {
	App          types.AppIdentity      `cbor:"app"`
	AppContainer bool                   `cbor:"app_container"`
	Containers   []ContainerPermissions `cbor:"containers"`
}

// ContainersReq asks for access to additional containers after a grant.
type ContainersReq struct {
	App        types.AppIdentity      `cbor:"app"`
	Containers []ContainerPermissions `cbor:"containers"`
}

// UnregisteredReq asks for read-only public access without key
// material. ExtraData is echoed back to the caller.
type UnregisteredReq struct {
	ExtraData []byte `cbor:"extra_data,omitempty"`
}

// ShareMDataReq asks the user to grant the app access to specific
// records owned by someone else.
type ShareMDataReq struct {
	App   types.AppIdentity `cbor:"app"`
	MData []ShareMData      `cbor:"mdata"`
}

func (AuthReq) isRequest()         {}
func (ContainersReq) isRequest()   {}
func (UnregisteredReq) isRequest() {}
func (ShareMDataReq) isRequest()   {}

// ContainerGrant is one decrypted access-container entry: the record's
// keying info plus the access granted on it.
type ContainerGrant struct {
	Info   mdata.Info          `cbor:"info"`
	Access types.PermissionSet `cbor:"access"`
}

// AccessContainerEntry maps container name to its grant.
type AccessContainerEntry map[string]ContainerGrant

// Response is one of the response variants.
type Response interface {
	isResponse()
}

// AuthGranted is the authoritative output of a successful
// authorization, handed to the application once.
type AuthGranted struct {
	AppKeys types.AppKeys `cbor:"app_keys"`
	// Bootstrap is the opaque network bootstrap blob, reused to speed
	// up later connections.
	Bootstrap       []byte               `cbor:"bootstrap"`
	AccessContInfo  types.AccessContInfo `cbor:"access_container_info"`
	AccessContEntry AccessContainerEntry `cbor:"access_container_entry"`
}

// ContainersGranted acknowledges a containers request.
type ContainersGranted struct{}

// UnregisteredGranted carries the bootstrap blob for unregistered
// access.
type UnregisteredGranted struct {
	Bootstrap []byte `cbor:"bootstrap"`
}

// ShareMDataGranted acknowledges a share request.
type ShareMDataGranted struct{}

// Denied is the authenticator's refusal of any request variant.
type Denied struct {
	Reason string `cbor:"reason,omitempty"`
}

// Revoked notifies an app that its grant has been revoked. It is
// pushed, not correlated to a request.
type Revoked struct{}

func (AuthGranted) isResponse()         {}
func (ContainersGranted) isResponse()   {}
func (UnregisteredGranted) isResponse() {}
func (ShareMDataGranted) isResponse()   {}
func (Denied) isResponse()              {}
func (Revoked) isResponse()             {}

// Payload tags. The tag travels in the token, so the values are wire
// format and must not be reordered.
const (
	tagAuthReq uint8 = iota + 1
	tagContainersReq
	tagUnregisteredReq
	tagShareMDataReq
	tagAuthGranted
	tagContainersGranted
	tagUnregisteredGranted
	tagShareMDataGranted
	tagDenied
	tagRevoked
)

type wireMsg struct {
	ReqID uint32          `cbor:"req_id"`
	Tag   uint8           `cbor:"tag"`
	Body  cbor.RawMessage `cbor:"body"`
}

var tokenEncoding = base64.RawURLEncoding

// NewReqID draws a fresh random correlation id.
func NewReqID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, errs.E("ipc.NewReqID", errs.CryptoError, err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// EncodeRequest assigns a fresh request id and encodes req as a token.
func EncodeRequest(req Request) (uint32, string, error) {
	id, err := NewReqID()
	if err != nil {
		return 0, "", err
	}
	token, err := EncodeRequestWithID(id, req)
	return id, token, err
}

// EncodeRequestWithID encodes req under a caller-chosen request id.
func EncodeRequestWithID(reqID uint32, req Request) (string, error) {
	const op = "ipc.EncodeRequest"

	var tag uint8
	switch req.(type) {
	case AuthReq, *AuthReq:
		tag = tagAuthReq
	case ContainersReq, *ContainersReq:
		tag = tagContainersReq
	case UnregisteredReq, *UnregisteredReq:
		tag = tagUnregisteredReq
	case ShareMDataReq, *ShareMDataReq:
		tag = tagShareMDataReq
	default:
		return "", errs.Errorf(op, errs.DecodeError, "unknown request type %T", req)
	}
	return encodeToken(op, reqID, tag, req)
}

// EncodeResponse encodes the authenticator's decision for the original
// request id.
func EncodeResponse(reqID uint32, resp Response) (string, error) {
	const op = "ipc.EncodeResponse"

	var tag uint8
	switch resp.(type) {
	case AuthGranted, *AuthGranted:
		tag = tagAuthGranted
	case ContainersGranted, *ContainersGranted:
		tag = tagContainersGranted
	case UnregisteredGranted, *UnregisteredGranted:
		tag = tagUnregisteredGranted
	case ShareMDataGranted, *ShareMDataGranted:
		tag = tagShareMDataGranted
	case Denied, *Denied:
		tag = tagDenied
	case Revoked, *Revoked:
		tag = tagRevoked
	default:
		return "", errs.Errorf(op, errs.DecodeError, "unknown response type %T", resp)
	}
	return encodeToken(op, reqID, tag, resp)
}

func encodeToken(op string, reqID uint32, tag uint8, payload interface{}) (string, error) {
	body, err := codec.Marshal(payload)
	if err != nil {
		return "", errs.E(op, errs.DecodeError, err)
	}
	raw, err := codec.Marshal(wireMsg{ReqID: reqID, Tag: tag, Body: body})
	if err != nil {
		return "", errs.E(op, errs.DecodeError, err)
	}
	return tokenEncoding.EncodeToString(raw), nil
}

// DecodeRequest decodes a request token. Any malformed or unrecognized
// token yields DecodeError.
func DecodeRequest(token string) (uint32, Request, error) {
	const op = "ipc.DecodeRequest"

	msg, err := decodeMsg(op, token)
	if err != nil {
		return 0, nil, err
	}
	var req Request
	switch msg.Tag {
	case tagAuthReq:
		req = &AuthReq{}
	case tagContainersReq:
		req = &ContainersReq{}
	case tagUnregisteredReq:
		req = &UnregisteredReq{}
	case tagShareMDataReq:
		req = &ShareMDataReq{}
	default:
		return 0, nil, errs.Errorf(op, errs.DecodeError, "tag %d is not a request", msg.Tag)
	}
	if err := codec.Unmarshal(msg.Body, req); err != nil {
		return 0, nil, errs.E(op, errs.DecodeError, err)
	}
	return msg.ReqID, req, nil
}

// DecodeResponse decodes a response token. Any malformed or
// unrecognized token yields DecodeError.
func DecodeResponse(token string) (uint32, Response, error) {
	const op = "ipc.DecodeResponse"

	msg, err := decodeMsg(op, token)
	if err != nil {
		return 0, nil, err
	}
	var resp Response
	switch msg.Tag {
	case tagAuthGranted:
		resp = &AuthGranted{}
	case tagContainersGranted:
		resp = &ContainersGranted{}
	case tagUnregisteredGranted:
		resp = &UnregisteredGranted{}
	case tagShareMDataGranted:
		resp = &ShareMDataGranted{}
	case tagDenied:
		resp = &Denied{}
	case tagRevoked:
		resp = &Revoked{}
	default:
		return 0, nil, errs.Errorf(op, errs.DecodeError, "tag %d is not a response", msg.Tag)
	}
	if err := codec.Unmarshal(msg.Body, resp); err != nil {
		return 0, nil, errs.E(op, errs.DecodeError, err)
	}
	return msg.ReqID, resp, nil
}

func decodeMsg(op, token string) (wireMsg, error) {
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return wireMsg{}, errs.E(op, errs.DecodeError, err)
	}
	var msg wireMsg
	if err := codec.Unmarshal(raw, &msg); err != nil {
		return wireMsg{}, errs.E(op, errs.DecodeError, err)
	}
	return msg, nil
}

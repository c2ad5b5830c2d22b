// Package types holds the small value types shared across the haven
// client core: network names, key material, identities and permission
// requests. All of them serialize with deterministic CBOR so they can
// travel inside IPC tokens and vault records unchanged.
package types

import (
	"encoding/hex"
	"fmt"
)

// XorNameLen is the width of a network address in bytes.
const XorNameLen = 32

// XorName addresses a record or immutable blob on the network.
type XorName [XorNameLen]byte

func (n XorName) String() string {
	return hex.EncodeToString(n[:8])
}

// XorNameFromBytes copies b into an XorName. b must be exactly
// XorNameLen bytes.
func XorNameFromBytes(b []byte) (XorName, error) {
	var n XorName
	if len(b) != XorNameLen {
		return n, fmt.Errorf("xorname must be %d bytes, got %d", XorNameLen, len(b))
	}
	copy(n[:], b)
	return n, nil
}

// TypeTag partitions the mutable-data namespace.
type TypeTag uint64

const (
	// TagAccessContainer marks the per-user access container record.
	TagAccessContainer TypeTag = 15000
	// TagAuthenticatorConfig marks authenticator-owned config records.
	TagAuthenticatorConfig TypeTag = 15001
	// TagFirstFree is the lowest tag available to applications.
	TagFirstFree TypeTag = 15100
)

// AppIdentity identifies an application across grants and revocations.
// Scope distinguishes instances that share an id.
type AppIdentity struct {
	ID     string `cbor:"id"`
	Name   string `cbor:"name"`
	Vendor string `cbor:"vendor"`
	Scope  string `cbor:"scope,omitempty"`
}

// Validate rejects identities that cannot be used as container or
// config keys.
func (a AppIdentity) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("app identity missing id")
	}
	if a.Name == "" {
		return fmt.Errorf("app identity missing name")
	}
	return nil
}

// PermissionSet is the request form of container access: one boolean
// per permission axis. The stored, tri-state form lives with the
// mutable-data model.
type PermissionSet struct {
	Read              bool `cbor:"read"`
	Insert            bool `cbor:"insert"`
	Update            bool `cbor:"update"`
	Delete            bool `cbor:"delete"`
	ManagePermissions bool `cbor:"manage_permissions"`
}

// Empty reports whether no axis is requested.
func (p PermissionSet) Empty() bool {
	return p == PermissionSet{}
}

// Key material widths follow NaCl and ed25519.
const (
	SignPubKeyLen = 32
	SignSecKeyLen = 64
	BoxKeyLen     = 32
	SymKeyLen     = 32
	NonceLen      = 24
)

// SignPubKey is an ed25519 public signing key. It doubles as the
// network identity of its holder.
type SignPubKey [SignPubKeyLen]byte

// SignSecKey is an ed25519 private signing key.
type SignSecKey [SignSecKeyLen]byte

// BoxPubKey is a curve25519 public encryption key.
type BoxPubKey [BoxKeyLen]byte

// BoxSecKey is a curve25519 private encryption key.
type BoxSecKey [BoxKeyLen]byte

// SymKey is a secretbox symmetric key.
type SymKey [SymKeyLen]byte

// Nonce is a secretbox nonce.
type Nonce [NonceLen]byte

func (k SignPubKey) String() string { return hex.EncodeToString(k[:8]) }

// User names the subject of a permission entry: either one specific
// signing key or the distinguished "anyone" subject. The zero User is
// not valid; use Anyone or SpecificUser.
type User struct {
	Anyone bool       `cbor:"anyone,omitempty"`
	Key    SignPubKey `cbor:"key,omitempty"`
}

// Anyone is the wildcard user consulted when no entry exists for the
// acting key.
func Anyone() User { return User{Anyone: true} }

// SpecificUser names a single signing key.
func SpecificUser(key SignPubKey) User { return User{Key: key} }

// AppKeys is the key bundle issued to an application on a successful
// grant. It is generated once and becomes unusable after revocation.
type AppKeys struct {
	// OwnerKey is the signing public key of the granting user.
	OwnerKey SignPubKey `cbor:"owner_key"`
	// EncKey is the app's symmetric data-encryption key.
	EncKey SymKey `cbor:"enc_key"`
	// SignPK/SignSK form the app's own signing pair; SignPK is the
	// app's identity on the network.
	SignPK SignPubKey `cbor:"sign_pk"`
	SignSK SignSecKey `cbor:"sign_sk"`
	// EncPK/EncSK form the app's asymmetric encryption pair.
	EncPK BoxPubKey `cbor:"enc_pk"`
	EncSK BoxSecKey `cbor:"enc_sk"`
}

// AccessContInfo locates and decrypts the per-app access container
// record.
type AccessContInfo struct {
	ID    XorName `cbor:"id"`
	Tag   TypeTag `cbor:"tag"`
	Nonce Nonce   `cbor:"nonce"`
}

// CipherOptKind selects the encryption policy for an immutable blob.
type CipherOptKind uint8

const (
	// CipherPlain stores the data map unencrypted.
	CipherPlain CipherOptKind = iota
	// CipherSymmetric seals the data map with the app's EncKey.
	CipherSymmetric
	// CipherAsymmetric seals the data map for a peer's public key.
	CipherAsymmetric
)

// CipherOpt is the encryption policy plus, for the asymmetric case,
// the recipient key.
type CipherOpt struct {
	Kind    CipherOptKind
	PeerKey BoxPubKey
}

// PlainCipherOpt stores content unencrypted.
func PlainCipherOpt() CipherOpt { return CipherOpt{Kind: CipherPlain} }

// SymmetricCipherOpt seals content with the caller's symmetric key.
func SymmetricCipherOpt() CipherOpt { return CipherOpt{Kind: CipherSymmetric} }

// AsymmetricCipherOpt seals content so only the holder of the matching
// secret key can read it.
func AsymmetricCipherOpt(peer BoxPubKey) CipherOpt {
	return CipherOpt{Kind: CipherAsymmetric, PeerKey: peer}
}

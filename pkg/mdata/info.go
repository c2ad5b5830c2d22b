package mdata

import (
	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/types"
)

// Info identifies a record and, for private records, carries the
// keying material for its entry keys and values. Public records carry
// no key material; their entries travel in the clear.
type Info struct {
	Name   types.XorName  `cbor:"name"`
	Tag    types.TypeTag  `cbor:"tag"`
	SymKey *types.SymKey  `cbor:"enc_key,omitempty"`
	Nonce  *types.Nonce   `cbor:"enc_nonce,omitempty"`
}

// NewPublicInfo describes a public record.
func NewPublicInfo(name types.XorName, tag types.TypeTag) Info {
	return Info{Name: name, Tag: tag}
}

// NewPrivateInfo describes a private record with fresh keying
// material.
func NewPrivateInfo(name types.XorName, tag types.TypeTag) (Info, error) {
	key, err := crypt.GenSymKey()
	if err != nil {
		return Info{}, err
	}
	nonce, err := crypt.GenNonce()
	if err != nil {
		return Info{}, err
	}
	return PrivateInfoWith(name, tag, key, nonce), nil
}

// PrivateInfoWith describes a private record with the given keying
// material, e.g. recovered from an access-container entry.
func PrivateInfoWith(name types.XorName, tag types.TypeTag, key types.SymKey, nonce types.Nonce) Info {
	return Info{Name: name, Tag: tag, SymKey: &key, Nonce: &nonce}
}

// Private reports whether the record's entries are encrypted.
func (i Info) Private() bool { return i.SymKey != nil && i.Nonce != nil }

// EncEntryKey encrypts an entry key. The nonce is derived from the
// plaintext and the info nonce so the same key always maps to the same
// stored key, keeping lookups possible. Public infos pass through.
func (i Info) EncEntryKey(key []byte) []byte {
	if !i.Private() {
		return key
	}
	nonce := crypt.DeriveNonce(key, i.Nonce[:])
	return crypt.SealSymWithNonce(key, *i.SymKey, nonce)
}

// DecEntryKey reverses EncEntryKey.
func (i Info) DecEntryKey(stored []byte) ([]byte, error) {
	if !i.Private() {
		return stored, nil
	}
	pt, err := crypt.OpenSym(stored, *i.SymKey)
	if err != nil {
		return nil, errs.E("mdata.DecEntryKey", errs.CryptoError, err)
	}
	return pt, nil
}

// EncEntryValue encrypts an entry value with a fresh nonce. Public
// infos pass through.
func (i Info) EncEntryValue(value []byte) ([]byte, error) {
	if !i.Private() {
		return value, nil
	}
	return crypt.SealSym(value, *i.SymKey)
}

// DecEntryValue reverses EncEntryValue. The store itself never calls
// this: values come back ciphertext-as-stored and callers decrypt
// explicitly.
func (i Info) DecEntryValue(stored []byte) ([]byte, error) {
	if !i.Private() {
		return stored, nil
	}
	pt, err := crypt.OpenSym(stored, *i.SymKey)
	if err != nil {
		return nil, errs.E("mdata.DecEntryValue", errs.CryptoError, err)
	}
	return pt, nil
}

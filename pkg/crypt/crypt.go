// Package crypt bundles the cryptographic primitives used by the haven
// core: blake3 content hashing, sha3 derivations, ed25519 signatures,
// NaCl box/secretbox encryption and sealed (anonymous) boxes.
//
// Symmetric ciphertexts produced here always carry their nonce as a
// prefix, so callers never track nonces separately. Deterministic
// sealing variants derive the nonce from the inputs; they exist for
// content-addressed data where the same plaintext must produce the
// same ciphertext.
package crypt

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/sha3"

	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/types"
)

// Hash returns the blake3 content address of b.
func Hash(b []byte) types.XorName {
	return types.XorName(blake3.Sum256(b))
}

// Sum256 returns the sha3-256 digest of the concatenation of parts.
// Used for key and nonce derivation, never for content addressing.
func Sum256(parts ...[]byte) [32]byte {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// DeriveNonce derives a secretbox nonce from parts.
func DeriveNonce(parts ...[]byte) types.Nonce {
	sum := Sum256(parts...)
	var n types.Nonce
	copy(n[:], sum[:types.NonceLen])
	return n
}

// GenSignKeyPair generates an ed25519 signing pair.
func GenSignKeyPair() (types.SignPubKey, types.SignSecKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return types.SignPubKey{}, types.SignSecKey{}, errs.E("crypt.GenSignKeyPair", errs.CryptoError, err)
	}
	var pk types.SignPubKey
	var sk types.SignSecKey
	copy(pk[:], pub)
	copy(sk[:], priv)
	return pk, sk, nil
}

// GenBoxKeyPair generates a curve25519 encryption pair.
func GenBoxKeyPair() (types.BoxPubKey, types.BoxSecKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return types.BoxPubKey{}, types.BoxSecKey{}, errs.E("crypt.GenBoxKeyPair", errs.CryptoError, err)
	}
	return types.BoxPubKey(*pub), types.BoxSecKey(*priv), nil
}

// GenSymKey generates a random secretbox key.
func GenSymKey() (types.SymKey, error) {
	var k types.SymKey
	if _, err := rand.Read(k[:]); err != nil {
		return types.SymKey{}, errs.E("crypt.GenSymKey", errs.CryptoError, err)
	}
	return k, nil
}

// GenNonce generates a random secretbox nonce.
func GenNonce() (types.Nonce, error) {
	var n types.Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return types.Nonce{}, errs.E("crypt.GenNonce", errs.CryptoError, err)
	}
	return n, nil
}

// NewAppKeys generates the full key bundle for one grant.
func NewAppKeys(owner types.SignPubKey) (types.AppKeys, error) {
	signPK, signSK, err := GenSignKeyPair()
	if err != nil {
		return types.AppKeys{}, err
	}
	encPK, encSK, err := GenBoxKeyPair()
	if err != nil {
		return types.AppKeys{}, err
	}
	encKey, err := GenSymKey()
	if err != nil {
		return types.AppKeys{}, err
	}
	return types.AppKeys{
		OwnerKey: owner,
		EncKey:   encKey,
		SignPK:   signPK,
		SignSK:   signSK,
		EncPK:    encPK,
		EncSK:    encSK,
	}, nil
}

// Sign signs msg with sk.
func Sign(sk types.SignSecKey, msg []byte) []byte {
	return ed25519.Sign(sk[:], msg)
}

// Verify checks sig over msg against pk.
func Verify(pk types.SignPubKey, msg, sig []byte) bool {
	return ed25519.Verify(pk[:], msg, sig)
}

// SealSym encrypts pt under key with a fresh random nonce. The nonce
// is prefixed to the ciphertext.
func SealSym(pt []byte, key types.SymKey) ([]byte, error) {
	nonce, err := GenNonce()
	if err != nil {
		return nil, err
	}
	return sealSym(pt, key, nonce), nil
}

// SealSymWithNonce encrypts pt under key with the given nonce. Same
// inputs always produce the same ciphertext.
func SealSymWithNonce(pt []byte, key types.SymKey, nonce types.Nonce) []byte {
	return sealSym(pt, key, nonce)
}

func sealSym(pt []byte, key types.SymKey, nonce types.Nonce) []byte {
	k := [types.SymKeyLen]byte(key)
	n := [types.NonceLen]byte(nonce)
	return secretbox.Seal(nonce[:], pt, &n, &k)
}

// OpenSym decrypts a nonce-prefixed secretbox ciphertext.
func OpenSym(ct []byte, key types.SymKey) ([]byte, error) {
	const op = "crypt.OpenSym"
	if len(ct) < types.NonceLen {
		return nil, errs.Errorf(op, errs.CryptoError, "ciphertext shorter than nonce")
	}
	var n [types.NonceLen]byte
	copy(n[:], ct[:types.NonceLen])
	k := [types.SymKeyLen]byte(key)
	pt, ok := secretbox.Open(nil, ct[types.NonceLen:], &n, &k)
	if !ok {
		return nil, errs.Errorf(op, errs.CryptoError, "secretbox open failed")
	}
	return pt, nil
}

// SealBox encrypts pt from the sender to the recipient. The nonce is
// prefixed to the ciphertext.
func SealBox(pt []byte, peer types.BoxPubKey, own types.BoxSecKey) ([]byte, error) {
	nonce, err := GenNonce()
	if err != nil {
		return nil, err
	}
	pk := [types.BoxKeyLen]byte(peer)
	sk := [types.BoxKeyLen]byte(own)
	n := [types.NonceLen]byte(nonce)
	return box.Seal(nonce[:], pt, &n, &pk, &sk), nil
}

// SealBoxWithNonce encrypts pt from the sender to the recipient with
// the given nonce. Same inputs always produce the same ciphertext.
func SealBoxWithNonce(pt []byte, peer types.BoxPubKey, own types.BoxSecKey, nonce types.Nonce) []byte {
	pk := [types.BoxKeyLen]byte(peer)
	sk := [types.BoxKeyLen]byte(own)
	n := [types.NonceLen]byte(nonce)
	return box.Seal(nonce[:], pt, &n, &pk, &sk)
}

// OpenBox decrypts a nonce-prefixed box ciphertext.
func OpenBox(ct []byte, peer types.BoxPubKey, own types.BoxSecKey) ([]byte, error) {
	const op = "crypt.OpenBox"
	if len(ct) < types.NonceLen {
		return nil, errs.Errorf(op, errs.CryptoError, "ciphertext shorter than nonce")
	}
	var n [types.NonceLen]byte
	copy(n[:], ct[:types.NonceLen])
	pk := [types.BoxKeyLen]byte(peer)
	sk := [types.BoxKeyLen]byte(own)
	pt, ok := box.Open(nil, ct[types.NonceLen:], &n, &pk, &sk)
	if !ok {
		return nil, errs.Errorf(op, errs.CryptoError, "box open failed")
	}
	return pt, nil
}

// SealAnonymous encrypts pt so only the holder of the matching secret
// key can open it. The sender stays anonymous.
func SealAnonymous(pt []byte, peer types.BoxPubKey) ([]byte, error) {
	pk := [types.BoxKeyLen]byte(peer)
	ct, err := box.SealAnonymous(nil, pt, &pk, rand.Reader)
	if err != nil {
		return nil, errs.E("crypt.SealAnonymous", errs.CryptoError, err)
	}
	return ct, nil
}

// OpenAnonymous decrypts a sealed anonymous box.
func OpenAnonymous(ct []byte, pub types.BoxPubKey, sec types.BoxSecKey) ([]byte, error) {
	pk := [types.BoxKeyLen]byte(pub)
	sk := [types.BoxKeyLen]byte(sec)
	pt, ok := box.OpenAnonymous(nil, ct, &pk, &sk)
	if !ok {
		return nil, errs.Errorf("crypt.OpenAnonymous", errs.CryptoError, "sealed box open failed")
	}
	return pt, nil
}

package immutable

import (
	"golang.org/x/crypto/curve25519"

	"github.com/havenlab/haven/pkg/codec"
	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/types"
)

// Scheme tags prefixing the stored data-map wrapper. The tag is part
// of the addressed bytes, so a reader knows which unwrap to attempt.
const (
	schemePlain byte = iota
	schemeSymmetric
	schemeAsymmetric
)

// Writer accumulates bytes for one immutable blob. Nothing touches the
// network until Close; freeing a writer without closing discards the
// buffered data.
type Writer struct {
	store  chunkStore
	buf    []byte
	closed bool
}

// NewWriter opens a self-encryption writer over the given store.
func NewWriter(store chunkStore) *Writer {
	return &Writer{store: store}
}

// Write appends p to the pending blob. Chunk boundaries are decided by
// content at Close, so the write pattern never affects the result.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errs.E("immutable.Write", errs.HandleInvalid)
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close finalizes the blob: chunks, seals and stores the content, then
// wraps the data map under opt and returns the content address of the
// wrapper. Identical input and key material always yield an identical
// address. keys supplies the EncKey for CipherSymmetric and the EncSK
// for CipherAsymmetric; it may be nil for CipherPlain.
func (w *Writer) Close(opt types.CipherOpt, keys *types.AppKeys) (types.XorName, error) {
	const op = "immutable.Close"

	if w.closed {
		return types.XorName{}, errs.E(op, errs.HandleInvalid)
	}
	w.closed = true

	chunks, err := splitChunks(w.buf)
	if err != nil {
		return types.XorName{}, errs.E(op, errs.NetworkError, err)
	}

	pres := make([]types.XorName, len(chunks))
	for i, c := range chunks {
		pres[i] = crypt.Hash(c)
	}

	dm := dataMap{Size: uint64(len(w.buf)), Chunks: make([]chunkRef, len(chunks))}
	for i, c := range chunks {
		sealed, err := sealChunk(c, chunkKey(pres, i), pres[i])
		if err != nil {
			return types.XorName{}, err
		}
		stored, err := w.store.PutChunk(sealed)
		if err != nil {
			return types.XorName{}, err
		}
		dm.Chunks[i] = chunkRef{Pre: pres[i], Stored: stored, Size: uint64(len(c))}
	}

	raw, err := codec.Marshal(dm)
	if err != nil {
		return types.XorName{}, errs.E(op, errs.DecodeError, err)
	}

	wrapped, err := wrapDataMap(raw, opt, keys)
	if err != nil {
		return types.XorName{}, err
	}

	addr, err := w.store.PutChunk(wrapped)
	if err != nil {
		return types.XorName{}, err
	}
	return addr, nil
}

func wrapDataMap(raw []byte, opt types.CipherOpt, keys *types.AppKeys) ([]byte, error) {
	const op = "immutable.wrapDataMap"

	switch opt.Kind {
	case types.CipherPlain:
		return append([]byte{schemePlain}, raw...), nil

	case types.CipherSymmetric:
		if keys == nil {
			return nil, errs.Errorf(op, errs.CryptoError, "symmetric cipher opt needs app keys")
		}
		// Nonce derived from key and content keeps the stored bytes,
		// and so the address, deterministic per key.
		sum := crypt.Hash(raw)
		nonce := crypt.DeriveNonce(keys.EncKey[:], sum[:])
		sealed := crypt.SealSymWithNonce(raw, keys.EncKey, nonce)
		return append([]byte{schemeSymmetric}, sealed...), nil

	case types.CipherAsymmetric:
		if keys == nil {
			return nil, errs.Errorf(op, errs.CryptoError, "asymmetric cipher opt needs app keys")
		}
		// The "ephemeral" pair is derived from the sender's secret,
		// the recipient key and the content, keeping the address
		// deterministic per fixed key material.
		sum := crypt.Hash(raw)
		ephSec := crypt.Sum256(keys.EncSK[:], opt.PeerKey[:], sum[:])
		ephPub, err := curve25519.X25519(ephSec[:], curve25519.Basepoint)
		if err != nil {
			return nil, errs.E(op, errs.CryptoError, err)
		}
		nonce := crypt.DeriveNonce(ephPub, opt.PeerKey[:], sum[:])
		sealed := crypt.SealBoxWithNonce(raw, opt.PeerKey, types.BoxSecKey(ephSec), nonce)

		out := make([]byte, 0, 1+len(ephPub)+len(sealed))
		out = append(out, schemeAsymmetric)
		out = append(out, ephPub...)
		out = append(out, sealed...)
		return out, nil

	default:
		return nil, errs.Errorf(op, errs.DecodeError, "unknown cipher opt %d", opt.Kind)
	}
}

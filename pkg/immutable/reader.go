package immutable

import (
	"github.com/havenlab/haven/pkg/codec"
	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/types"
)

// Reader reads sub-ranges of an immutable blob, decrypting only the
// chunks a range touches. Freeing a reader releases no network state;
// the content stays addressable forever.
type Reader struct {
	store chunkStore
	dm    dataMap
}

// OpenReader fetches and unwraps the data map at addr. keys supplies
// the EncKey for symmetric wrappers and the EncPK/EncSK pair for
// asymmetric ones; it may be nil for plain content.
func OpenReader(store chunkStore, addr types.XorName, keys *types.AppKeys) (*Reader, error) {
	const op = "immutable.OpenReader"

	wrapped, err := store.GetChunk(addr)
	if err != nil {
		return nil, err
	}
	if len(wrapped) == 0 {
		return nil, errs.Errorf(op, errs.DecodeError, "empty blob")
	}

	var raw []byte
	switch wrapped[0] {
	case schemePlain:
		raw = wrapped[1:]
	case schemeSymmetric:
		if keys == nil {
			return nil, errs.Errorf(op, errs.CryptoError, "blob is symmetric-sealed, no keys supplied")
		}
		raw, err = crypt.OpenSym(wrapped[1:], keys.EncKey)
		if err != nil {
			return nil, err
		}
	case schemeAsymmetric:
		if keys == nil {
			return nil, errs.Errorf(op, errs.CryptoError, "blob is asymmetric-sealed, no keys supplied")
		}
		body := wrapped[1:]
		if len(body) < types.BoxKeyLen {
			return nil, errs.Errorf(op, errs.DecodeError, "asymmetric blob too short")
		}
		var ephPub types.BoxPubKey
		copy(ephPub[:], body[:types.BoxKeyLen])
		raw, err = crypt.OpenBox(body[types.BoxKeyLen:], ephPub, keys.EncSK)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errs.Errorf(op, errs.DecodeError, "unknown scheme tag %d", wrapped[0])
	}

	var dm dataMap
	if err := codec.Unmarshal(raw, &dm); err != nil {
		return nil, errs.E(op, errs.DecodeError, err)
	}
	return &Reader{store: store, dm: dm}, nil
}

// Size returns the plaintext length of the blob.
func (r *Reader) Size() uint64 {
	return r.dm.Size
}

// Read returns length bytes starting at offset. Reading past the end
// is an error; only the chunks overlapping the range are fetched and
// decrypted.
func (r *Reader) Read(offset, length uint64) ([]byte, error) {
	const op = "immutable.Read"

	if offset+length > r.dm.Size {
		return nil, errs.Errorf(op, errs.NotFound,
			"range [%d, %d) outside blob of %d bytes", offset, offset+length, r.dm.Size)
	}
	if length == 0 {
		return []byte{}, nil
	}

	pres := make([]types.XorName, len(r.dm.Chunks))
	for i, c := range r.dm.Chunks {
		pres[i] = c.Pre
	}

	out := make([]byte, 0, length)
	var pos uint64
	for i, ref := range r.dm.Chunks {
		chunkStart := pos
		chunkEnd := pos + ref.Size
		pos = chunkEnd
		if chunkEnd <= offset {
			continue
		}
		if chunkStart >= offset+length {
			break
		}

		sealed, err := r.store.GetChunk(ref.Stored)
		if err != nil {
			return nil, err
		}
		plain, err := openChunk(sealed, chunkKey(pres, i), ref.Pre)
		if err != nil {
			return nil, err
		}
		if uint64(len(plain)) != ref.Size {
			return nil, errs.Errorf(op, errs.DecodeError,
				"chunk %d decrypted to %d bytes, data map says %d", i, len(plain), ref.Size)
		}

		from := uint64(0)
		if offset > chunkStart {
			from = offset - chunkStart
		}
		to := ref.Size
		if offset+length < chunkEnd {
			to = offset + length - chunkStart
		}
		out = append(out, plain[from:to]...)
	}
	return out, nil
}

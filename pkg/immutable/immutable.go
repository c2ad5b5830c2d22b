// Package immutable implements the streaming self-encryption store for
// content-addressed blobs. Written bytes are split into content-defined
// chunks (buzhash), compressed with lzma and sealed with
// XChaCha20-Poly1305 under keys derived from the chunk map itself:
// each chunk's key mixes the pre-encryption hashes of the chunk and its
// neighbours, so the ciphertext of every chunk — and therefore the
// blob's content address — is a pure function of the input and the
// cipher option's key material.
//
// The encrypted data map is wrapped according to a CipherOpt and stored
// as its own chunk; the blob's address is the content address of that
// stored wrapper.
package immutable

import (
	"bytes"
	"io"

	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/types"
)

// chunkRef is one row of the data map.
type chunkRef struct {
	// Pre is the blake3 hash of the plaintext chunk; key material for
	// decryption.
	Pre types.XorName `cbor:"pre"`
	// Stored is the content address of the sealed chunk in the vault.
	Stored types.XorName `cbor:"stored"`
	// Size is the plaintext length, for ranged reads.
	Size uint64 `cbor:"size"`
}

type dataMap struct {
	Size   uint64     `cbor:"size"`
	Chunks []chunkRef `cbor:"chunks"`
}

// chunkStore is the slice of the vault the self-encryptor needs.
type chunkStore interface {
	PutChunk(data []byte) (types.XorName, error)
	GetChunk(name types.XorName) ([]byte, error)
}

func splitChunks(data []byte) ([][]byte, error) {
	bz := chunker.NewBuzhash(bytes.NewReader(data))

	var chunks [][]byte
	for {
		chunk, err := bz.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// chunkKey derives the AEAD key of chunk i from its own plaintext hash
// and those of its neighbours (cyclic), the self-encryption step that
// makes the result a function of the whole input.
func chunkKey(pres []types.XorName, i int) [32]byte {
	n := len(pres)
	prev := pres[(i-1+n)%n]
	next := pres[(i+1)%n]
	return crypt.Sum256(prev[:], pres[i][:], next[:])
}

func chunkNonce(pre types.XorName) []byte {
	nonce := crypt.DeriveNonce(pre[:], []byte("chunk"))
	return nonce[:chacha20poly1305.NonceSizeX]
}

func sealChunk(plain []byte, key [32]byte, pre types.XorName) ([]byte, error) {
	compressed, err := compressLzma(plain)
	if err != nil {
		return nil, errs.E("immutable.sealChunk", errs.CryptoError, err)
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errs.E("immutable.sealChunk", errs.CryptoError, err)
	}
	return aead.Seal(nil, chunkNonce(pre), compressed, nil), nil
}

func openChunk(sealed []byte, key [32]byte, pre types.XorName) ([]byte, error) {
	const op = "immutable.openChunk"

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errs.E(op, errs.CryptoError, err)
	}
	compressed, err := aead.Open(nil, chunkNonce(pre), sealed, nil)
	if err != nil {
		return nil, errs.E(op, errs.CryptoError, err)
	}
	plain, err := decompressLzma(compressed)
	if err != nil {
		return nil, errs.E(op, errs.CryptoError, err)
	}
	return plain, nil
}

func compressLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package immutable

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/types"
)

// memStore is an in-memory chunk store with the vault's addressing.
type memStore struct {
	chunks map[types.XorName][]byte
}

func newMemStore() *memStore {
	return &memStore{chunks: make(map[types.XorName][]byte)}
}

func (s *memStore) PutChunk(data []byte) (types.XorName, error) {
	name := crypt.Hash(data)
	s.chunks[name] = append([]byte(nil), data...)
	return name, nil
}

func (s *memStore) GetChunk(name types.XorName) ([]byte, error) {
	data, ok := s.chunks[name]
	if !ok {
		return nil, errs.E("memStore.GetChunk", errs.NotFound)
	}
	return data, nil
}

func testKeys(t *testing.T) *types.AppKeys {
	t.Helper()
	owner, _, err := crypt.GenSignKeyPair()
	require.NoError(t, err)
	keys, err := crypt.NewAppKeys(owner)
	require.NoError(t, err)
	return &keys
}

func TestPlainWriteReadRoundTrip(t *testing.T) {
	store := newMemStore()

	w := NewWriter(store)
	n, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	addr, err := w.Close(types.PlainCipherOpt(), nil)
	require.NoError(t, err)

	r, err := OpenReader(store, addr, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), r.Size())

	got, err := r.Read(0, 11)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestAddressIndependentOfWritePattern(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	store1 := newMemStore()
	w1 := NewWriter(store1)
	for _, b := range data {
		_, err := w1.Write([]byte{b})
		require.NoError(t, err)
	}
	addr1, err := w1.Close(types.PlainCipherOpt(), nil)
	require.NoError(t, err)

	store2 := newMemStore()
	w2 := NewWriter(store2)
	_, err = w2.Write(data)
	require.NoError(t, err)
	addr2, err := w2.Close(types.PlainCipherOpt(), nil)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
}

func TestSymmetricRoundTripAndDeterminism(t *testing.T) {
	keys := testKeys(t)
	data := []byte("sealed with the app's own key")

	store := newMemStore()
	w := NewWriter(store)
	_, err := w.Write(data)
	require.NoError(t, err)
	addr, err := w.Close(types.SymmetricCipherOpt(), keys)
	require.NoError(t, err)

	// Same content and key material yields the same address.
	store2 := newMemStore()
	w2 := NewWriter(store2)
	_, err = w2.Write(data)
	require.NoError(t, err)
	addr2, err := w2.Close(types.SymmetricCipherOpt(), keys)
	require.NoError(t, err)
	assert.Equal(t, addr, addr2)

	r, err := OpenReader(store, addr, keys)
	require.NoError(t, err)
	got, err := r.Read(0, r.Size())
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// A different key cannot open it and produces a different address.
	other := testKeys(t)
	_, err = OpenReader(store, addr, other)
	assert.True(t, errs.Is(errs.CryptoError, err))

	store3 := newMemStore()
	w3 := NewWriter(store3)
	_, err = w3.Write(data)
	require.NoError(t, err)
	addr3, err := w3.Close(types.SymmetricCipherOpt(), other)
	require.NoError(t, err)
	assert.NotEqual(t, addr, addr3)
}

func TestAsymmetricRoundTrip(t *testing.T) {
	sender := testKeys(t)
	recipient := testKeys(t)
	data := []byte("for the recipient's eyes only")

	store := newMemStore()
	w := NewWriter(store)
	_, err := w.Write(data)
	require.NoError(t, err)
	addr, err := w.Close(types.AsymmetricCipherOpt(recipient.EncPK), sender)
	require.NoError(t, err)

	r, err := OpenReader(store, addr, recipient)
	require.NoError(t, err)
	got, err := r.Read(0, r.Size())
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// A third party cannot open it.
	eavesdropper := testKeys(t)
	_, err = OpenReader(store, addr, eavesdropper)
	assert.True(t, errs.Is(errs.CryptoError, err))
}

func TestRangedReadAcrossChunks(t *testing.T) {
	// Enough data to split into several content-defined chunks.
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 2<<20)
	_, err := rng.Read(data)
	require.NoError(t, err)

	store := newMemStore()
	w := NewWriter(store)
	_, err = w.Write(data)
	require.NoError(t, err)
	addr, err := w.Close(types.PlainCipherOpt(), nil)
	require.NoError(t, err)

	r, err := OpenReader(store, addr, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), r.Size())
	require.Greater(t, len(r.dm.Chunks), 1)

	// A window straddling the first chunk boundary.
	boundary := r.dm.Chunks[0].Size
	got, err := r.Read(boundary-100, 200)
	require.NoError(t, err)
	assert.Equal(t, data[boundary-100:boundary+100], got)

	// A window fully inside a later chunk.
	got, err = r.Read(boundary+50, 10)
	require.NoError(t, err)
	assert.Equal(t, data[boundary+50:boundary+60], got)

	// Tail read up to the exact end.
	got, err = r.Read(uint64(len(data))-17, 17)
	require.NoError(t, err)
	assert.Equal(t, data[len(data)-17:], got)
}

func TestReadPastEnd(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store)
	_, err := w.Write([]byte("short"))
	require.NoError(t, err)
	addr, err := w.Close(types.PlainCipherOpt(), nil)
	require.NoError(t, err)

	r, err := OpenReader(store, addr, nil)
	require.NoError(t, err)
	_, err = r.Read(3, 10)
	assert.Error(t, err)

	got, err := r.Read(5, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriterClosedTwice(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store)
	_, err := w.Write([]byte("x"))
	require.NoError(t, err)
	_, err = w.Close(types.PlainCipherOpt(), nil)
	require.NoError(t, err)

	_, err = w.Write([]byte("y"))
	assert.True(t, errs.Is(errs.HandleInvalid, err))
	_, err = w.Close(types.PlainCipherOpt(), nil)
	assert.True(t, errs.Is(errs.HandleInvalid, err))
}

func TestEncryptedOptionsNeedKeys(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store)
	_, err := w.Write([]byte("x"))
	require.NoError(t, err)
	_, err = w.Close(types.SymmetricCipherOpt(), nil)
	assert.True(t, errs.Is(errs.CryptoError, err))

	keys := testKeys(t)
	w2 := NewWriter(store)
	_, err = w2.Write([]byte("x"))
	require.NoError(t, err)
	addr, err := w2.Close(types.SymmetricCipherOpt(), keys)
	require.NoError(t, err)

	_, err = OpenReader(store, addr, nil)
	assert.True(t, errs.Is(errs.CryptoError, err))
}

func TestEmptyBlob(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store)
	addr, err := w.Close(types.PlainCipherOpt(), nil)
	require.NoError(t, err)

	r, err := OpenReader(store, addr, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Size())
	got, err := r.Read(0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

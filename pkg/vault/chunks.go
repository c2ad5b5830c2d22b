package vault

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/havenlab/haven/pkg/crypt"
	"github.com/havenlab/haven/pkg/types"
)

// PutChunk stores an immutable chunk under its content address.
// Storing the same bytes twice is a no-op and returns the same name.
func (v *Vault) PutChunk(data []byte) (types.XorName, error) {
	const op = "vault.PutChunk"

	name := crypt.Hash(data)
	err := v.update(op, func(txn *badger.Txn) error {
		if _, err := txn.Get(chunkKey(name)); err == nil {
			return nil // content-addressed: already present
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(chunkKey(name), data)
	})
	if err != nil {
		return types.XorName{}, err
	}
	return name, nil
}

// GetChunk fetches an immutable chunk by content address.
func (v *Vault) GetChunk(name types.XorName) ([]byte, error) {
	const op = "vault.GetChunk"

	var data []byte
	err := v.view(op, func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

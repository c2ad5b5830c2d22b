package vault

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/havenlab/haven/pkg/codec"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
)

// CreateMData stores a fresh record. Fails AlreadyExists when the
// network already holds a record at that name/tag.
func (v *Vault) CreateMData(md *mdata.MutableData) error {
	const op = "vault.CreateMData"

	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := marshalRecord(op, md)
	if err != nil {
		return err
	}
	key := mdataKey(md.Name, md.Tag)

	err = v.update(op, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return errs.Errorf(op, errs.AlreadyExists, "record %s tag %d", md.Name, md.Tag)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return err
	}

	v.log.WithFields(logrus.Fields{
		"name": md.Name.String(),
		"tag":  uint64(md.Tag),
	}).Debug("mutable record created")
	return nil
}

// GetMData fetches a record snapshot.
func (v *Vault) GetMData(name types.XorName, tag types.TypeTag) (*mdata.MutableData, error) {
	const op = "vault.GetMData"

	var raw []byte
	err := v.view(op, func(txn *badger.Txn) error {
		item, err := txn.Get(mdataKey(name, tag))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	var md mdata.MutableData
	if err := codec.Unmarshal(raw, &md); err != nil {
		return nil, errs.E(op, errs.DecodeError, err)
	}
	return &md, nil
}

// mutateRecord loads a record, applies fn to it under the vault lock
// and stores the result. fn sees the current committed state, so
// expected-version checks inside it form the commit point.
func (v *Vault) mutateRecord(op string, name types.XorName, tag types.TypeTag, fn func(md *mdata.MutableData) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	md, err := v.GetMData(name, tag)
	if err != nil {
		return err
	}
	if err := fn(md); err != nil {
		return err
	}
	raw, err := marshalRecord(op, md)
	if err != nil {
		return err
	}
	return v.update(op, func(txn *badger.Txn) error {
		return txn.Set(mdataKey(name, tag), raw)
	})
}

// MutateEntries applies an entry-action batch atomically.
func (v *Vault) MutateEntries(name types.XorName, tag types.TypeTag, batch *mdata.EntryActions, requester types.SignPubKey) error {
	return v.mutateRecord("vault.MutateEntries", name, tag, func(md *mdata.MutableData) error {
		return md.Mutate(batch, requester)
	})
}

// SetUserPermissions installs a user permission set, version-checked
// against the record's structural version.
func (v *Vault) SetUserPermissions(name types.XorName, tag types.TypeTag, u types.User, set mdata.PermSet, expectedVersion uint64, requester types.SignPubKey) error {
	return v.mutateRecord("vault.SetUserPermissions", name, tag, func(md *mdata.MutableData) error {
		return md.SetUserPermissions(u, set, expectedVersion, requester)
	})
}

// DelUserPermissions removes a user permission set.
func (v *Vault) DelUserPermissions(name types.XorName, tag types.TypeTag, u types.User, expectedVersion uint64, requester types.SignPubKey) error {
	return v.mutateRecord("vault.DelUserPermissions", name, tag, func(md *mdata.MutableData) error {
		return md.DelUserPermissions(u, expectedVersion, requester)
	})
}

// ChangeOwner transfers record ownership.
func (v *Vault) ChangeOwner(name types.XorName, tag types.TypeTag, newOwner types.SignPubKey, expectedVersion uint64, requester types.SignPubKey) error {
	return v.mutateRecord("vault.ChangeOwner", name, tag, func(md *mdata.MutableData) error {
		return md.ChangeOwner(newOwner, expectedVersion, requester)
	})
}

// Package vault is the local stand-in for the storage network: a
// badger-backed store of mutable records and immutable chunks with the
// network's commit semantics. All record mutations pass through one
// lock, giving the compare-and-swap serialization point that the real
// network provides through consensus: of two racing mutations with the
// same expected version, exactly one wins.
package vault

import (
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"

	"github.com/havenlab/haven/pkg/codec"
	"github.com/havenlab/haven/pkg/errs"
	"github.com/havenlab/haven/pkg/logging"
	"github.com/havenlab/haven/pkg/mdata"
	"github.com/havenlab/haven/pkg/types"
)

const (
	// transientRetries bounds internal retries of transient badger
	// failures before they surface as NetworkError.
	transientRetries = 3
	retryDelay       = 10 * time.Millisecond
)

// Config configures a vault.
type Config struct {
	// Path is the badger data directory. Ignored when InMemory.
	Path string `yaml:"path"`
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool `yaml:"in_memory"`
	// MinimumFreeGB refuses to open when the data path has less free
	// space than this.
	MinimumFreeGB uint64 `yaml:"minimum_free_gb"`
	// Logger is optional; a default stderr logger is used when nil.
	Logger *logrus.Logger `yaml:"-"`
}

// Vault owns the badger instance and the record lock.
type Vault struct {
	mu  sync.Mutex
	db  *badger.DB
	log *logrus.Logger
}

// New opens a vault.
func New(cfg Config) (*Vault, error) {
	const op = "vault.New"

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := checkFreeSpace(cfg.Path, cfg.MinimumFreeGB); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.E(op, errs.NetworkError, err)
	}

	log.WithFields(logrus.Fields{
		"path":      cfg.Path,
		"in_memory": cfg.InMemory,
	}).Debug("vault opened")

	return &Vault{db: db, log: log}, nil
}

// Close syncs and closes the store.
func (v *Vault) Close() error {
	return v.db.Close()
}

func checkFreeSpace(path string, minimumGB uint64) error {
	const op = "vault.checkFreeSpace"

	if minimumGB == 0 {
		return nil
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return errs.E(op, errs.AllocationError, err)
	}
	if usage.Free < minimumGB*1024*1024*1024 {
		return errs.Errorf(op, errs.AllocationError,
			"%d bytes free on %s, need %d GB", usage.Free, path, minimumGB)
	}
	return nil
}

// update runs a badger write transaction, retrying transient conflicts
// a bounded number of times.
func (v *Vault) update(op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < transientRetries; attempt++ {
		err = v.db.Update(fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		v.log.WithField("attempt", attempt+1).Debug("retrying transient store conflict")
		time.Sleep(retryDelay)
	}
	var kindErr *errs.Error
	if errors.As(err, &kindErr) {
		return err
	}
	return errs.E(op, errs.NetworkError, err)
}

func (v *Vault) view(op string, fn func(txn *badger.Txn) error) error {
	err := v.db.View(fn)
	if err == nil {
		return nil
	}
	var kindErr *errs.Error
	if errors.As(err, &kindErr) {
		return err
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errs.E(op, errs.NotFound, err)
	}
	return errs.E(op, errs.NetworkError, err)
}

func mdataKey(name types.XorName, tag types.TypeTag) []byte {
	key := make([]byte, 0, 2+types.XorNameLen+8)
	key = append(key, 'm', ':')
	key = append(key, name[:]...)
	for shift := 56; shift >= 0; shift -= 8 {
		key = append(key, byte(uint64(tag)>>uint(shift)))
	}
	return key
}

func chunkKey(name types.XorName) []byte {
	key := make([]byte, 0, 2+types.XorNameLen)
	key = append(key, 'i', ':')
	key = append(key, name[:]...)
	return key
}

func marshalRecord(op string, md *mdata.MutableData) ([]byte, error) {
	raw, err := codec.Marshal(md)
	if err != nil {
		return nil, errs.E(op, errs.DecodeError, err)
	}
	if len(raw) > mdata.MaxSerializedBytes {
		return nil, errs.Errorf(op, errs.AllocationError,
			"record is %d bytes, limit %d", len(raw), mdata.MaxSerializedBytes)
	}
	return raw, nil
}

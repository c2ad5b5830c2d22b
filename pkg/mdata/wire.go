package mdata

import (
	"sort"

	"github.com/havenlab/haven/pkg/codec"
	"github.com/havenlab/haven/pkg/types"
)

// Entry keys are often ciphertext, so the wire form carries them as
// byte strings instead of CBOR map keys (which must be UTF-8 text).
// Entries are sorted by key so the encoding stays deterministic.
type wireEntry struct {
	Key   []byte `cbor:"key"`
	Value Value  `cbor:"value"`
}

type wireRecord struct {
	Name        types.XorName    `cbor:"name"`
	Tag         types.TypeTag    `cbor:"tag"`
	Entries     []wireEntry      `cbor:"entries"`
	Permissions Permissions      `cbor:"permissions"`
	Owner       types.SignPubKey `cbor:"owner"`
	Version     uint64           `cbor:"version"`
}

// MarshalCBOR implements cbor.Marshaler.
func (md *MutableData) MarshalCBOR() ([]byte, error) {
	wire := wireRecord{
		Name:        md.Name,
		Tag:         md.Tag,
		Entries:     make([]wireEntry, 0, len(md.Entries)),
		Permissions: md.Permissions,
		Owner:       md.Owner,
		Version:     md.Version,
	}
	for k, v := range md.Entries {
		wire.Entries = append(wire.Entries, wireEntry{Key: []byte(k), Value: v})
	}
	sort.Slice(wire.Entries, func(i, j int) bool {
		return string(wire.Entries[i].Key) < string(wire.Entries[j].Key)
	})
	return codec.Marshal(wire)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (md *MutableData) UnmarshalCBOR(data []byte) error {
	var wire wireRecord
	if err := codec.Unmarshal(data, &wire); err != nil {
		return err
	}
	md.Name = wire.Name
	md.Tag = wire.Tag
	md.Permissions = wire.Permissions
	md.Owner = wire.Owner
	md.Version = wire.Version
	md.Entries = make(map[string]Value, len(wire.Entries))
	for _, e := range wire.Entries {
		md.Entries[string(e.Key)] = e.Value
	}
	return nil
}

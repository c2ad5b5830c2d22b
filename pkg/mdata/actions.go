package mdata

// entryActionKind discriminates the batched entry actions.
type entryActionKind uint8

const (
	actInsert entryActionKind = iota
	actUpdate
	actDelete
)

// EntryAction is one step of an atomic mutation batch.
type EntryAction struct {
	kind    entryActionKind
	key     []byte
	value   []byte
	version uint64 // expected current version for update/delete
}

// EntryActions collects entry actions for one Mutate call. The batch
// applies atomically: if any action fails validation, none applies.
type EntryActions struct {
	actions []EntryAction
}

// NewEntryActions returns an empty batch.
func NewEntryActions() *EntryActions {
	return &EntryActions{}
}

// Insert adds a new entry. Fails at mutation time if the key already
// holds a live value.
func (ea *EntryActions) Insert(key, value []byte) *EntryActions {
	ea.actions = append(ea.actions, EntryAction{kind: actInsert, key: key, value: value})
	return ea
}

// Update replaces the value of an existing entry. expectedVersion must
// equal the entry's current version.
func (ea *EntryActions) Update(key, value []byte, expectedVersion uint64) *EntryActions {
	ea.actions = append(ea.actions, EntryAction{kind: actUpdate, key: key, value: value, version: expectedVersion})
	return ea
}

// Delete tombstones an existing entry. expectedVersion must equal the
// entry's current version.
func (ea *EntryActions) Delete(key []byte, expectedVersion uint64) *EntryActions {
	ea.actions = append(ea.actions, EntryAction{kind: actDelete, key: key, version: expectedVersion})
	return ea
}

// Len returns the number of collected actions.
func (ea *EntryActions) Len() int { return len(ea.actions) }

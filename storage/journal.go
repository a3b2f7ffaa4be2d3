package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/userop"
	"github.com/AvaProtocol/aa-sdk-go/storage/schema"
)

// JournalEntry is one sent user operation.
type JournalEntry struct {
	ID            string                `json:"id"`
	Hash          common.Hash           `json:"hash"`
	EntryPoint    common.Address        `json:"entryPoint"`
	Sender        common.Address        `json:"sender"`
	Nonce         *big.Int              `json:"nonce"`
	State         string                `json:"state"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	UserOperation *userop.UserOperation `json:"userOperation"`
}

// States are the states the journal indexes, in lifecycle order.
var States = []string{"building", "signing", "sent", "waiting_for_receipt", "confirmed", "failed"}

// Journal records sent user operations and their latest state so receipt
// polling can be resumed after a timeout or restart.
type Journal struct {
	db Storage
	// serializes read-modify-write of a record and its state index
	mu  sync.Mutex
	now func() time.Time
}

func NewJournal(db Storage) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Record stores res in the "sent" state. A hash already journaled keeps its
// existing record.
func (j *Journal) Record(ctx context.Context, res *userop.Result) error {
	now := j.now()
	entry := &JournalEntry{
		ID:            ulid.Make().String(),
		Hash:          res.Hash,
		EntryPoint:    res.EntryPoint,
		Sender:        res.Request.Sender,
		Nonce:         userop.BigOrZero(res.Request.Nonce),
		State:         "sent",
		CreatedAt:     now,
		UpdatedAt:     now,
		UserOperation: res.Request,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	exists, err := j.db.Exist(schema.UserOpByHashStorageKey(entry.Hash))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return j.db.BatchWrite(map[string][]byte{
		string(schema.UserOpStorageKey(entry.ID)):                     data,
		string(schema.UserOpByHashStorageKey(entry.Hash)):             []byte(entry.ID),
		string(schema.UserOpByStateStorageKey(entry.State, entry.ID)): []byte(entry.Hash.Hex()),
	})
}

// UpdateState moves the record of hash to state.
func (j *Journal) UpdateState(ctx context.Context, hash common.Hash, state string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.get(hash)
	if err != nil {
		return err
	}
	if entry.State == state {
		return nil
	}

	from := schema.UserOpByStateStorageKey(entry.State, entry.ID)
	to := schema.UserOpByStateStorageKey(state, entry.ID)
	if err := j.db.Move(from, to); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", hash.Hex(), state, err)
	}

	entry.State = state
	entry.UpdatedAt = j.now()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return j.db.Set(schema.UserOpStorageKey(entry.ID), data)
}

// Get returns the entry recorded for hash, or ErrNotFound.
func (j *Journal) Get(hash common.Hash) (*JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.get(hash)
}

func (j *Journal) get(hash common.Hash) (*JournalEntry, error) {
	id, err := j.db.GetKey(schema.UserOpByHashStorageKey(hash))
	if err != nil {
		return nil, err
	}
	data, err := j.db.GetKey(schema.UserOpStorageKey(string(id)))
	if err != nil {
		return nil, err
	}
	var entry JournalEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt journal entry %s: %w", id, err)
	}
	return &entry, nil
}

// ListByState returns entries currently in state, oldest first.
func (j *Journal) ListByState(state string) ([]*JournalEntry, error) {
	items, err := j.db.GetByPrefix(schema.UserOpByStateStoragePrefix(state))
	if err != nil {
		return nil, err
	}

	entries := make([]*JournalEntry, 0, len(items))
	for _, item := range items {
		hash := common.HexToHash(strings.TrimSpace(string(item.Value)))
		entry, err := j.Get(hash)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Pending returns entries that were sent but never confirmed or failed.
func (j *Journal) Pending() ([]*JournalEntry, error) {
	sent, err := j.ListByState("sent")
	if err != nil {
		return nil, err
	}
	waiting, err := j.ListByState("waiting_for_receipt")
	if err != nil {
		return nil, err
	}
	return append(sent, waiting...), nil
}

// Count returns how many entries are currently in state.
func (j *Journal) Count(state string) (int64, error) {
	return j.db.CountKeysByPrefix(schema.UserOpByStateStoragePrefix(state))
}

// Counts returns the number of entries in every state.
func (j *Journal) Counts() (map[string]int64, error) {
	counts := make(map[string]int64, len(States))
	for _, state := range States {
		n, err := j.Count(state)
		if err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, nil
}

// Prune deletes confirmed and failed entries last updated before cutoff and
// then compacts the value log. Pending entries are kept whatever their age.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	for _, state := range []string{"confirmed", "failed"} {
		entries, err := j.ListByState(state)
		if err != nil {
			return pruned, err
		}
		for _, entry := range entries {
			if !entry.UpdatedAt.Before(cutoff) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return pruned, err
			}
			if err := j.delete(entry); err != nil {
				return pruned, fmt.Errorf("failed to prune %s: %w", entry.Hash.Hex(), err)
			}
			pruned++
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, j.db.Vacuum()
}

func (j *Journal) delete(entry *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, key := range [][]byte{
		schema.UserOpByStateStorageKey(entry.State, entry.ID),
		schema.UserOpByHashStorageKey(entry.Hash),
		schema.UserOpStorageKey(entry.ID),
	} {
		if err := j.db.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

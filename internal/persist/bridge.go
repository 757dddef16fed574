// Package persist mirrors capture sessions to a durable storage backend.
//
// Writes are queued and applied by a single worker goroutine so event
// handlers never wait on disk. Each save is a full-collection overwrite, so
// a dropped save is repaired by the next mutation of the same tab. Deletes
// are never dropped: a pending delete leaves a tombstone that hides the
// durable copy from Load until the removal lands or a newer save replaces it.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/mediasniff/internal/mediastore"
	"github.com/dgnsrekt/mediasniff/internal/storage"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

// KeyPrefix prefixes every durable tab session key.
const KeyPrefix = "tab_"

// DefaultBufferSize is the write queue capacity used when none is given.
const DefaultBufferSize = 256

const drainTimeout = 5 * time.Second

// Key returns the durable key for a tab.
func Key(tabID int) string {
	return KeyPrefix + strconv.Itoa(tabID)
}

type opKind int

const (
	opSave opKind = iota
	opDelete
)

type writeOp struct {
	kind  opKind
	tabID int
	seq   uint64
	data  []byte
}

// Bridge implements mediastore.Persister over a storage.SessionStorage.
type Bridge struct {
	backend storage.SessionStorage
	writeCh chan writeOp
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once

	mu         sync.Mutex
	seq        uint64
	tombstones map[int]uint64 // tab -> seq of the newest pending delete
	dropped    int64
}

var _ mediastore.Persister = (*Bridge)(nil)

// NewBridge starts the write worker. bufferSize <= 0 uses DefaultBufferSize.
func NewBridge(backend storage.SessionStorage, bufferSize int) *Bridge {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	b := &Bridge{
		backend: backend,
		writeCh:    make(chan writeOp, bufferSize),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		tombstones: make(map[int]uint64),
	}

	b.wg.Add(1)
	go b.writeLoop()

	return b
}

// Save queues an overwrite of the tab's durable snapshot.
func (b *Bridge) Save(tabID int, records []types.CapturedResource) {
	if records == nil {
		records = []types.CapturedResource{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		slog.Warn("snapshot encode failed", "tab_id", tabID, "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed() {
		slog.Debug("persist bridge closed, dropping write", "tab_id", tabID)
		return
	}
	b.seq++
	delete(b.tombstones, tabID)
	select {
	case b.writeCh <- writeOp{kind: opSave, tabID: tabID, seq: b.seq, data: data}:
	default:
		b.dropped++
		slog.Warn("persist write buffer full, dropping write", "tab_id", tabID)
	}
}

// Delete queues removal of the tab's durable snapshot. When the queue is
// full the tombstone alone carries the delete and the worker sweeps it.
func (b *Bridge) Delete(tabID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed() {
		slog.Debug("persist bridge closed, dropping delete", "tab_id", tabID)
		return
	}
	b.seq++
	b.tombstones[tabID] = b.seq
	select {
	case b.writeCh <- writeOp{kind: opDelete, tabID: tabID, seq: b.seq}:
	default:
		slog.Debug("persist write buffer full, deferring delete", "tab_id", tabID)
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

func (b *Bridge) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Dropped reports how many writes were discarded because the queue was full.
func (b *Bridge) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Load reads one tab's durable snapshot. A missing key yields (nil, nil).
func (b *Bridge) Load(ctx context.Context, tabID int) ([]types.CapturedResource, error) {
	if b.pendingDelete(tabID) {
		return nil, nil
	}
	data, ok, err := b.backend.Get(ctx, Key(tabID))
	if err != nil {
		return nil, fmt.Errorf("persist: load tab %d: %w", tabID, err)
	}
	if !ok {
		return nil, nil
	}
	var records []types.CapturedResource
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("persist: decode tab %d: %w", tabID, err)
	}
	return records, nil
}

// RestoreAll repopulates store from every tab_* key. Keys with a non-integer
// suffix or an undecodable value are skipped. It returns the number of tabs
// restored.
func (b *Bridge) RestoreAll(ctx context.Context, store *mediastore.Store) (int, error) {
	items, err := b.backend.List(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("persist: list sessions: %w", err)
	}

	restored := 0
	for key, data := range items {
		tabID, err := strconv.Atoi(strings.TrimPrefix(key, KeyPrefix))
		if err != nil {
			slog.Debug("skipping foreign session key", "key", key)
			continue
		}
		var records []types.CapturedResource
		if err := json.Unmarshal(data, &records); err != nil {
			slog.Warn("skipping undecodable session", "key", key, "error", err)
			continue
		}
		store.Restore(tabID, records)
		restored++
	}
	slog.Info("sessions restored", "tabs", restored)
	return restored, nil
}

func (b *Bridge) pendingDelete(tabID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.tombstones[tabID]
	return ok
}

// Close stops the worker and flushes pending writes and deletes, giving up
// after a fixed timeout. It does not close the backend.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.done)
		b.mu.Unlock()
		b.wg.Wait()

		timeout := time.After(drainTimeout)
		for {
			select {
			case op := <-b.writeCh:
				b.apply(op)
				continue
			case <-timeout:
				slog.Warn("persist bridge close timeout, some writes may be lost")
				return
			default:
			}
			b.sweep()
			return
		}
	})
	return nil
}

func (b *Bridge) writeLoop() {
	defer b.wg.Done()

	for {
		select {
		case op := <-b.writeCh:
			b.apply(op)
			if len(b.writeCh) == 0 {
				b.sweep()
			}
		case <-b.wake:
			if len(b.writeCh) == 0 {
				b.sweep()
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) apply(op writeOp) {
	ctx := context.Background()
	key := Key(op.tabID)

	switch op.kind {
	case opSave:
		b.mu.Lock()
		tomb, deleted := b.tombstones[op.tabID]
		b.mu.Unlock()
		if deleted && tomb > op.seq {
			return
		}
		if err := b.backend.Set(ctx, key, op.data); err != nil {
			slog.Warn("snapshot write failed", "key", key, "error", err)
		}
	case opDelete:
		b.remove(ctx, op.tabID, op.seq)
	}
}

// sweep removes tombstoned tabs whose delete never made it onto the queue.
// Only called with the queue empty, so every earlier save has landed.
func (b *Bridge) sweep() {
	b.mu.Lock()
	pending := make(map[int]uint64, len(b.tombstones))
	for tabID, seq := range b.tombstones {
		pending[tabID] = seq
	}
	b.mu.Unlock()

	ctx := context.Background()
	for tabID, seq := range pending {
		b.remove(ctx, tabID, seq)
	}
}

// remove deletes the durable key and lifts the tombstone if no newer delete
// or save superseded it. A failed removal keeps the tombstone for a retry.
func (b *Bridge) remove(ctx context.Context, tabID int, seq uint64) {
	key := Key(tabID)
	if err := b.backend.Remove(ctx, key); err != nil {
		slog.Warn("snapshot delete failed", "key", key, "error", err)
		return
	}
	b.mu.Lock()
	if b.tombstones[tabID] == seq {
		delete(b.tombstones, tabID)
	}
	b.mu.Unlock()
}

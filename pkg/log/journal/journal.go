// Package journal implements JournalManager (spec §4.D): a segmented,
// rolling write-ahead log. Records are appended to a sequence of
// generation files named "<basePath>.<generation>"; a record never
// straddles a file boundary. The manager tracks per-transaction
// {startAddr, lastAddr} so TransactionPlayer can walk a transaction's
// back-chain, and the timestamp of the last checkpoint it appended
// (LastCheckpoint). RecoveryPlan's scan does not consult that timestamp;
// it starts at address 0.
package journal

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pbeaman/persistit-sub006/pkg/channel"
	"github.com/pbeaman/persistit-sub006/pkg/dberror"
	"github.com/pbeaman/persistit-sub006/pkg/log/record"
	"github.com/pbeaman/persistit-sub006/pkg/ports"
	"github.com/pbeaman/persistit-sub006/pkg/primitives"
)

// Config configures a Manager, in the teacher's small-struct-plus-default
// style (compare wal.CheckpointConfig/DefaultCheckpointConfig).
type Config struct {
	BasePath   string
	BlockSize  int64
	AppendOnly bool
}

// DefaultConfig returns sensible defaults: a 64MB segment size, copy-back
// and segment deletion enabled.
func DefaultConfig(basePath string) Config {
	return Config{BasePath: basePath, BlockSize: 64 * 1024 * 1024, AppendOnly: false}
}

// TransactionMapItem tracks one transaction's chain endpoints within the
// journal, per spec §4.D.
type TransactionMapItem struct {
	StartTs   primitives.Timestamp
	StartAddr primitives.Address
	LastAddr  primitives.Address
}

// Manager is the journal writer and read-path coordinator.
type Manager struct {
	mu sync.Mutex

	basePath   string
	blockSize  int64
	appendOnly bool

	generation   int64
	genStartAddr primitives.Address
	channel      *channel.MediatedChannel
	writeOffset  int64

	txMap          map[primitives.Timestamp]*TransactionMapItem
	lastCheckpoint primitives.Timestamp

	metrics ports.MetricsSink
}

// Open creates or resumes a Manager rooted at cfg.BasePath, opening (or
// creating) generation 0 if no segment files exist yet.
func Open(cfg Config, metrics ports.MetricsSink) (*Manager, error) {
	if cfg.BlockSize <= 0 {
		return nil, dberror.New(dberror.KindInvalidState, "journal block size must be positive")
	}
	m := &Manager{
		basePath:   cfg.BasePath,
		blockSize:  cfg.BlockSize,
		appendOnly: cfg.AppendOnly,
		txMap:      make(map[primitives.Timestamp]*TransactionMapItem),
		metrics:    metrics,
	}
	gen, size, err := findLatestGeneration(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	ch, err := channel.Open(GenerationToFile(cfg.BasePath, gen), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	m.generation = gen
	m.channel = ch
	m.writeOffset = size
	m.genStartAddr = primitives.Address(gen * cfg.BlockSize)
	return m, nil
}

// GenerationToFile derives a segment file's path from its generation,
// per spec §6: "<basePath>.<generation>".
func GenerationToFile(basePath string, generation int64) string {
	return fmt.Sprintf("%s.%d", basePath, generation)
}

// FileToGeneration parses a segment path back to its generation number.
// It is the inverse of GenerationToFile for any path that function
// produced.
func FileToGeneration(basePath, path string) (int64, error) {
	prefix := basePath + "."
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return 0, dberror.New(dberror.KindInvalidState, "path is not a journal segment of this base")
	}
	var gen int64
	if _, err := fmt.Sscanf(path[len(prefix):], "%d", &gen); err != nil {
		return 0, dberror.New(dberror.KindInvalidState, "malformed generation suffix")
	}
	return gen, nil
}

func findLatestGeneration(basePath string) (generation int64, size int64, err error) {
	gen := int64(0)
	for {
		info, statErr := os.Stat(GenerationToFile(basePath, gen+1))
		if statErr != nil {
			break
		}
		gen++
		_ = info
	}
	info, statErr := os.Stat(GenerationToFile(basePath, gen))
	if statErr == nil {
		return gen, info.Size(), nil
	}
	return gen, 0, nil
}

// CurrentAddress returns the next address that will be assigned to an
// appended record.
func (m *Manager) CurrentAddress() primitives.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.genStartAddr + primitives.Address(m.writeOffset)
}

// LastCheckpoint returns the timestamp of the most recently written
// checkpoint record.
func (m *Manager) LastCheckpoint() primitives.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheckpoint
}

// TransactionItem returns a snapshot of a transaction's chain endpoints,
// if still resident in the journal's in-memory map.
func (m *Manager) TransactionItem(startTs primitives.Timestamp) (TransactionMapItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.txMap[startTs]
	if !ok {
		return TransactionMapItem{}, false
	}
	return *item, true
}

// appendLocked writes data at the manager's current write position,
// rolling to a new generation first if data would not fit in the
// remaining space of the current segment. Must be called with m.mu held.
func (m *Manager) appendLocked(data []byte) (primitives.Address, error) {
	remaining := m.blockSize - m.writeOffset
	if int64(len(data)) > remaining {
		if err := m.rollLocked(); err != nil {
			return 0, err
		}
	}
	addr := m.genStartAddr + primitives.Address(m.writeOffset)
	ctx := context.Background()
	if _, err := m.channel.Write(ctx, data, m.writeOffset); err != nil {
		return 0, err
	}
	m.writeOffset += int64(len(data))
	return addr, nil
}

// rollLocked seals the current generation and opens the next one. Rollover
// is serialized with appends since both require m.mu.
func (m *Manager) rollLocked() error {
	if err := m.channel.Force(context.Background(), true); err != nil {
		return err
	}
	if err := m.channel.Close(); err != nil {
		return err
	}
	m.generation++
	m.genStartAddr = primitives.Address(m.generation * m.blockSize)
	m.writeOffset = 0
	ch, err := channel.Open(GenerationToFile(m.basePath, m.generation), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	m.channel = ch
	return nil
}

// Close flushes and closes the active segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.channel.Force(context.Background(), true); err != nil {
		return err
	}
	return m.channel.Close()
}

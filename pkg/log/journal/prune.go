package journal

import (
	"os"

	"github.com/pbeaman/persistit-sub006/pkg/primitives"
)

// PruneObsoleteTransactions drops in-memory transaction-map entries for
// every startTs strictly older than horizon. A transaction only needs its
// chain endpoints tracked until recovery would never again need to
// back-chain into it; once a checkpoint has passed its commit (or it
// rolled back), the entry is dead weight.
func (m *Manager) PruneObsoleteTransactions(horizon primitives.Timestamp) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for ts := range m.txMap {
		if ts.Before(horizon) {
			delete(m.txMap, ts)
			n++
		}
	}
	return n
}

// CopyBack deletes every whole generation file strictly older than the
// generation containing boundary. It is the journal's half of the
// checkpoint/copy-back cycle described in spec §4.D and §9: once a
// CleanupManager-driven copy-back has durably applied every page dirtied
// before boundary, the segments that produced those updates may be
// discarded. AppendOnly disables this: the journal is kept as a complete,
// un-truncated history instead of a bounded recovery window.
func (m *Manager) CopyBack(boundary primitives.Address) (deleted int, err error) {
	m.mu.Lock()
	appendOnly := m.appendOnly
	blockSize := m.blockSize
	basePath := m.basePath
	currentGen := m.generation
	m.mu.Unlock()

	if appendOnly {
		return 0, nil
	}

	boundaryGen := int64(boundary) / blockSize
	for gen := int64(0); gen < boundaryGen && gen < currentGen; gen++ {
		path := GenerationToFile(basePath, gen)
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

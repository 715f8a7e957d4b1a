package journal

import (
	"github.com/pbeaman/persistit-sub006/pkg/dberror"
	"github.com/pbeaman/persistit-sub006/pkg/log/record"
	"github.com/pbeaman/persistit-sub006/pkg/primitives"
)

// AppendInstallVolume writes an IV record binding handle to name/id.
func (m *Manager) AppendInstallVolume(ts primitives.Timestamp, handle primitives.VolumeHandle, name string, id int64) (primitives.Address, error) {
	data, err := record.Encode(record.InstallVolumeRecord{Timestamp: ts, Handle: handle, Name: name, ID: id})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(data)
}

// AppendInstallTree writes an IT record binding handle to volumeHandle/name.
func (m *Manager) AppendInstallTree(ts primitives.Timestamp, handle primitives.TreeHandle, volumeHandle primitives.VolumeHandle, treeName string) (primitives.Address, error) {
	data, err := record.Encode(record.InstallTreeRecord{Timestamp: ts, Handle: handle, VolumeHandle: volumeHandle, TreeName: treeName})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(data)
}

// AppendPageImage writes a PA record snapshotting a dirty page before
// copy-back.
func (m *Manager) AppendPageImage(ts primitives.Timestamp, page primitives.PageAddress, image []byte) (primitives.Address, error) {
	data, err := record.Encode(record.PageImageRecord{Timestamp: ts, Page: page, Image: image})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(data)
}

// AppendTxStart writes a TS record and creates the transaction's map entry.
func (m *Manager) AppendTxStart(startTs primitives.Timestamp) (primitives.Address, error) {
	data, err := record.Encode(record.TxStartRecord{StartTs: startTs})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txMap[startTs]; exists {
		return 0, dberror.New(dberror.KindCorruptJournal, "duplicate transaction start timestamp")
	}
	addr, err := m.appendLocked(data)
	if err != nil {
		return 0, err
	}
	m.txMap[startTs] = &TransactionMapItem{StartTs: startTs}
	return addr, nil
}

// AppendTxCommit writes a TC record, marking startTs committed.
func (m *Manager) AppendTxCommit(startTs primitives.Timestamp) (primitives.Address, error) {
	data, err := record.Encode(record.TxCommitRecord{StartTs: startTs})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(data)
}

// AppendTxRollback writes a TR record and removes startTs's map entry.
func (m *Manager) AppendTxRollback(startTs primitives.Timestamp) (primitives.Address, error) {
	data, err := record.Encode(record.TxRollbackRecord{StartTs: startTs})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, err := m.appendLocked(data)
	if err != nil {
		return 0, err
	}
	delete(m.txMap, startTs)
	return addr, nil
}

// AppendCheckpoint writes a CP record and records it as the last durable
// checkpoint.
func (m *Manager) AppendCheckpoint(ts primitives.Timestamp) (primitives.Address, error) {
	data, err := record.Encode(record.CheckpointRecord{Timestamp: ts})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, err := m.appendLocked(data)
	if err != nil {
		return 0, err
	}
	m.lastCheckpoint = ts
	return addr, nil
}

// AppendTransaction writes startTs's update stream as one or more chained
// TX records (spec §4.D: "Large transactions chain multiple TX records").
// Each payload record must already be fully framed (produced by
// record.Encode on an SR/DR/DT/D0/D1 record). Payload records are packed
// into as few TX chunks as fit the remaining segment space; every chunk
// after the first carries BackchainAddr pointing at the previous chunk,
// and the earliest chunk's BackchainAddr is zero, satisfying the
// back-chain invariant TransactionPlayer relies on.
func (m *Manager) AppendTransaction(startTs, commitTs primitives.Timestamp, payloadRecords [][]byte) (primitives.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, exists := m.txMap[startTs]
	if !exists {
		return 0, dberror.New(dberror.KindCorruptJournal, "AppendTransaction for unknown startTs; TxStart must precede it")
	}

	var lastAddr primitives.Address
	idx := 0
	for idx < len(payloadRecords) {
		chunk, consumed := m.packChunk(payloadRecords[idx:])
		if consumed == 0 {
			return 0, dberror.New(dberror.KindCorruptJournal, "single payload record exceeds journal segment size")
		}
		backchain := item.LastAddr
		data, err := record.Encode(record.TxContainerRecord{
			StartTs: startTs, CommitTs: commitTs, BackchainAddr: backchain, Payload: chunk,
		})
		if err != nil {
			return 0, err
		}
		addr, err := m.appendLocked(data)
		if err != nil {
			return 0, err
		}
		if item.StartAddr.Zero() {
			item.StartAddr = addr
		}
		item.LastAddr = addr
		lastAddr = addr
		idx += consumed
	}
	return lastAddr, nil
}

// packChunk greedily packs whole payload records into a single TX chunk
// that fits the remaining space of the current segment, returning the
// concatenated bytes and how many records were consumed.
func (m *Manager) packChunk(records [][]byte) ([]byte, int) {
	const txFixed = record.HeaderSize + 16 // header + commitTs + backchainAddr
	remaining := m.blockSize - m.writeOffset - txFixed
	if remaining < 0 {
		remaining = 0
	}
	var buf []byte
	n := 0
	for _, rec := range records {
		if int64(len(buf)+len(rec)) > remaining {
			break
		}
		buf = append(buf, rec...)
		n++
	}
	if n == 0 && len(records) > 0 {
		// Nothing fit in what's left of this segment; force a roll and
		// retry against a full, empty segment.
		if err := m.rollLocked(); err == nil {
			remaining = m.blockSize - m.writeOffset - txFixed
			buf = nil
			for _, rec := range records {
				if int64(len(buf)+len(rec)) > remaining {
					break
				}
				buf = append(buf, rec...)
				n++
			}
		}
	}
	return buf, n
}

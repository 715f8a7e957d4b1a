package recovery

import (
	"path/filepath"
	"testing"

	"github.com/pbeaman/persistit-sub006/pkg/dberror"
	"github.com/pbeaman/persistit-sub006/pkg/log/journal"
	"github.com/pbeaman/persistit-sub006/pkg/log/record"
	"github.com/pbeaman/persistit-sub006/pkg/ports"
	"github.com/pbeaman/persistit-sub006/pkg/primitives"
)

func openTestJournal(t *testing.T) *journal.Manager {
	t.Helper()
	dir := t.TempDir()
	cfg := journal.Config{BasePath: filepath.Join(dir, "journal"), BlockSize: 1 << 20}
	m, err := journal.Open(cfg, ports.NopMetricsSink{})
	if err != nil {
		t.Fatalf("open journal failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func storePayload(t *testing.T, ts primitives.Timestamp, tree primitives.TreeHandle, key, value string) []byte {
	t.Helper()
	data, err := record.Encode(record.StoreRecord{Timestamp: ts, TreeHandle: tree, Key: []byte(key), Value: []byte(value)})
	if err != nil {
		t.Fatalf("encode store payload failed: %v", err)
	}
	return data
}

func TestBuildPlanMarksCommittedAndAborted(t *testing.T) {
	j := openTestJournal(t)

	// Transaction A commits.
	if _, err := j.AppendTxStart(1); err != nil {
		t.Fatalf("AppendTxStart(1) failed: %v", err)
	}
	if _, err := j.AppendTransaction(1, 2, [][]byte{storePayload(t, 1, 10, "a", "1")}); err != nil {
		t.Fatalf("AppendTransaction(1) failed: %v", err)
	}
	if _, err := j.AppendTxCommit(1); err != nil {
		t.Fatalf("AppendTxCommit(1) failed: %v", err)
	}

	// Transaction B rolls back.
	if _, err := j.AppendTxStart(3); err != nil {
		t.Fatalf("AppendTxStart(3) failed: %v", err)
	}
	if _, err := j.AppendTransaction(3, 0, [][]byte{storePayload(t, 3, 10, "b", "2")}); err != nil {
		t.Fatalf("AppendTransaction(3) failed: %v", err)
	}
	if _, err := j.AppendTxRollback(3); err != nil {
		t.Fatalf("AppendTxRollback(3) failed: %v", err)
	}

	// Transaction C never resolves (simulating a crash mid-transaction).
	if _, err := j.AppendTxStart(4); err != nil {
		t.Fatalf("AppendTxStart(4) failed: %v", err)
	}

	plan, err := Build(j)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	committed := plan.Committed()
	if len(committed) != 1 {
		t.Fatalf("expected exactly 1 committed transaction, got %d", len(committed))
	}
	if committed[0].StartTs != 1 {
		t.Errorf("expected committed transaction startTs=1, got %d", committed[0].StartTs)
	}

	if plan.Stats.TransactionsStarted != 3 {
		t.Errorf("expected 3 transactions started, got %d", plan.Stats.TransactionsStarted)
	}
	if plan.Stats.TransactionsAborted != 1 {
		t.Errorf("expected 1 transaction aborted, got %d", plan.Stats.TransactionsAborted)
	}
}

func TestBuildPlanCheckpointDropsEarlierCommittedTransaction(t *testing.T) {
	j := openTestJournal(t)

	// Transaction at ts=30 commits at ts=31, then a checkpoint at ts=32
	// durably covers it.
	if _, err := j.AppendTxStart(30); err != nil {
		t.Fatalf("AppendTxStart(30) failed: %v", err)
	}
	if _, err := j.AppendTransaction(30, 31, [][]byte{storePayload(t, 30, 10, "a", "1")}); err != nil {
		t.Fatalf("AppendTransaction(30) failed: %v", err)
	}
	if _, err := j.AppendTxCommit(30); err != nil {
		t.Fatalf("AppendTxCommit(30) failed: %v", err)
	}
	if _, err := j.AppendCheckpoint(32); err != nil {
		t.Fatalf("AppendCheckpoint(32) failed: %v", err)
	}

	// Transaction at ts=40 commits after the checkpoint and must survive.
	if _, err := j.AppendTxStart(40); err != nil {
		t.Fatalf("AppendTxStart(40) failed: %v", err)
	}
	if _, err := j.AppendTransaction(40, 41, [][]byte{storePayload(t, 40, 10, "b", "2")}); err != nil {
		t.Fatalf("AppendTransaction(40) failed: %v", err)
	}
	if _, err := j.AppendTxCommit(40); err != nil {
		t.Fatalf("AppendTxCommit(40) failed: %v", err)
	}

	plan, err := Build(j)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	committed := plan.Committed()
	if len(committed) != 1 {
		t.Fatalf("expected exactly 1 committed transaction after checkpoint, got %d", len(committed))
	}
	if committed[0].StartTs != 40 {
		t.Errorf("expected surviving transaction startTs=40, got %d", committed[0].StartTs)
	}
}

type fakeListener struct {
	stores         []string
	startedTs      []primitives.Timestamp
	endedTs        []primitives.Timestamp
	failKey        string
	wantsLongRec   bool
	convertedCalls int
}

func (f *fakeListener) StartTransaction(addr primitives.Address, startTs, commitTs primitives.Timestamp) error {
	f.startedTs = append(f.startedTs, startTs)
	return nil
}

func (f *fakeListener) Store(tree primitives.TreeHandle, key, value []byte) error {
	if string(key) == f.failKey {
		return dberror.New(dberror.KindIo, "simulated store failure")
	}
	f.stores = append(f.stores, string(key)+"="+string(value))
	return nil
}
func (f *fakeListener) RangeDelete(primitives.TreeHandle, []byte, int, []byte) error { return nil }
func (f *fakeListener) TreeDelete(primitives.TreeHandle) error                       { return nil }
func (f *fakeListener) AccumulatorDelta(primitives.TreeHandle, uint32, uint8, bool, int64) error {
	return nil
}

func (f *fakeListener) EndTransaction(addr primitives.Address, startTs primitives.Timestamp) error {
	f.endedTs = append(f.endedTs, startTs)
	return nil
}

func (f *fakeListener) WantsLongRecordConversion() bool { return f.wantsLongRec }

func (f *fakeListener) ConvertLongRecord(raw []byte) ([]byte, error) {
	f.convertedCalls++
	out := make([]byte, len(raw))
	copy(out, raw)
	return append(out, []byte("-converted")...), nil
}

func TestApplyAllCommittedTransactionsReplaysChainInOrder(t *testing.T) {
	j := openTestJournal(t)

	if _, err := j.AppendTxStart(1); err != nil {
		t.Fatalf("AppendTxStart failed: %v", err)
	}
	if _, err := j.AppendTransaction(1, 2, [][]byte{storePayload(t, 1, 10, "a", "1")}); err != nil {
		t.Fatalf("first AppendTransaction failed: %v", err)
	}
	if _, err := j.AppendTransaction(1, 2, [][]byte{storePayload(t, 1, 10, "b", "2")}); err != nil {
		t.Fatalf("second AppendTransaction failed: %v", err)
	}
	if _, err := j.AppendTxCommit(1); err != nil {
		t.Fatalf("AppendTxCommit failed: %v", err)
	}

	plan, err := Build(j)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	listener := &fakeListener{}
	player := NewPlayer(j, listener)
	if err := ApplyAllCommittedTransactions(plan, player); err != nil {
		t.Fatalf("ApplyAllCommittedTransactions failed: %v", err)
	}

	want := []string{"a=1", "b=2"}
	if len(listener.stores) != len(want) {
		t.Fatalf("expected %d stores, got %d: %v", len(want), len(listener.stores), listener.stores)
	}
	for i, w := range want {
		if listener.stores[i] != w {
			t.Errorf("store %d: expected %q, got %q", i, w, listener.stores[i])
		}
	}

	entry := plan.entries[1]
	if entry.State != StateComplete {
		t.Errorf("expected transaction marked COMPLETE after replay, got %s", entry.State)
	}

	if len(listener.startedTs) != 1 || listener.startedTs[0] != 1 {
		t.Errorf("expected StartTransaction(startTs=1) exactly once, got %v", listener.startedTs)
	}
	if len(listener.endedTs) != 1 || listener.endedTs[0] != 1 {
		t.Errorf("expected EndTransaction(startTs=1) exactly once, got %v", listener.endedTs)
	}
}

// TestApplyAllCommittedTransactionsContinuesPastAPerEntryFailure exercises
// spec §4.E step 2 / §7: one committed transaction's replay failure is
// logged and must not abort recovery of the rest, and is reported through
// plan.Stats rather than as a returned error.
func TestApplyAllCommittedTransactionsContinuesPastAPerEntryFailure(t *testing.T) {
	j := openTestJournal(t)

	// Transaction at ts=1 will fail to replay (its store key trips the
	// listener's simulated failure).
	if _, err := j.AppendTxStart(1); err != nil {
		t.Fatalf("AppendTxStart(1) failed: %v", err)
	}
	if _, err := j.AppendTransaction(1, 2, [][]byte{storePayload(t, 1, 10, "poison", "x")}); err != nil {
		t.Fatalf("AppendTransaction(1) failed: %v", err)
	}
	if _, err := j.AppendTxCommit(1); err != nil {
		t.Fatalf("AppendTxCommit(1) failed: %v", err)
	}

	// Transaction at ts=5 must still replay successfully afterward.
	if _, err := j.AppendTxStart(5); err != nil {
		t.Fatalf("AppendTxStart(5) failed: %v", err)
	}
	if _, err := j.AppendTransaction(5, 6, [][]byte{storePayload(t, 5, 10, "ok", "y")}); err != nil {
		t.Fatalf("AppendTransaction(5) failed: %v", err)
	}
	if _, err := j.AppendTxCommit(5); err != nil {
		t.Fatalf("AppendTxCommit(5) failed: %v", err)
	}

	plan, err := Build(j)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(plan.Committed()) != 2 {
		t.Fatalf("expected 2 committed transactions in the plan, got %d", len(plan.Committed()))
	}

	listener := &fakeListener{failKey: "poison"}
	player := NewPlayer(j, listener)
	if err := ApplyAllCommittedTransactions(plan, player); err != nil {
		t.Fatalf("expected ApplyAllCommittedTransactions to report failures via counters, not an error: %v", err)
	}

	if len(listener.stores) != 1 || listener.stores[0] != "ok=y" {
		t.Errorf("expected only the surviving transaction's store to apply, got %v", listener.stores)
	}
	if plan.Stats.TransactionsApplied != 1 {
		t.Errorf("expected 1 transaction applied, got %d", plan.Stats.TransactionsApplied)
	}
	if plan.Stats.TransactionsFailed != 1 {
		t.Errorf("expected 1 transaction failed, got %d", plan.Stats.TransactionsFailed)
	}

	if plan.entries[1].State != StateCommitted {
		t.Errorf("expected the failed transaction to remain COMMITTED, not COMPLETE, got %s", plan.entries[1].State)
	}
	if plan.entries[5].State != StateComplete {
		t.Errorf("expected the surviving transaction marked COMPLETE, got %s", plan.entries[5].State)
	}
}

// TestApplyConvertsLongRecordMarkedValueBeforeStore exercises spec §4.F's
// long-record conversion path: a Store value shaped like the long-record
// marker is converted through the listener before Store sees it, and the
// conversion is handed a private copy rather than the shared read buffer.
func TestApplyConvertsLongRecordMarkedValueBeforeStore(t *testing.T) {
	j := openTestJournal(t)

	longMarker := append([]byte{record.LongRecType}, make([]byte, record.LongRecSize)...)

	if _, err := j.AppendTxStart(1); err != nil {
		t.Fatalf("AppendTxStart failed: %v", err)
	}
	payload, err := record.Encode(record.StoreRecord{Timestamp: 1, TreeHandle: 10, Key: []byte("big"), Value: longMarker})
	if err != nil {
		t.Fatalf("encode store payload failed: %v", err)
	}
	if _, err := j.AppendTransaction(1, 2, [][]byte{payload}); err != nil {
		t.Fatalf("AppendTransaction failed: %v", err)
	}
	if _, err := j.AppendTxCommit(1); err != nil {
		t.Fatalf("AppendTxCommit failed: %v", err)
	}

	plan, err := Build(j)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	listener := &fakeListener{wantsLongRec: true}
	player := NewPlayer(j, listener)
	if err := ApplyAllCommittedTransactions(plan, player); err != nil {
		t.Fatalf("ApplyAllCommittedTransactions failed: %v", err)
	}

	if listener.convertedCalls != 1 {
		t.Errorf("expected ConvertLongRecord called exactly once, got %d", listener.convertedCalls)
	}
	if len(listener.stores) != 1 || listener.stores[0] != "big="+string(longMarker)+"-converted" {
		t.Errorf("expected Store to receive the converted value, got %v", listener.stores)
	}
}

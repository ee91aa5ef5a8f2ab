package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cbergoon/merkletree"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrNotFound = fmt.Errorf("not found in store")

var _ Store = (*LevelStore)(nil)

// LevelStore persists bridge state in a single leveldb instance.
// Compound writes (record plus its index entries) go through one batch
// under a mutex so indexes never drift from the records they point at.
type LevelStore struct {
	mu     sync.Mutex
	db     *leveldb.DB
	logger logrus.FieldLogger
}

func New(path string, logger logrus.FieldLogger) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}

	return &LevelStore{
		db:     db,
		logger: logger,
	}, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func (s *LevelStore) PutTransfer(transfer *model.BridgeTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(transfer)
	if err != nil {
		return fmt.Errorf("marshal transfer %s: %w", transfer.ID, err)
	}

	batch := new(leveldb.Batch)

	// drop the stale status index entry on status change
	if old, err := s.getTransfer(transfer.ID); err == nil && old.Status != transfer.Status {
		batch.Delete(model.TransferStatusKey(old.Status, old.ID))
	}

	batch.Put(model.TransferKey(transfer.ID), data)
	batch.Put(model.TransferStatusKey(transfer.Status, transfer.ID), []byte(transfer.ID))
	batch.Put(model.TransferChainKey(transfer.SrcChainID, transfer.ID), []byte(transfer.ID))
	batch.Put(model.TransferChainKey(transfer.DstChainID, transfer.ID), []byte(transfer.ID))

	return s.db.Write(batch, nil)
}

func (s *LevelStore) GetTransfer(id string) (*model.BridgeTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getTransfer(id)
}

func (s *LevelStore) getTransfer(id string) (*model.BridgeTransfer, error) {
	data, err := s.db.Get(model.TransferKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	transfer := &model.BridgeTransfer{}
	if err := json.Unmarshal(data, transfer); err != nil {
		return nil, fmt.Errorf("unmarshal transfer %s: %w", id, err)
	}

	return transfer, nil
}

func (s *LevelStore) TransfersByStatus(status model.TransferStatus) ([]*model.BridgeTransfer, error) {
	return s.transfersByIndex(model.TransferStatusKey(status, ""))
}

func (s *LevelStore) TransfersByChain(chainID string) ([]*model.BridgeTransfer, error) {
	return s.transfersByIndex(model.TransferChainKey(chainID, ""))
}

func (s *LevelStore) transfersByIndex(prefix []byte) ([]*model.BridgeTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		ids = append(ids, string(iter.Value()))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}

	transfers := make([]*model.BridgeTransfer, 0, len(ids))
	for _, id := range ids {
		transfer, err := s.getTransfer(id)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}

	return transfers, nil
}

func (s *LevelStore) PutSwapState(state *model.AtomicSwapState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal swap state %s: %w", state.SwapID, err)
	}

	return s.db.Put(model.SwapKey(state.TransferID), data, nil)
}

func (s *LevelStore) GetSwapState(transferID string) (*model.AtomicSwapState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.db.Get(model.SwapKey(transferID), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("swap state for transfer %s: %w", transferID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	state := &model.AtomicSwapState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("unmarshal swap state for transfer %s: %w", transferID, err)
	}

	return state, nil
}

func (s *LevelStore) ExpiredNonTerminal(now time.Time) ([]*model.AtomicSwapState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*model.AtomicSwapState
	iter := s.db.NewIterator(util.BytesPrefix([]byte("swap-")), nil)
	for iter.Next() {
		state := &model.AtomicSwapState{}
		if err := json.Unmarshal(iter.Value(), state); err != nil {
			iter.Release()
			return nil, fmt.Errorf("unmarshal swap state %s: %w", iter.Key(), err)
		}

		if !state.Phase.Terminal() && now.After(state.LockExpiry) {
			expired = append(expired, state)
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return expired, nil
}

func (s *LevelStore) AppendHistory(entry *model.TransferHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := uint64(0)
	if raw, err := s.db.Get(model.HistorySeqKey(entry.TransferID), nil); err == nil {
		seq, err = strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt history seq for %s: %w", entry.TransferID, err)
		}
	} else if err != leveldb.ErrNotFound {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(model.HistoryKey(entry.TransferID, seq), data)
	batch.Put(model.HistorySeqKey(entry.TransferID), []byte(strconv.FormatUint(seq+1, 10)))

	return s.db.Write(batch, nil)
}

func (s *LevelStore) History(transferID string) ([]*model.TransferHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*model.TransferHistoryEntry
	iter := s.db.NewIterator(util.BytesPrefix([]byte(fmt.Sprintf("history-%s-", transferID))), nil)
	for iter.Next() {
		entry := &model.TransferHistoryEntry{}
		if err := json.Unmarshal(iter.Value(), entry); err != nil {
			iter.Release()
			return nil, fmt.Errorf("unmarshal history entry %s: %w", iter.Key(), err)
		}
		entries = append(entries, entry)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return entries, nil
}

// HistoryRoot computes the merkle root over a transfer's ordered
// history, an integrity anchor auditors can compare across replicas.
func (s *LevelStore) HistoryRoot(transferID string) ([]byte, error) {
	entries, err := s.History(transferID)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("history of transfer %s: %w", transferID, ErrNotFound)
	}

	contents := make([]merkletree.Content, 0, len(entries))
	for _, entry := range entries {
		contents = append(contents, historyContent{entry: entry})
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, fmt.Errorf("build history tree for %s: %w", transferID, err)
	}

	return tree.MerkleRoot(), nil
}

type historyContent struct {
	entry *model.TransferHistoryEntry
}

func (h historyContent) CalculateHash() ([]byte, error) {
	data, err := json.Marshal(h.entry)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return sum[:], nil
}

func (h historyContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(historyContent)
	if !ok {
		return false, fmt.Errorf("content type mismatch")
	}

	left, err := h.CalculateHash()
	if err != nil {
		return false, err
	}

	right, err := o.CalculateHash()
	if err != nil {
		return false, err
	}

	return string(left) == string(right), nil
}

func (s *LevelStore) PutValidation(validation *model.MultiSigValidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(validation)
	if err != nil {
		return fmt.Errorf("marshal validation for %s: %w", validation.TransferID, err)
	}

	return s.db.Put(model.ValidationKey(validation.TransferID), data, nil)
}

func (s *LevelStore) GetValidation(transferID string) (*model.MultiSigValidation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.db.Get(model.ValidationKey(transferID), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("validation for transfer %s: %w", transferID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	validation := &model.MultiSigValidation{}
	if err := json.Unmarshal(data, validation); err != nil {
		return nil, fmt.Errorf("unmarshal validation for %s: %w", transferID, err)
	}

	return validation, nil
}

func (s *LevelStore) PutValidator(node *model.ValidatorNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal validator %s: %w", node.ID, err)
	}

	return s.db.Put(model.ValidatorKey(node.ID), data, nil)
}

func (s *LevelStore) GetValidator(id string) (*model.ValidatorNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.db.Get(model.ValidatorKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("validator %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	node := &model.ValidatorNode{}
	if err := json.Unmarshal(data, node); err != nil {
		return nil, fmt.Errorf("unmarshal validator %s: %w", id, err)
	}

	return node, nil
}

func (s *LevelStore) Validators() ([]*model.ValidatorNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var nodes []*model.ValidatorNode
	iter := s.db.NewIterator(util.BytesPrefix([]byte("validator-")), nil)
	for iter.Next() {
		node := &model.ValidatorNode{}
		if err := json.Unmarshal(iter.Value(), node); err != nil {
			iter.Release()
			return nil, fmt.Errorf("unmarshal validator %s: %w", iter.Key(), err)
		}
		nodes = append(nodes, node)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return nodes, nil
}

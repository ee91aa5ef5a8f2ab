package store

import (
	"time"

	"github.com/crossmesh/ferry/pkg/model"
)

// Store is the durable record of every transfer, its swap state, its
// audit history and the validator set. Implementations must support
// lookup by status (restart recovery) and the expired-but-not-terminal
// scan the expiry task runs on.
type Store interface {
	PutTransfer(transfer *model.BridgeTransfer) error
	GetTransfer(id string) (*model.BridgeTransfer, error)
	TransfersByStatus(status model.TransferStatus) ([]*model.BridgeTransfer, error)
	TransfersByChain(chainID string) ([]*model.BridgeTransfer, error)

	PutSwapState(state *model.AtomicSwapState) error
	GetSwapState(transferID string) (*model.AtomicSwapState, error)
	ExpiredNonTerminal(now time.Time) ([]*model.AtomicSwapState, error)

	AppendHistory(entry *model.TransferHistoryEntry) error
	History(transferID string) ([]*model.TransferHistoryEntry, error)
	HistoryRoot(transferID string) ([]byte, error)

	PutValidation(validation *model.MultiSigValidation) error
	GetValidation(transferID string) (*model.MultiSigValidation, error)

	PutValidator(node *model.ValidatorNode) error
	GetValidator(id string) (*model.ValidatorNode, error)
	Validators() ([]*model.ValidatorNode, error)

	Close() error
}

package adapter

import (
	"context"
	"fmt"
	"math/big"
)

// Family is the closed set of supported chain families. Dispatch over
// it is exhaustive so an unhandled family is a compile-time smell, not
// a runtime surprise.
type Family int

const (
	FamilyEVM Family = iota
	FamilySolana
	FamilyCosmos
	FamilySubstrate
	FamilyLayer2
	FamilyUTXO
	FamilyGeneric
)

func (f Family) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilySolana:
		return "solana"
	case FamilyCosmos:
		return "cosmos"
	case FamilySubstrate:
		return "substrate"
	case FamilyLayer2:
		return "layer2"
	case FamilyUTXO:
		return "utxo"
	case FamilyGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// ParseFamily maps a config string to a Family.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "evm":
		return FamilyEVM, nil
	case "solana":
		return FamilySolana, nil
	case "cosmos":
		return FamilyCosmos, nil
	case "substrate":
		return FamilySubstrate, nil
	case "layer2":
		return FamilyLayer2, nil
	case "utxo":
		return FamilyUTXO, nil
	case "generic":
		return FamilyGeneric, nil
	default:
		return 0, fmt.Errorf("unknown chain family: %s", s)
	}
}

// TxStatus is the adapter-normalized status of a submitted transaction.
type TxStatus int

const (
	TxUnknown TxStatus = iota
	TxPending
	TxConfirmed
	TxFinalized
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxConfirmed:
		return "confirmed"
	case TxFinalized:
		return "finalized"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChainInfo is the adapter-normalized chain metadata.
type ChainInfo struct {
	ChainID       string
	FinalityDepth uint64
	BlockHeight   uint64
}

// FeeEstimate is the adapter-normalized cost of landing a transfer.
type FeeEstimate struct {
	Asset        string
	Amount       *big.Int
	GasLimit     uint64
	PricePerUnit *big.Int
}

// TransferIntent is the family-agnostic description of the value
// movement an adapter is asked to price or carry out.
type TransferIntent struct {
	From   string
	To     string
	Asset  string
	Amount *big.Int
}

// SignedPayload is an opaque, already-signed transaction blob plus the
// intent it encodes, for adapters that validate before relaying.
type SignedPayload struct {
	Intent TransferIntent
	Raw    []byte
}

// ChainAdapter is the uniform surface every chain family implements.
type ChainAdapter interface {
	// Start starts the adapter
	Start() error
	// Stop stops the adapter and releases its connections
	Stop() error

	// ChainID returns the configured chain id
	ChainID() string
	// Family returns the chain family this adapter speaks
	Family() Family

	// GetBalance queries the balance of the given address
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// GetChainInfo queries chain id, finality depth and current height
	GetChainInfo(ctx context.Context) (*ChainInfo, error)

	// GetTransactionStatus queries the normalized status of txRef
	GetTransactionStatus(ctx context.Context, txRef string) (TxStatus, error)

	// EstimateFee prices the given transfer intent on this chain
	EstimateFee(ctx context.Context, intent *TransferIntent) (*FeeEstimate, error)

	// SendTransaction submits a signed payload and returns its txRef
	SendTransaction(ctx context.Context, payload *SignedPayload) (string, error)
}

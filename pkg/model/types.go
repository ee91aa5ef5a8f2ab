package model

import (
	"math/big"
	"time"
)

// TransferStatus is the lifecycle status of a BridgeTransfer.
type TransferStatus string

const (
	TransferPending        TransferStatus = "pending"
	TransferLocked         TransferStatus = "locked"
	TransferSecretRevealed TransferStatus = "secret_revealed"
	TransferClaimed        TransferStatus = "claimed"
	TransferExpired        TransferStatus = "expired"
	TransferRefunded       TransferStatus = "refunded"
)

// Terminal reports whether the status admits no further transitions.
func (s TransferStatus) Terminal() bool {
	return s == TransferClaimed || s == TransferRefunded
}

// SwapPhase is the HTLC phase of an AtomicSwapState.
type SwapPhase string

const (
	PhaseInitiated      SwapPhase = "initiated"
	PhaseLocked         SwapPhase = "locked"
	PhaseSecretRevealed SwapPhase = "secret_revealed"
	PhaseClaimed        SwapPhase = "claimed"
	PhaseExpired        SwapPhase = "expired"
	PhaseRefunded       SwapPhase = "refunded"
)

// Terminal reports whether the phase admits no further transitions.
func (p SwapPhase) Terminal() bool {
	return p == PhaseClaimed || p == PhaseRefunded
}

// BridgeTransfer is a request to move an asset between two chains.
// It is created on submission and mutated only by the swap engine;
// terminal transfers are kept for audit.
type BridgeTransfer struct {
	ID         string         `json:"id"`
	SrcChainID string         `json:"src_chain_id"`
	DstChainID string         `json:"dst_chain_id"`
	SrcAddress string         `json:"src_address"`
	DstAddress string         `json:"dst_address"`
	Asset      string         `json:"asset"`
	Amount     *big.Int       `json:"amount"`
	Status     TransferStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// AtomicSwapState is the HTLC state attached 1:1 to a BridgeTransfer.
// The secret hash is committed at creation; the secret itself is set
// only on a successful reveal.
type AtomicSwapState struct {
	SwapID     string    `json:"swap_id"`
	TransferID string    `json:"transfer_id"`
	SecretHash []byte    `json:"secret_hash"`
	Secret     []byte    `json:"secret,omitempty"`
	LockExpiry time.Time `json:"lock_expiry"`
	Phase      SwapPhase `json:"phase"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MultiSigValidation tracks quorum progress for one transfer. Signers
// is append-only until the threshold is reached, then the record is
// frozen.
type MultiSigValidation struct {
	TransferID  string            `json:"transfer_id"`
	Threshold   int               `json:"threshold"`
	Signers     []string          `json:"signers"`
	Signatures  map[string][]byte `json:"signatures"`
	StartedAt   time.Time         `json:"started_at"`
	ThresholdAt *time.Time        `json:"threshold_at,omitempty"`
}

// HealthStatus is the liveness classification of a validator node.
type HealthStatus string

const (
	HealthActive    HealthStatus = "active"
	HealthSuspected HealthStatus = "suspected"
	HealthFailed    HealthStatus = "failed"
)

// ValidatorNode is a participant in the validator network. Address is
// the secp256k1 address recovered from the node's signing key.
type ValidatorNode struct {
	ID            string       `json:"id"`
	Address       string       `json:"address"`
	Reputation    int          `json:"reputation"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Health        HealthStatus `json:"health"`
}

// TransferHistoryEntry is one immutable audit record, appended on every
// status or phase transition of a transfer.
type TransferHistoryEntry struct {
	TransferID string    `json:"transfer_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Note       string    `json:"note,omitempty"`
}

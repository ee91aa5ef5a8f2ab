package swap

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/adapter/factory"
	"github.com/crossmesh/ferry/internal/events"
	"github.com/crossmesh/ferry/internal/fee"
	"github.com/crossmesh/ferry/internal/multisig"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/crossmesh/ferry/internal/store"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidRequest = errors.New("invalid transfer request")
	ErrInvalidSecret  = errors.New("secret does not match committed hash")
	ErrQuorumNotMet   = errors.New("quorum not met")
	ErrNotExpired     = errors.New("lock has not expired")
	ErrWrongPhase     = errors.New("operation not allowed in current phase")
)

const actorEngine = "swap_engine"

// finality polling
const (
	finalityPollWait  = 2 * time.Second
	finalityPollLimit = 150
)

// Attestor triggers a signing round across the validator network.
type Attestor interface {
	RequestSignatures(transfer *model.BridgeTransfer)
}

// Engine drives each transfer's HTLC state machine from Initiated to a
// terminal phase. All transitions are strictly ordered, idempotent and
// persisted before any dependent side effect, so value is released on
// at most one chain even across crashes and retries.
type Engine struct {
	factory  *factory.Factory
	st       store.Store
	service  *multisig.Service
	attestor Attestor
	hub      *events.Hub
	fees     *fee.Calculator
	config   repo.Bridge
	logger   logrus.FieldLogger

	locks *keyedLock

	ctx    context.Context
	cancel context.CancelFunc
}

func New(f *factory.Factory, st store.Store, service *multisig.Service, hub *events.Hub,
	fees *fee.Calculator, config repo.Bridge, logger logrus.FieldLogger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		factory: f,
		st:      st,
		service: service,
		hub:     hub,
		fees:    fees,
		config:  config,
		logger:  logger,
		locks:   newKeyedLock(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetAttestor wires the validator network's signing round. Must be
// called before Start.
func (e *Engine) SetAttestor(attestor Attestor) {
	e.attestor = attestor
}

// Start launches the expiry scanner and recovers in-flight transfers.
func (e *Engine) Start() error {
	if err := e.recover(); err != nil {
		return err
	}

	go e.scan()

	e.logger.Info("Swap engine started")

	return nil
}

func (e *Engine) Stop() error {
	e.cancel()
	e.logger.Info("Swap engine stopped")
	return nil
}

// InitiateRequest is the inbound shape of a new transfer.
type InitiateRequest struct {
	SrcChainID string
	DstChainID string
	SrcAddress string
	DstAddress string
	Asset      string
	Amount     *big.Int
}

// Initiate creates the transfer and its swap state in Initiated and
// kicks off the validator signing round. Malformed input is rejected
// before any state is written.
func (e *Engine) Initiate(req *InitiateRequest, secretHash []byte, lockDuration time.Duration) (string, error) {
	if err := e.validate(req, secretHash); err != nil {
		return "", err
	}

	if lockDuration <= 0 {
		lockDuration = e.config.LockDuration
	}

	id, err := newID()
	if err != nil {
		return "", err
	}

	now := time.Now()
	transfer := &model.BridgeTransfer{
		ID:         id,
		SrcChainID: req.SrcChainID,
		DstChainID: req.DstChainID,
		SrcAddress: req.SrcAddress,
		DstAddress: req.DstAddress,
		Asset:      req.Asset,
		Amount:     new(big.Int).Set(req.Amount),
		Status:     model.TransferPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	swapID, err := newID()
	if err != nil {
		return "", err
	}

	state := &model.AtomicSwapState{
		SwapID:     swapID,
		TransferID: id,
		SecretHash: secretHash,
		LockExpiry: now.Add(lockDuration),
		Phase:      model.PhaseInitiated,
		UpdatedAt:  now,
	}

	if err := e.st.PutTransfer(transfer); err != nil {
		return "", fmt.Errorf("persist transfer: %w", err)
	}

	if err := e.st.PutSwapState(state); err != nil {
		return "", fmt.Errorf("persist swap state: %w", err)
	}

	if err := e.st.AppendHistory(&model.TransferHistoryEntry{
		TransferID: id,
		From:       "",
		To:         string(model.PhaseInitiated),
		Timestamp:  now,
		Actor:      actorEngine,
	}); err != nil {
		return "", fmt.Errorf("append history: %w", err)
	}

	e.hub.Publish(events.Event{
		Type:       events.TransferInitiated,
		TransferID: id,
		Phase:      model.PhaseInitiated,
		Timestamp:  now,
	})

	e.logger.WithFields(logrus.Fields{
		"transfer": id,
		"src":      req.SrcChainID,
		"dst":      req.DstChainID,
		"amount":   req.Amount,
	}).Info("Transfer initiated")

	if e.attestor != nil {
		go e.attestor.RequestSignatures(transfer)
	}

	return id, nil
}

func (e *Engine) validate(req *InitiateRequest, secretHash []byte) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	case req.Amount == nil || req.Amount.Sign() <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case req.SrcChainID == req.DstChainID:
		return fmt.Errorf("%w: source and destination chain are the same", ErrInvalidRequest)
	case req.SrcAddress == "" || req.DstAddress == "":
		return fmt.Errorf("%w: empty address", ErrInvalidRequest)
	case req.Asset == "":
		return fmt.Errorf("%w: empty asset", ErrInvalidRequest)
	case len(secretHash) != sha256.Size:
		return fmt.Errorf("%w: secret hash must be %d bytes", ErrInvalidRequest, sha256.Size)
	case !e.factory.Has(req.SrcChainID):
		return fmt.Errorf("%w: source chain %s not configured", ErrInvalidRequest, req.SrcChainID)
	case !e.factory.Has(req.DstChainID):
		return fmt.Errorf("%w: destination chain %s not configured", ErrInvalidRequest, req.DstChainID)
	}

	return nil
}

// Lock escrows the funds on the source chain under the HTLC condition
// and moves the swap to Locked once the lock transaction is final.
// Re-invoking on an already locked swap is a no-op success.
func (e *Engine) Lock(ctx context.Context, transferID string) error {
	unlock := e.locks.Lock(transferID)
	defer unlock()

	transfer, state, err := e.load(transferID)
	if err != nil {
		return err
	}

	if state.Phase != model.PhaseInitiated {
		// already locked or further along; retried callers after a
		// crash must not corrupt state
		return nil
	}

	src, err := e.factory.Get(transfer.SrcChainID)
	if err != nil {
		return err
	}

	payload, err := lockPayload(transfer, state)
	if err != nil {
		return err
	}

	txRef, err := src.SendTransaction(ctx, payload)
	if err != nil {
		return e.submitErr(err, adapter.LockFailed, "lock", transfer)
	}

	if err := e.awaitFinality(ctx, src, txRef, adapter.LockFailed); err != nil {
		return err
	}

	return e.transition(transfer, state, model.PhaseLocked, model.TransferLocked, events.TransferLocked, "")
}

// Reveal checks the secret against the committed hash. The check is
// pure and precedes any chain call: an invalid secret rejects without
// side effects and leaves the swap in Locked. A valid secret moves the
// swap to SecretRevealed and triggers the destination claim.
func (e *Engine) Reveal(ctx context.Context, transferID string, secret []byte) error {
	unlock := e.locks.Lock(transferID)
	defer unlock()

	transfer, state, err := e.load(transferID)
	if err != nil {
		return err
	}

	switch state.Phase {
	case model.PhaseSecretRevealed, model.PhaseClaimed:
		return nil
	case model.PhaseLocked:
	default:
		return fmt.Errorf("%w: reveal in phase %s", ErrWrongPhase, state.Phase)
	}

	digest := sha256.Sum256(secret)
	if !bytes.Equal(digest[:], state.SecretHash) {
		return ErrInvalidSecret
	}

	state.Secret = secret
	if err := e.transition(transfer, state, model.PhaseSecretRevealed, model.TransferSecretRevealed, events.SecretRevealed, ""); err != nil {
		return err
	}

	if err := e.claim(ctx, transfer, state); err != nil {
		if errors.Is(err, ErrQuorumNotMet) {
			// informational: the claim is re-driven once quorum lands
			e.logger.WithField("transfer", transferID).Info("Claim deferred until quorum")
			return nil
		}
		return err
	}

	return nil
}

// Claim releases the funds on the destination chain using the revealed
// secret. It requires quorum authorization and finality of the claim
// transaction before the swap reaches Claimed.
func (e *Engine) Claim(ctx context.Context, transferID string) error {
	unlock := e.locks.Lock(transferID)
	defer unlock()

	transfer, state, err := e.load(transferID)
	if err != nil {
		return err
	}

	if state.Phase == model.PhaseClaimed {
		return nil
	}

	if state.Phase != model.PhaseSecretRevealed {
		return fmt.Errorf("%w: claim in phase %s", ErrWrongPhase, state.Phase)
	}

	return e.claim(ctx, transfer, state)
}

// claim runs with the per-transfer lock held.
func (e *Engine) claim(ctx context.Context, transfer *model.BridgeTransfer, state *model.AtomicSwapState) error {
	reached, err := e.service.CheckQuorum(transfer.ID)
	if err != nil {
		return fmt.Errorf("check quorum for %s: %w", transfer.ID, err)
	}
	if !reached {
		return fmt.Errorf("%w: transfer %s", ErrQuorumNotMet, transfer.ID)
	}

	dst, err := e.factory.Get(transfer.DstChainID)
	if err != nil {
		return err
	}

	payload, err := claimPayload(transfer, state)
	if err != nil {
		return err
	}

	txRef, err := dst.SendTransaction(ctx, payload)
	if err != nil {
		return e.submitErr(err, adapter.ClaimFailed, "claim", transfer)
	}

	if err := e.awaitFinality(ctx, dst, txRef, adapter.ClaimFailed); err != nil {
		return err
	}

	return e.transition(transfer, state, model.PhaseClaimed, model.TransferClaimed, events.TransferClaimed, "")
}

// Expire moves a swap whose lock expired without a claim through
// Expired to Refunded, confirming the refund transaction's finality on
// the source chain. Terminal swaps are left untouched.
func (e *Engine) Expire(ctx context.Context, transferID string) error {
	unlock := e.locks.Lock(transferID)
	defer unlock()

	transfer, state, err := e.load(transferID)
	if err != nil {
		return err
	}

	if state.Phase.Terminal() {
		return nil
	}

	if time.Now().Before(state.LockExpiry) {
		return fmt.Errorf("%w: transfer %s expires at %s", ErrNotExpired, transferID, state.LockExpiry)
	}

	fromInitiated := state.Phase == model.PhaseInitiated

	if state.Phase != model.PhaseExpired {
		if err := e.transition(transfer, state, model.PhaseExpired, model.TransferExpired, events.TransferExpired, ""); err != nil {
			return err
		}
	}

	// nothing reached the source chain before expiry, so there is
	// nothing to refund on-chain
	if fromInitiated {
		return e.transition(transfer, state, model.PhaseRefunded, model.TransferRefunded, events.TransferRefunded, "no funds were locked")
	}

	src, err := e.factory.Get(transfer.SrcChainID)
	if err != nil {
		return err
	}

	payload, err := refundPayload(transfer, state)
	if err != nil {
		return err
	}

	txRef, err := src.SendTransaction(ctx, payload)
	if err != nil {
		return e.submitErr(err, adapter.RefundFailed, "refund", transfer)
	}

	if err := e.awaitFinality(ctx, src, txRef, adapter.RefundFailed); err != nil {
		return err
	}

	return e.transition(transfer, state, model.PhaseRefunded, model.TransferRefunded, events.TransferRefunded, "")
}

// Quote prices a transfer on its destination chain.
func (e *Engine) Quote(ctx context.Context, transferID string) (*fee.Quote, error) {
	transfer, err := e.st.GetTransfer(transferID)
	if err != nil {
		return nil, err
	}

	dst, err := e.factory.Get(transfer.DstChainID)
	if err != nil {
		return nil, err
	}

	return e.fees.Quote(ctx, transfer, dst)
}

// TransferStatus is the caller-visible aggregate of a transfer. It
// always reflects the last persisted phase, never an in-flight one.
type TransferStatus struct {
	Status        model.TransferStatus `json:"status"`
	Phase         model.SwapPhase      `json:"swap_phase"`
	Signers       int                  `json:"signers"`
	Threshold     int                  `json:"threshold"`
	QuorumReached bool                 `json:"quorum_reached"`
}

// Status reports the persisted state of a transfer plus its quorum
// progress.
func (e *Engine) Status(transferID string) (*TransferStatus, error) {
	transfer, state, err := e.load(transferID)
	if err != nil {
		return nil, err
	}

	status := &TransferStatus{
		Status:    transfer.Status,
		Phase:     state.Phase,
		Threshold: e.service.Threshold(),
	}

	if validation, err := e.service.Validation(transferID); err == nil {
		status.Signers = len(validation.Signers)
		status.Threshold = validation.Threshold
		status.QuorumReached = validation.ThresholdAt != nil
	}

	return status, nil
}

func (e *Engine) load(transferID string) (*model.BridgeTransfer, *model.AtomicSwapState, error) {
	transfer, err := e.st.GetTransfer(transferID)
	if err != nil {
		return nil, nil, err
	}

	state, err := e.st.GetSwapState(transferID)
	if err != nil {
		return nil, nil, err
	}

	return transfer, state, nil
}

// transition persists the new phase and appends the audit entry before
// the caller triggers anything that depends on it.
func (e *Engine) transition(transfer *model.BridgeTransfer, state *model.AtomicSwapState,
	phase model.SwapPhase, status model.TransferStatus, event events.Type, note string) error {
	from := state.Phase
	now := time.Now()

	state.Phase = phase
	state.UpdatedAt = now
	if err := e.st.PutSwapState(state); err != nil {
		state.Phase = from
		return fmt.Errorf("persist swap state %s: %w", transfer.ID, err)
	}

	transfer.Status = status
	transfer.UpdatedAt = now
	if err := e.st.PutTransfer(transfer); err != nil {
		return fmt.Errorf("persist transfer %s: %w", transfer.ID, err)
	}

	if err := e.st.AppendHistory(&model.TransferHistoryEntry{
		TransferID: transfer.ID,
		From:       string(from),
		To:         string(phase),
		Timestamp:  now,
		Actor:      actorEngine,
		Note:       note,
	}); err != nil {
		return fmt.Errorf("append history %s: %w", transfer.ID, err)
	}

	e.hub.Publish(events.Event{
		Type:       event,
		TransferID: transfer.ID,
		Phase:      phase,
		Timestamp:  now,
	})

	e.logger.WithFields(logrus.Fields{
		"transfer": transfer.ID,
		"from":     from,
		"to":       phase,
	}).Info("Swap phase transition")

	return nil
}

// awaitFinality polls the adapter until the transaction clears the
// chain's finality depth.
func (e *Engine) awaitFinality(ctx context.Context, ad adapter.ChainAdapter, txRef string, failStatus int) error {
	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := ad.GetTransactionStatus(ctx, txRef)
		if err != nil {
			return err
		}

		switch status {
		case adapter.TxFinalized:
			return nil
		case adapter.TxFailed:
			return &adapter.StatusError{
				Err:    fmt.Sprintf("transaction %s rejected by chain %s", txRef, ad.ChainID()),
				Status: failStatus,
			}
		default:
			return fmt.Errorf("transaction %s on %s not final yet: %s", txRef, ad.ChainID(), status)
		}
	}, strategy.Limit(finalityPollLimit), strategy.Wait(finalityPollWait))
	if err != nil {
		return err
	}

	return nil
}

// submitErr classifies an adapter submission failure: transport-level
// unavailability keeps its recoverable status, chain-level rejection is
// surfaced to operators with the swap left in its prior phase.
func (e *Engine) submitErr(err error, status int, op string, transfer *model.BridgeTransfer) error {
	var se *adapter.StatusError
	if errors.As(err, &se) && se.Status == adapter.ChainUnavailable {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"transfer": transfer.ID,
		"op":       op,
		"error":    err,
	}).Error("Chain rejected submission")

	return &adapter.StatusError{
		Err:    fmt.Sprintf("%s for transfer %s: %v", op, transfer.ID, err),
		Status: status,
	}
}

func newID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// htlcInstruction is the chain-agnostic escrow instruction the family
// adapters translate and relay. Signing the resulting transaction is
// the custody layer's concern, outside this engine.
type htlcInstruction struct {
	Op         string `json:"op"`
	TransferID string `json:"transfer_id"`
	SecretHash string `json:"secret_hash"`
	Secret     string `json:"secret,omitempty"`
	From       string `json:"from"`
	To         string `json:"to"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Expiry     int64  `json:"expiry"`
}

func lockPayload(transfer *model.BridgeTransfer, state *model.AtomicSwapState) (*adapter.SignedPayload, error) {
	return htlcPayload("lock", transfer, state, false)
}

func claimPayload(transfer *model.BridgeTransfer, state *model.AtomicSwapState) (*adapter.SignedPayload, error) {
	return htlcPayload("claim", transfer, state, true)
}

func refundPayload(transfer *model.BridgeTransfer, state *model.AtomicSwapState) (*adapter.SignedPayload, error) {
	return htlcPayload("refund", transfer, state, false)
}

func htlcPayload(op string, transfer *model.BridgeTransfer, state *model.AtomicSwapState, withSecret bool) (*adapter.SignedPayload, error) {
	instruction := &htlcInstruction{
		Op:         op,
		TransferID: transfer.ID,
		SecretHash: hex.EncodeToString(state.SecretHash),
		From:       transfer.SrcAddress,
		To:         transfer.DstAddress,
		Asset:      transfer.Asset,
		Amount:     transfer.Amount.String(),
		Expiry:     state.LockExpiry.Unix(),
	}
	if withSecret {
		instruction.Secret = hex.EncodeToString(state.Secret)
	}

	raw, err := json.Marshal(instruction)
	if err != nil {
		return nil, fmt.Errorf("marshal %s instruction: %w", op, err)
	}

	return &adapter.SignedPayload{
		Intent: adapter.TransferIntent{
			From:   transfer.SrcAddress,
			To:     transfer.DstAddress,
			Asset:  transfer.Asset,
			Amount: transfer.Amount,
		},
		Raw: raw,
	}, nil
}

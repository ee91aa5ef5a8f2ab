package validator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/crossmesh/ferry/internal/adapter/factory"
	"github.com/crossmesh/ferry/internal/multisig"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/crossmesh/ferry/internal/store"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

var ErrNodeNotFound = fmt.Errorf("validator node not found")

// readmitHeartbeats is the number of consecutive heartbeats a failed
// node must land before the re-admission check can pass.
const readmitHeartbeats = 3

var (
	_ multisig.Registry = (*Network)(nil)
	_ multisig.Reporter = (*Network)(nil)
)

type node struct {
	meta       *model.ValidatorNode
	key        *ecdsa.PrivateKey // nil for remote nodes
	consecHB   int
	contradict map[string]string // transferID -> first digest seen
}

// Network is the fixed-size validator set. Each local node
// independently re-derives a transfer's validity from its own view of
// the chains before signing; remote nodes submit through the service
// interface. Reputation moves on participation quality and drives the
// automatic failover that keeps unhealthy nodes out of quorum.
type Network struct {
	mu    sync.RWMutex
	nodes map[string]*node

	config  repo.Validator
	factory *factory.Factory
	service *multisig.Service
	st      store.Store
	logger  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(config repo.Validator, f *factory.Factory, st store.Store, logger logrus.FieldLogger) *Network {
	ctx, cancel := context.WithCancel(context.Background())

	return &Network{
		nodes:   make(map[string]*node),
		config:  config,
		factory: f,
		st:      st,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetService wires the multisig service local nodes submit to. Must be
// called before Start.
func (n *Network) SetService(service *multisig.Service) {
	n.service = service
}

// Register adds a remote validator known only by its address.
func (n *Network) Register(id, address string) error {
	return n.register(&node{
		meta: &model.ValidatorNode{
			ID:            id,
			Address:       address,
			Reputation:    maxReputation,
			LastHeartbeat: time.Now(),
			Health:        model.HealthActive,
		},
	})
}

// RegisterLocal adds an in-process validator with a fresh signing key
// and returns its address.
func (n *Network) RegisterLocal(id string) (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate validator key: %w", err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	err = n.register(&node{
		meta: &model.ValidatorNode{
			ID:            id,
			Address:       address,
			Reputation:    maxReputation,
			LastHeartbeat: time.Now(),
			Health:        model.HealthActive,
		},
		key: key,
	})
	if err != nil {
		return "", err
	}

	return address, nil
}

func (n *Network) register(nd *node) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.nodes[nd.meta.ID]; ok {
		return fmt.Errorf("validator %s already registered", nd.meta.ID)
	}

	nd.contradict = make(map[string]string)
	n.nodes[nd.meta.ID] = nd

	if err := n.st.PutValidator(nd.meta); err != nil {
		delete(n.nodes, nd.meta.ID)
		return fmt.Errorf("persist validator %s: %w", nd.meta.ID, err)
	}

	n.logger.WithFields(logrus.Fields{
		"validator": nd.meta.ID,
		"address":   nd.meta.Address,
		"local":     nd.key != nil,
	}).Info("Validator registered")

	return nil
}

// Start launches the heartbeat monitor and the emitter that keeps
// in-process nodes alive. Remote nodes heartbeat through their own
// processes.
func (n *Network) Start() error {
	go n.emitHeartbeats()
	go n.monitor()
	n.logger.Info("Validator network started")
	return nil
}

func (n *Network) Stop() error {
	n.cancel()
	n.logger.Info("Validator network stopped")
	return nil
}

// Validator implements multisig.Registry.
func (n *Network) Validator(id string) (*model.ValidatorNode, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	nd, ok := n.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	clone := *nd.meta
	return &clone, nil
}

// Eligible implements multisig.Registry: failed nodes stay out of new
// quorum calculations until re-admitted.
func (n *Network) Eligible(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	nd, ok := n.nodes[id]
	return ok && nd.meta.Health != model.HealthFailed
}

// Heartbeat records a liveness signal and drives re-admission of
// previously failed nodes.
func (n *Network) Heartbeat(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	nd, ok := n.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	nd.meta.LastHeartbeat = time.Now()
	nd.consecHB++
	n.adjustLocked(nd, heartbeatBonus)

	switch nd.meta.Health {
	case model.HealthSuspected:
		nd.meta.Health = model.HealthActive
	case model.HealthFailed:
		// re-admission check: sustained heartbeats plus a score
		// back above the floor
		if nd.consecHB >= readmitHeartbeats && nd.meta.Reputation >= n.config.ReputationFloor {
			nd.meta.Health = model.HealthActive
			n.logger.WithField("validator", id).Info("Validator re-admitted")
		}
	}

	return n.st.PutValidator(nd.meta)
}

// Snapshot returns a copy of every node's public state.
func (n *Network) Snapshot() []model.ValidatorNode {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]model.ValidatorNode, 0, len(n.nodes))
	for _, nd := range n.nodes {
		out = append(out, *nd.meta)
	}

	return out
}

// Healthy reports whether the live fraction of the set clears the
// configured liveness threshold. This is independent of the
// authorization threshold the multisig service enforces.
func (n *Network) Healthy() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if len(n.nodes) == 0 {
		return false
	}

	active := 0
	for _, nd := range n.nodes {
		if nd.meta.Health == model.HealthActive {
			active++
		}
	}

	return float64(active)/float64(len(n.nodes)) >= n.config.LivenessThreshold
}

// RequestSignatures asks every eligible local node to independently
// verify the transfer against its own chain view and, if valid, sign
// and submit. Remote nodes are driven by their own processes.
func (n *Network) RequestSignatures(transfer *model.BridgeTransfer) {
	digest := multisig.CanonicalDigest(transfer)

	n.mu.RLock()
	locals := make([]*node, 0, len(n.nodes))
	for _, nd := range n.nodes {
		if nd.key != nil && nd.meta.Health != model.HealthFailed {
			locals = append(locals, nd)
		}
	}
	n.mu.RUnlock()

	var wg sync.WaitGroup
	for _, nd := range locals {
		wg.Add(1)
		go func(nd *node) {
			defer wg.Done()

			if err := n.verifyTransfer(transfer); err != nil {
				n.logger.WithFields(logrus.Fields{
					"validator": nd.meta.ID,
					"transfer":  transfer.ID,
					"error":     err,
				}).Warn("Validator rejected transfer")
				return
			}

			if n.recordContradiction(nd, transfer.ID, digest) {
				return
			}

			signature, err := crypto.Sign(digest, nd.key)
			if err != nil {
				n.logger.WithField("error", err).Error("Sign transfer payload")
				return
			}

			if err := n.service.SubmitSignature(transfer.ID, nd.meta.ID, signature); err != nil {
				n.logger.WithFields(logrus.Fields{
					"validator": nd.meta.ID,
					"transfer":  transfer.ID,
					"error":     err,
				}).Warn("Submit signature")
			}
		}(nd)
	}
	wg.Wait()

	if _, err := n.service.CheckQuorum(transfer.ID); err != nil {
		n.logger.WithField("error", err).Warn("Check quorum after signing round")
	}
}

// verifyTransfer re-derives validity from the node's own chain view
// instead of trusting the bridge service's claim.
func (n *Network) verifyTransfer(transfer *model.BridgeTransfer) error {
	if transfer.Amount == nil || transfer.Amount.Sign() <= 0 {
		return fmt.Errorf("non-positive amount")
	}

	if transfer.SrcChainID == transfer.DstChainID {
		return fmt.Errorf("source and destination chain are the same")
	}

	src, err := n.factory.Get(transfer.SrcChainID)
	if err != nil {
		return fmt.Errorf("source chain: %w", err)
	}

	if _, err := n.factory.Get(transfer.DstChainID); err != nil {
		return fmt.Errorf("destination chain: %w", err)
	}

	ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
	defer cancel()

	balance, err := src.GetBalance(ctx, transfer.SrcAddress)
	if err != nil {
		return fmt.Errorf("query source balance: %w", err)
	}

	if balance.Cmp(transfer.Amount) < 0 {
		return fmt.Errorf("source balance %s below transfer amount %s",
			balance, new(big.Int).Set(transfer.Amount))
	}

	return nil
}

// recordContradiction penalizes a node observed signing two different
// payloads for the same transfer.
func (n *Network) recordContradiction(nd *node, transferID string, digest []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	seen, ok := nd.contradict[transferID]
	if !ok {
		nd.contradict[transferID] = string(digest)
		return false
	}

	if seen != string(digest) {
		n.adjustLocked(nd, -contradictPenalty)
		n.logger.WithFields(logrus.Fields{
			"validator": nd.meta.ID,
			"transfer":  transferID,
		}).Error("Validator signed contradictory payloads")
		return true
	}

	return false
}

func (n *Network) monitor() {
	ticker := time.NewTicker(n.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.sweep()
		case <-n.ctx.Done():
			return
		}
	}
}

// emitHeartbeats beats on behalf of every local node. The interval is
// well inside the suspicion window, so a live process never trips the
// sweep.
func (n *Network) emitHeartbeats() {
	ticker := time.NewTicker(n.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.mu.RLock()
			ids := make([]string, 0, len(n.nodes))
			for id, nd := range n.nodes {
				if nd.key != nil {
					ids = append(ids, id)
				}
			}
			n.mu.RUnlock()

			for _, id := range ids {
				if err := n.Heartbeat(id); err != nil {
					n.logger.WithFields(logrus.Fields{
						"validator": id,
						"error":     err,
					}).Warn("Emit heartbeat")
				}
			}
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Network) tickInterval() time.Duration {
	interval := n.config.HeartbeatTimeout / 4
	if interval <= 0 {
		interval = time.Minute
	}
	return interval
}

// sweep downgrades nodes whose heartbeats have gone quiet. A node past
// half the timeout is suspected, past the full timeout it is failed and
// excluded from quorum until re-admission.
func (n *Network) sweep() {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	for _, nd := range n.nodes {
		silent := now.Sub(nd.meta.LastHeartbeat)

		switch {
		case silent > n.config.HeartbeatTimeout:
			if nd.meta.Health != model.HealthFailed {
				nd.meta.Health = model.HealthFailed
				nd.consecHB = 0
				n.adjustLocked(nd, -missedPenalty)
				n.logger.WithField("validator", nd.meta.ID).Warn("Validator failed over")
				if err := n.st.PutValidator(nd.meta); err != nil {
					n.logger.WithField("error", err).Warn("Persist validator")
				}
			}
		case silent > n.config.HeartbeatTimeout/2:
			if nd.meta.Health == model.HealthActive {
				nd.meta.Health = model.HealthSuspected
				n.logger.WithField("validator", nd.meta.ID).Warn("Validator suspected")
				if err := n.st.PutValidator(nd.meta); err != nil {
					n.logger.WithField("error", err).Warn("Persist validator")
				}
			}
		}
	}
}

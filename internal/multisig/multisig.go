package multisig

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crossmesh/ferry/internal/events"
	"github.com/crossmesh/ferry/internal/store"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownValidator    = fmt.Errorf("signature from unknown validator")
	ErrValidatorIneligible = fmt.Errorf("validator is not eligible for quorum")
	ErrDuplicateSignature  = fmt.Errorf("duplicate signature from validator")
	ErrInvalidSignature    = fmt.Errorf("invalid signature")
	ErrValidationFrozen    = fmt.Errorf("validation already reached threshold")
)

// Registry is the multisig view of the validator network: key lookup
// and quorum eligibility.
type Registry interface {
	Validator(id string) (*model.ValidatorNode, error)
	Eligible(id string) bool
}

// Reporter receives verification outcomes so the validator network can
// adjust reputations. Optional.
type Reporter interface {
	ReportCorrect(validatorID string)
	ReportInvalid(validatorID string)
}

// Service collects independent validator signatures over transfers and
// declares quorum once the configured threshold is met. The signer set
// and signature map of a record mutate together under one lock, and the
// record freezes permanently at threshold.
type Service struct {
	mu          sync.Mutex
	validations map[string]*model.MultiSigValidation

	threshold int
	registry  Registry
	reporter  Reporter
	store     store.Store
	hub       *events.Hub
	logger    logrus.FieldLogger
}

func New(threshold int, registry Registry, st store.Store, hub *events.Hub, logger logrus.FieldLogger) *Service {
	return &Service{
		validations: make(map[string]*model.MultiSigValidation),
		threshold:   threshold,
		registry:    registry,
		store:       st,
		hub:         hub,
		logger:      logger,
	}
}

// SetReporter wires reputation feedback. Must be called before the
// first submission.
func (s *Service) SetReporter(reporter Reporter) {
	s.reporter = reporter
}

// Threshold returns the configured authorization threshold.
func (s *Service) Threshold() int {
	return s.threshold
}

// SubmitSignature verifies and records one validator's signature over
// the transfer's canonical payload. Rejections leave the record
// untouched. Safe for concurrent submission by racing validators.
func (s *Service) SubmitSignature(transferID, validatorID string, signature []byte) error {
	node, err := s.registry.Validator(validatorID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, validatorID)
	}

	if !s.registry.Eligible(validatorID) {
		return fmt.Errorf("%w: %s", ErrValidatorIneligible, validatorID)
	}

	transfer, err := s.store.GetTransfer(transferID)
	if err != nil {
		return fmt.Errorf("load transfer %s: %w", transferID, err)
	}

	// verification is pure and happens before any record mutation
	if err := verify(CanonicalDigest(transfer), signature, node.Address); err != nil {
		if s.reporter != nil {
			s.reporter.ReportInvalid(validatorID)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	validation, err := s.validation(transferID)
	if err != nil {
		return err
	}

	if validation.ThresholdAt != nil {
		return fmt.Errorf("%w: transfer %s", ErrValidationFrozen, transferID)
	}

	if _, signed := validation.Signatures[validatorID]; signed {
		return fmt.Errorf("%w: %s", ErrDuplicateSignature, validatorID)
	}

	// signer list and signature map move as one
	validation.Signers = append(validation.Signers, validatorID)
	validation.Signatures[validatorID] = signature

	if err := s.store.PutValidation(validation); err != nil {
		return fmt.Errorf("persist validation for %s: %w", transferID, err)
	}

	if s.reporter != nil {
		s.reporter.ReportCorrect(validatorID)
	}

	s.hub.Publish(events.Event{
		Type:       events.SignatureReceived,
		TransferID: transferID,
	})

	s.logger.WithFields(logrus.Fields{
		"transfer":  transferID,
		"validator": validatorID,
		"signers":   len(validation.Signers),
		"threshold": s.threshold,
	}).Info("Signature recorded")

	return nil
}

// CheckQuorum reports whether the threshold is met. The first call that
// observes it met stamps the threshold-reached time exactly once and
// freezes the record; later calls are read-only.
func (s *Service) CheckQuorum(transferID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	validation, err := s.validation(transferID)
	if err != nil {
		return false, err
	}

	if len(validation.Signers) < validation.Threshold {
		return false, nil
	}

	if validation.ThresholdAt == nil {
		now := time.Now()
		validation.ThresholdAt = &now

		if err := s.store.PutValidation(validation); err != nil {
			validation.ThresholdAt = nil
			return false, fmt.Errorf("persist quorum for %s: %w", transferID, err)
		}

		s.hub.Publish(events.Event{
			Type:       events.QuorumReached,
			TransferID: transferID,
			Timestamp:  now,
		})

		s.logger.WithFields(logrus.Fields{
			"transfer": transferID,
			"signers":  len(validation.Signers),
			"elapsed":  now.Sub(validation.StartedAt).String(),
		}).Info("Quorum reached")
	}

	return true, nil
}

// Validation returns a copy of the quorum record for status queries.
func (s *Service) Validation(transferID string) (*model.MultiSigValidation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	validation, err := s.validation(transferID)
	if err != nil {
		return nil, err
	}

	clone := *validation
	clone.Signers = append([]string(nil), validation.Signers...)
	clone.Signatures = make(map[string][]byte, len(validation.Signatures))
	for k, v := range validation.Signatures {
		clone.Signatures[k] = v
	}

	return &clone, nil
}

// validation loads or creates the record for transferID. Caller holds
// the service lock.
func (s *Service) validation(transferID string) (*model.MultiSigValidation, error) {
	if validation, ok := s.validations[transferID]; ok {
		return validation, nil
	}

	validation, err := s.store.GetValidation(transferID)
	if err == nil {
		s.validations[transferID] = validation
		return validation, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	validation = &model.MultiSigValidation{
		TransferID: transferID,
		Threshold:  s.threshold,
		Signers:    []string{},
		Signatures: make(map[string][]byte),
		StartedAt:  time.Now(),
	}
	s.validations[transferID] = validation

	return validation, nil
}

// verify recovers the signer address from a 65-byte secp256k1
// signature and matches it against the validator's registered address.
func verify(digest, signature []byte, address string) error {
	if len(signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: unexpected length %d", ErrInvalidSignature, len(signature))
	}

	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), address) {
		return fmt.Errorf("%w: recovered %s, want %s", ErrInvalidSignature, recovered.Hex(), address)
	}

	return nil
}

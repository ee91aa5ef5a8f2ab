package validator

import (
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/sirupsen/logrus"
)

const (
	maxReputation = 100

	heartbeatBonus    = 1
	correctBonus      = 2
	invalidPenalty    = 10
	missedPenalty     = 5
	contradictPenalty = 25
)

// ReportCorrect implements multisig.Reporter.
func (n *Network) ReportCorrect(validatorID string) {
	n.adjust(validatorID, correctBonus)
}

// ReportInvalid implements multisig.Reporter. A score that sinks below
// the configured floor takes the node out of quorum eligibility.
func (n *Network) ReportInvalid(validatorID string) {
	n.adjust(validatorID, -invalidPenalty)
}

func (n *Network) adjust(validatorID string, delta int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	nd, ok := n.nodes[validatorID]
	if !ok {
		return
	}

	n.adjustLocked(nd, delta)
}

// adjustLocked moves a node's reputation within [0, maxReputation] and
// fails the node over when it drops below the floor. Caller holds the
// network lock.
func (n *Network) adjustLocked(nd *node, delta int) {
	score := nd.meta.Reputation + delta
	if score > maxReputation {
		score = maxReputation
	}
	if score < 0 {
		score = 0
	}
	nd.meta.Reputation = score

	if score < n.config.ReputationFloor && nd.meta.Health != model.HealthFailed {
		nd.meta.Health = model.HealthFailed
		nd.consecHB = 0
		n.logger.WithFields(logrus.Fields{
			"validator":  nd.meta.ID,
			"reputation": score,
		}).Warn("Validator failed over on low reputation")
	}

	if err := n.st.PutValidator(nd.meta); err != nil {
		n.logger.WithField("error", err).Warn("Persist validator reputation")
	}
}

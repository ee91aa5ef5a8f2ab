package fee

import (
	"context"
	"fmt"
	"math/big"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/sirupsen/logrus"
)

// basisPointDenominator: 10000 bps = 100%
const basisPointDenominator = 10000

// Quote is the full cost of landing a transfer: the live chain fee
// plus the bridge's configured margin.
type Quote struct {
	ChainFee  *big.Int `json:"chain_fee"`
	BridgeFee *big.Int `json:"bridge_fee"`
	Total     *big.Int `json:"total"`
}

// Calculator prices transfers from live network conditions. The bridge
// margin is basis points of the amount with a configured floor.
type Calculator struct {
	basisPoints int64
	minimum     *big.Int
	logger      logrus.FieldLogger
}

func NewCalculator(config repo.Fee, logger logrus.FieldLogger) (*Calculator, error) {
	minimum, ok := new(big.Int).SetString(config.Minimum, 10)
	if !ok {
		return nil, fmt.Errorf("malformed fee minimum: %q", config.Minimum)
	}

	if config.BasisPoints < 0 || config.BasisPoints > basisPointDenominator {
		return nil, fmt.Errorf("fee basis points out of range: %d", config.BasisPoints)
	}

	return &Calculator{
		basisPoints: config.BasisPoints,
		minimum:     minimum,
		logger:      logger,
	}, nil
}

// Quote prices the transfer on the destination chain, where the claim
// transaction lands.
func (c *Calculator) Quote(ctx context.Context, transfer *model.BridgeTransfer, dst adapter.ChainAdapter) (*Quote, error) {
	estimate, err := dst.EstimateFee(ctx, &adapter.TransferIntent{
		From:   transfer.SrcAddress,
		To:     transfer.DstAddress,
		Asset:  transfer.Asset,
		Amount: transfer.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate chain fee on %s: %w", dst.ChainID(), err)
	}

	bridgeFee := new(big.Int).Mul(transfer.Amount, big.NewInt(c.basisPoints))
	bridgeFee.Div(bridgeFee, big.NewInt(basisPointDenominator))
	if bridgeFee.Cmp(c.minimum) < 0 {
		bridgeFee.Set(c.minimum)
	}

	quote := &Quote{
		ChainFee:  estimate.Amount,
		BridgeFee: bridgeFee,
		Total:     new(big.Int).Add(estimate.Amount, bridgeFee),
	}

	c.logger.WithFields(logrus.Fields{
		"transfer":   transfer.ID,
		"chain_fee":  quote.ChainFee,
		"bridge_fee": quote.BridgeFee,
	}).Debug("Transfer priced")

	return quote, nil
}

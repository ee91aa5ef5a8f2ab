package layer2

import (
	"context"
	"math/big"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/adapter/evm"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

var _ adapter.ChainAdapter = (*Adapter)(nil)

// l1DataGas approximates the calldata gas a rollup pays on its L1 for
// posting one plain transfer
const l1DataGas = 1600

// Adapter wraps an EVM adapter for optimistic/zk rollups. Execution is
// plain EVM; the fee model adds the L1 data cost and finality tracks
// the rollup's own (deeper) confirmation depth.
type Adapter struct {
	*evm.Adapter
	client *adapter.Client
}

func New(config *repo.Chain, logger logrus.FieldLogger) (*Adapter, error) {
	inner, err := evm.New(config, logger)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		Adapter: inner,
		client:  adapter.NewClient(config.Endpoint),
	}, nil
}

func (a *Adapter) Family() adapter.Family {
	return adapter.FamilyLayer2
}

func (a *Adapter) Start() error {
	a.Logger().WithField("chain", a.ChainID()).Info("Layer2 adapter started")
	return nil
}

func (a *Adapter) EstimateFee(ctx context.Context, intent *adapter.TransferIntent) (*adapter.FeeEstimate, error) {
	l2, err := a.Adapter.EstimateFee(ctx, intent)
	if err != nil {
		return nil, err
	}

	var l1Price *big.Int
	err = a.Call(ctx, "rollup_gasPrices", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "rollup_gasPrices", nil)
		if err != nil {
			return err
		}

		l1Price, err = hexutil.DecodeBig(res.Get("l1GasPrice").String())
		return err
	})
	if err != nil {
		// nodes without the rollup namespace still price execution
		a.Logger().WithFields(logrus.Fields{
			"chain": a.ChainID(),
			"error": err,
		}).Debug("L1 data fee unavailable, quoting execution only")
		return l2, nil
	}

	l1Fee := new(big.Int).Mul(l1Price, big.NewInt(l1DataGas))
	l2.Amount = new(big.Int).Add(l2.Amount, l1Fee)

	return l2, nil
}

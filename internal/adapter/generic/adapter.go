package generic

import (
	"context"
	"fmt"
	"math/big"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/sirupsen/logrus"
)

var _ adapter.ChainAdapter = (*Adapter)(nil)

// Adapter is the fallback for chains with bespoke JSON-RPC surfaces.
// Method names and result paths come from the chain config's extra
// table, so onboarding such a chain is a config change, not code.
//
// Recognized extra keys (defaults in parentheses):
//
//	method_balance (getBalance)    result_balance (balance)
//	method_height  (getHeight)     result_height  (height)
//	method_status  (getTransaction) result_confirmations (confirmations)
//	method_fee     (estimateFee)   result_fee     (fee)
//	method_send    (sendTransaction) result_txref (hash)
type Adapter struct {
	*adapter.Base
	client *adapter.Client
}

func New(config *repo.Chain, logger logrus.FieldLogger) (*Adapter, error) {
	base, err := adapter.NewBase(config, adapter.FamilyGeneric, logger)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		Base:   base,
		client: adapter.NewClient(config.Endpoint),
	}, nil
}

func (a *Adapter) Start() error {
	a.Logger().WithField("chain", a.ChainID()).Info("Generic adapter started")
	return nil
}

func (a *Adapter) Stop() error {
	a.Logger().WithField("chain", a.ChainID()).Info("Generic adapter stopped")
	return nil
}

func (a *Adapter) extra(key, fallback string) string {
	if v, ok := a.Config().Extra[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := a.Call(ctx, "balance", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, a.extra("method_balance", "getBalance"), []interface{}{address})
		if err != nil {
			return err
		}

		raw := res.Get(a.extra("result_balance", "balance"))
		parsed, ok := new(big.Int).SetString(raw.String(), 10)
		if !ok {
			return fmt.Errorf("malformed balance %q for %s", raw.String(), address)
		}

		balance = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

func (a *Adapter) GetChainInfo(ctx context.Context) (*adapter.ChainInfo, error) {
	var height uint64
	err := a.Call(ctx, "height", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, a.extra("method_height", "getHeight"), nil)
		if err != nil {
			return err
		}

		height = res.Get(a.extra("result_height", "height")).Uint()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &adapter.ChainInfo{
		ChainID:       a.ChainID(),
		FinalityDepth: a.FinalityDepth(),
		BlockHeight:   height,
	}, nil
}

func (a *Adapter) GetTransactionStatus(ctx context.Context, txRef string) (adapter.TxStatus, error) {
	if status, ok := a.CachedStatus(txRef); ok {
		return status, nil
	}

	status := adapter.TxUnknown
	err := a.Call(ctx, "status", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, a.extra("method_status", "getTransaction"), []interface{}{txRef})
		if err != nil {
			return err
		}

		if !res.Exists() || res.Raw == "null" {
			status = adapter.TxPending
			return nil
		}

		confirmations := res.Get(a.extra("result_confirmations", "confirmations")).Uint()
		switch {
		case confirmations == 0:
			status = adapter.TxPending
		case confirmations >= a.FinalityDepth():
			status = adapter.TxFinalized
		default:
			status = adapter.TxConfirmed
		}

		return nil
	})
	if err != nil {
		return adapter.TxUnknown, err
	}

	a.CacheStatus(txRef, status)

	return status, nil
}

func (a *Adapter) EstimateFee(ctx context.Context, intent *adapter.TransferIntent) (*adapter.FeeEstimate, error) {
	var fee *big.Int
	err := a.Call(ctx, "fee", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, a.extra("method_fee", "estimateFee"), nil)
		if err != nil {
			return err
		}

		fee = big.NewInt(res.Get(a.extra("result_fee", "fee")).Int())
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &adapter.FeeEstimate{
		Asset:        intent.Asset,
		Amount:       fee,
		GasLimit:     1,
		PricePerUnit: fee,
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, payload *adapter.SignedPayload) (string, error) {
	var txRef string
	err := a.Call(ctx, "send", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, a.extra("method_send", "sendTransaction"),
			[]interface{}{fmt.Sprintf("%x", payload.Raw)})
		if err != nil {
			return err
		}

		ref := res.Get(a.extra("result_txref", "hash"))
		if ref.Exists() {
			txRef = ref.String()
		} else {
			txRef = res.String()
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return txRef, nil
}

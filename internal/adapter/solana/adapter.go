package solana

import (
	"context"
	"encoding/base64"
	"math/big"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/sirupsen/logrus"
)

var _ adapter.ChainAdapter = (*Adapter)(nil)

// Adapter speaks the Solana-style JSON-RPC surface: slot-based heights,
// commitment levels instead of confirmation depth, lamport fees per
// signature.
type Adapter struct {
	*adapter.Base
	client *adapter.Client
}

func New(config *repo.Chain, logger logrus.FieldLogger) (*Adapter, error) {
	base, err := adapter.NewBase(config, adapter.FamilySolana, logger)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		Base:   base,
		client: adapter.NewClient(config.Endpoint),
	}, nil
}

func (a *Adapter) Start() error {
	a.Logger().WithField("chain", a.ChainID()).Info("Solana adapter started")
	return nil
}

func (a *Adapter) Stop() error {
	a.Logger().WithField("chain", a.ChainID()).Info("Solana adapter stopped")
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := a.Call(ctx, "getBalance", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "getBalance", []interface{}{address})
		if err != nil {
			return err
		}

		balance = big.NewInt(res.Get("value").Int())
		return nil
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

func (a *Adapter) GetChainInfo(ctx context.Context) (*adapter.ChainInfo, error) {
	var slot uint64
	err := a.Call(ctx, "getSlot", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "getSlot",
			[]interface{}{map[string]string{"commitment": "finalized"}})
		if err != nil {
			return err
		}

		slot = res.Uint()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &adapter.ChainInfo{
		ChainID:       a.ChainID(),
		FinalityDepth: a.FinalityDepth(),
		BlockHeight:   slot,
	}, nil
}

func (a *Adapter) GetTransactionStatus(ctx context.Context, txRef string) (adapter.TxStatus, error) {
	if status, ok := a.CachedStatus(txRef); ok {
		return status, nil
	}

	status := adapter.TxUnknown
	err := a.Call(ctx, "getSignatureStatuses", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "getSignatureStatuses", []interface{}{
			[]string{txRef},
			map[string]bool{"searchTransactionHistory": true},
		})
		if err != nil {
			return err
		}

		entry := res.Get("value.0")
		if !entry.Exists() || entry.Raw == "null" {
			status = adapter.TxPending
			return nil
		}

		if entry.Get("err").Raw != "null" && entry.Get("err").Exists() {
			status = adapter.TxFailed
			return nil
		}

		switch entry.Get("confirmationStatus").String() {
		case "finalized":
			status = adapter.TxFinalized
		case "confirmed":
			status = adapter.TxConfirmed
		default:
			status = adapter.TxPending
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
	var lamports int64
	err := a.Call(ctx, "getFees", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "getFees", nil)
		if err != nil {
			return err
		}

		lamports = res.Get("value.feeCalculator.lamportsPerSignature").Int()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &adapter.FeeEstimate{
		Asset:        intent.Asset,
		Amount:       big.NewInt(lamports),
		GasLimit:     1,
		PricePerUnit: big.NewInt(lamports),
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, payload *adapter.SignedPayload) (string, error) {
	var txRef string
	err := a.Call(ctx, "sendTransaction", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "sendTransaction", []interface{}{
			base64.StdEncoding.EncodeToString(payload.Raw),
			map[string]string{"encoding": "base64"},
		})
		if err != nil {
			return err
		}

		txRef = res.String()
		return nil
	})
	if err != nil {
		return "", err
	}

	return txRef, nil
}

package utxo

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/sirupsen/logrus"
)

var _ adapter.ChainAdapter = (*Adapter)(nil)

// txVBytes approximates the virtual size of a 1-in 2-out segwit
// transfer, used to turn a feerate into an absolute fee
const txVBytes = 141

// Adapter speaks the Bitcoin Core JSON-RPC surface shared by UTXO
// chains. Amounts cross the wire as BTC floats and are normalized to
// satoshis at the boundary.
type Adapter struct {
	*adapter.Base
	client *adapter.Client
	params *chaincfg.Params
}

func New(config *repo.Chain, logger logrus.FieldLogger) (*Adapter, error) {
	base, err := adapter.NewBase(config, adapter.FamilyUTXO, logger)
	if err != nil {
		return nil, err
	}

	params := &chaincfg.MainNetParams
	switch config.Extra["network"] {
	case "testnet":
		params = &chaincfg.TestNet3Params
	case "regtest":
		params = &chaincfg.RegressionNetParams
	}

	return &Adapter{
		Base:   base,
		client: adapter.NewClient(config.Endpoint),
		params: params,
	}, nil
}

func (a *Adapter) Start() error {
	a.Logger().WithFields(logrus.Fields{
		"chain":   a.ChainID(),
		"network": a.params.Name,
	}).Info("UTXO adapter started")
	return nil
}

func (a *Adapter) Stop() error {
	a.Logger().WithField("chain", a.ChainID()).Info("UTXO adapter stopped")
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if _, err := btcutil.DecodeAddress(address, a.params); err != nil {
		return nil, &adapter.StatusError{
			Err:    fmt.Sprintf("invalid %s address %s: %v", a.params.Name, address, err),
			Status: adapter.InvalidRequest,
		}
	}

	var balance btcutil.Amount
	err := a.Call(ctx, "listunspent", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "listunspent",
			[]interface{}{0, 9999999, []string{address}})
		if err != nil {
			return err
		}

		balance = 0
		for _, utxo := range res.Array() {
			amount, err := btcutil.NewAmount(utxo.Get("amount").Float())
			if err != nil {
				return fmt.Errorf("malformed utxo amount: %w", err)
			}
			balance += amount
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return big.NewInt(int64(balance)), nil
}

func (a *Adapter) GetChainInfo(ctx context.Context) (*adapter.ChainInfo, error) {
	var height uint64
	err := a.Call(ctx, "getblockcount", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "getblockcount", nil)
		if err != nil {
			return err
		}

		height = res.Uint()
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
	err := a.Call(ctx, "getrawtransaction", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "getrawtransaction", []interface{}{txRef, true})
		if err != nil {
			return err
		}

		confirmations := res.Get("confirmations").Uint()
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
	var feeRate btcutil.Amount
	err := a.Call(ctx, "estimatesmartfee", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "estimatesmartfee", []interface{}{int(a.FinalityDepth())})
		if err != nil {
			return err
		}

		rate, err := btcutil.NewAmount(res.Get("feerate").Float())
		if err != nil {
			return fmt.Errorf("malformed feerate: %w", err)
		}

		feeRate = rate
		return nil
	})
	if err != nil {
		return nil, err
	}

	// feerate is per kvB
	fee := int64(feeRate) * txVBytes / 1000

	return &adapter.FeeEstimate{
		Asset:        intent.Asset,
		Amount:       big.NewInt(fee),
		GasLimit:     txVBytes,
		PricePerUnit: big.NewInt(int64(feeRate)),
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, payload *adapter.SignedPayload) (string, error) {
	var txRef string
	err := a.Call(ctx, "sendrawtransaction", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "sendrawtransaction",
			[]interface{}{hex.EncodeToString(payload.Raw)})
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

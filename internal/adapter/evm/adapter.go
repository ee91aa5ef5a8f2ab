package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var _ adapter.ChainAdapter = (*Adapter)(nil)

// transferGas is the intrinsic gas of a plain value transfer
const transferGas = 21000

// Adapter speaks the eth_* JSON-RPC surface shared by account-based
// EVM chains.
type Adapter struct {
	*adapter.Base
	client *adapter.Client
}

func New(config *repo.Chain, logger logrus.FieldLogger) (*Adapter, error) {
	base, err := adapter.NewBase(config, adapter.FamilyEVM, logger)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		Base:   base,
		client: adapter.NewClient(config.Endpoint),
	}, nil
}

func (a *Adapter) Start() error {
	a.Logger().WithField("chain", a.ChainID()).Info("EVM adapter started")
	return nil
}

func (a *Adapter) Stop() error {
	a.Logger().WithField("chain", a.ChainID()).Info("EVM adapter stopped")
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, &adapter.StatusError{
			Err:    fmt.Sprintf("invalid evm address: %s", address),
			Status: adapter.InvalidRequest,
		}
	}

	var balance *big.Int
	err := a.Call(ctx, "eth_getBalance", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "eth_getBalance",
			[]interface{}{common.HexToAddress(address).Hex(), "latest"})
		if err != nil {
			return err
		}

		balance, err = hexutil.DecodeBig(res.String())
		return err
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

func (a *Adapter) GetChainInfo(ctx context.Context) (*adapter.ChainInfo, error) {
	var height uint64
	err := a.Call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "eth_blockNumber", nil)
		if err != nil {
			return err
		}

		height, err = hexutil.DecodeUint64(res.String())
		return err
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
	err := a.Call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		receipt, err := a.client.Call(ctx, "eth_getTransactionReceipt", []interface{}{txRef})
		if err != nil {
			return err
		}

		if !receipt.Exists() || receipt.Type == gjson.Null {
			status = adapter.TxPending
			return nil
		}

		if receipt.Get("status").String() == "0x0" {
			status = adapter.TxFailed
			return nil
		}

		head, err := a.client.Call(ctx, "eth_blockNumber", nil)
		if err != nil {
			return err
		}

		height, err := hexutil.DecodeUint64(head.String())
		if err != nil {
			return err
		}

		mined, err := hexutil.DecodeUint64(receipt.Get("blockNumber").String())
		if err != nil {
			return err
		}

		if height >= mined && height-mined+1 >= a.FinalityDepth() {
			status = adapter.TxFinalized
		} else {
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
	var gasPrice *big.Int
	err := a.Call(ctx, "eth_gasPrice", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "eth_gasPrice", nil)
		if err != nil {
			return err
		}

		gasPrice, err = hexutil.DecodeBig(res.String())
		return err
	})
	if err != nil {
		return nil, err
	}

	return &adapter.FeeEstimate{
		Asset:        intent.Asset,
		Amount:       new(big.Int).Mul(gasPrice, big.NewInt(transferGas)),
		GasLimit:     transferGas,
		PricePerUnit: gasPrice,
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, payload *adapter.SignedPayload) (string, error) {
	var txRef string
	err := a.Call(ctx, "eth_sendRawTransaction", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "eth_sendRawTransaction",
			[]interface{}{hexutil.Encode(payload.Raw)})
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

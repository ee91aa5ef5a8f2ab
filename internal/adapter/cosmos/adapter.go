package cosmos

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

func txResponse(res gjson.Result) gjson.Result {
	return res.Get("tx_response")
}

var _ adapter.ChainAdapter = (*Adapter)(nil)

// default gas ceiling of a bank send on cosmos-sdk chains
const sendGasLimit = 200000

// Adapter speaks the cosmos-sdk gRPC-gateway REST surface shared by
// IBC-enabled chains. The staking denom comes from the chain config.
type Adapter struct {
	*adapter.Base
	client *adapter.Client
	denom  string
}

func New(config *repo.Chain, logger logrus.FieldLogger) (*Adapter, error) {
	base, err := adapter.NewBase(config, adapter.FamilyCosmos, logger)
	if err != nil {
		return nil, err
	}

	denom := config.Extra["denom"]
	if denom == "" {
		denom = "uatom"
	}

	return &Adapter{
		Base:   base,
		client: adapter.NewClient(config.Endpoint),
		denom:  denom,
	}, nil
}

func (a *Adapter) Start() error {
	a.Logger().WithFields(logrus.Fields{
		"chain": a.ChainID(),
		"denom": a.denom,
	}).Info("Cosmos adapter started")
	return nil
}

func (a *Adapter) Stop() error {
	a.Logger().WithField("chain", a.ChainID()).Info("Cosmos adapter stopped")
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := a.Call(ctx, "bank/balance", func(ctx context.Context) error {
		res, err := a.client.Get(ctx,
			fmt.Sprintf("/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s", address, a.denom))
		if err != nil {
			return err
		}

		amount, ok := new(big.Int).SetString(res.Get("balance.amount").String(), 10)
		if !ok {
			return fmt.Errorf("malformed balance for %s", address)
		}

		balance = amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

func (a *Adapter) GetChainInfo(ctx context.Context) (*adapter.ChainInfo, error) {
	var height uint64
	err := a.Call(ctx, "blocks/latest", func(ctx context.Context) error {
		res, err := a.client.Get(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest")
		if err != nil {
			return err
		}

		height = res.Get("block.header.height").Uint()
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
	err := a.Call(ctx, "txs/get", func(ctx context.Context) error {
		res, err := a.client.Get(ctx, fmt.Sprintf("/cosmos/tx/v1beta1/txs/%s", txRef))
		if err != nil {
			return err
		}

		txResp := res.Get("tx_response")
		if !txResp.Exists() {
			status = adapter.TxPending
			return nil
		}

		if txResp.Get("code").Int() != 0 {
			status = adapter.TxFailed
			return nil
		}

		// tendermint gives instant finality once committed
		status = adapter.TxFinalized
		return nil
	})
	if err != nil {
		return adapter.TxUnknown, err
	}

	a.CacheStatus(txRef, status)

	return status, nil
}

func (a *Adapter) EstimateFee(ctx context.Context, intent *adapter.TransferIntent) (*adapter.FeeEstimate, error) {
	gasPrice := big.NewInt(1)
	if raw, ok := a.Config().Extra["gas_price"]; ok {
		if parsed, valid := new(big.Int).SetString(raw, 10); valid {
			gasPrice = parsed
		}
	}

	return &adapter.FeeEstimate{
		Asset:        intent.Asset,
		Amount:       new(big.Int).Mul(gasPrice, big.NewInt(sendGasLimit)),
		GasLimit:     sendGasLimit,
		PricePerUnit: gasPrice,
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, payload *adapter.SignedPayload) (string, error) {
	var txRef string
	err := a.Call(ctx, "txs/broadcast", func(ctx context.Context) error {
		res, err := a.client.Post(ctx, "/cosmos/tx/v1beta1/txs", map[string]string{
			"tx_bytes": base64.StdEncoding.EncodeToString(payload.Raw),
			"mode":     "BROADCAST_MODE_SYNC",
		})
		if err != nil {
			return err
		}

		txResp := txResponse(res)
		if txResp.Get("code").Int() != 0 {
			return fmt.Errorf("broadcast rejected: %s", txResp.Get("raw_log").String())
		}

		txRef = txResp.Get("txhash").String()
		return nil
	})
	if err != nil {
		return "", err
	}

	return txRef, nil
}

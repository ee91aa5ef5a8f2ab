package substrate

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

var _ adapter.ChainAdapter = (*Adapter)(nil)

// Adapter speaks the Substrate node RPC surface: state storage reads
// for balances, chain_* for heads and author_* for extrinsics.
type Adapter struct {
	*adapter.Base
	client *adapter.Client

	// storagePrefix is the hex-encoded system.account storage key
	// prefix; the address-derived suffix is appended per query.
	storagePrefix string
}

func New(config *repo.Chain, logger logrus.FieldLogger) (*Adapter, error) {
	base, err := adapter.NewBase(config, adapter.FamilySubstrate, logger)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		Base:          base,
		client:        adapter.NewClient(config.Endpoint),
		storagePrefix: config.Extra["storage_prefix"],
	}, nil
}

func (a *Adapter) Start() error {
	a.Logger().WithField("chain", a.ChainID()).Info("Substrate adapter started")
	return nil
}

func (a *Adapter) Stop() error {
	a.Logger().WithField("chain", a.ChainID()).Info("Substrate adapter stopped")
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	key := a.storageKey(address)

	var balance *big.Int
	err := a.Call(ctx, "state_getStorage", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "state_getStorage", []interface{}{key})
		if err != nil {
			return err
		}

		if !res.Exists() || res.Raw == "null" {
			balance = big.NewInt(0)
			return nil
		}

		balance, err = decodeFreeBalance(res.String())
		return err
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

func (a *Adapter) GetChainInfo(ctx context.Context) (*adapter.ChainInfo, error) {
	var height uint64
	err := a.Call(ctx, "chain_getHeader", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "chain_getHeader", nil)
		if err != nil {
			return err
		}

		height, err = hexutil.DecodeUint64(res.Get("number").String())
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

	// GRANDPA finality: an extrinsic in a block at or below the
	// finalized head is final, anything newer is confirmed only.
	status := adapter.TxUnknown
	err := a.Call(ctx, "chain_getBlock", func(ctx context.Context) error {
		block, err := a.client.Call(ctx, "chain_getBlock", []interface{}{txBlockHash(txRef)})
		if err != nil {
			return err
		}

		if !block.Exists() || block.Raw == "null" {
			status = adapter.TxPending
			return nil
		}

		mined, err := hexutil.DecodeUint64(block.Get("block.header.number").String())
		if err != nil {
			return err
		}

		finalizedHash, err := a.client.Call(ctx, "chain_getFinalizedHead", nil)
		if err != nil {
			return err
		}

		finalized, err := a.client.Call(ctx, "chain_getHeader", []interface{}{finalizedHash.String()})
		if err != nil {
			return err
		}

		finalizedHeight, err := hexutil.DecodeUint64(finalized.Get("number").String())
		if err != nil {
			return err
		}

		if mined <= finalizedHeight {
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
	var fee *big.Int
	err := a.Call(ctx, "payment_queryInfo", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "payment_queryInfo", []interface{}{"0x"})
		if err != nil {
			return err
		}

		partial, err := parsePartialFee(res.Get("partialFee").String())
		if err != nil {
			return err
		}

		fee = partial
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
	err := a.Call(ctx, "author_submitExtrinsic", func(ctx context.Context) error {
		res, err := a.client.Call(ctx, "author_submitExtrinsic",
			[]interface{}{"0x" + hex.EncodeToString(payload.Raw)})
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

func (a *Adapter) storageKey(address string) string {
	suffix := strings.TrimPrefix(address, "0x")
	if a.storagePrefix == "" {
		return "0x" + suffix
	}
	return a.storagePrefix + suffix
}

// txRef of a substrate extrinsic is "<blockHash>:<index>"
func txBlockHash(txRef string) string {
	if i := strings.IndexByte(txRef, ':'); i > 0 {
		return txRef[:i]
	}
	return txRef
}

// parsePartialFee accepts both encodings nodes use for partialFee: a
// 0x quantity on newer runtimes, a decimal string on older ones.
func parsePartialFee(raw string) (*big.Int, error) {
	if strings.HasPrefix(raw, "0x") {
		fee, err := hexutil.DecodeBig(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed partialFee %q: %w", raw, err)
		}
		return fee, nil
	}

	fee, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed partialFee %q", raw)
	}

	return fee, nil
}

// decodeFreeBalance pulls the free balance out of a SCALE-encoded
// AccountInfo: the u128 after the 16 bytes of nonce and ref counts.
func decodeFreeBalance(raw string) (*big.Int, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode account storage: %w", err)
	}

	if len(data) < 32 {
		return nil, fmt.Errorf("account storage too short: %d bytes", len(data))
	}

	free := data[16:32]
	// SCALE u128 is little-endian
	for i, j := 0, len(free)-1; i < j; i, j = i+1, j-1 {
		free[i], free[j] = free[j], free[i]
	}

	return new(big.Int).SetBytes(free), nil
}

package fee

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/loggers"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	fee    *big.Int
	feeErr error
}

func (f *fakeAdapter) Start() error           { return nil }
func (f *fakeAdapter) Stop() error            { return nil }
func (f *fakeAdapter) ChainID() string        { return "fake" }
func (f *fakeAdapter) Family() adapter.Family { return adapter.FamilyGeneric }

func (f *fakeAdapter) GetBalance(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeAdapter) GetChainInfo(context.Context) (*adapter.ChainInfo, error) {
	return &adapter.ChainInfo{ChainID: "fake"}, nil
}

func (f *fakeAdapter) GetTransactionStatus(context.Context, string) (adapter.TxStatus, error) {
	return adapter.TxUnknown, nil
}

func (f *fakeAdapter) EstimateFee(_ context.Context, intent *adapter.TransferIntent) (*adapter.FeeEstimate, error) {
	if f.feeErr != nil {
		return nil, f.feeErr
	}

	return &adapter.FeeEstimate{
		Asset:        intent.Asset,
		Amount:       new(big.Int).Set(f.fee),
		GasLimit:     1,
		PricePerUnit: new(big.Int).Set(f.fee),
	}, nil
}

func (f *fakeAdapter) SendTransaction(context.Context, *adapter.SignedPayload) (string, error) {
	return "", nil
}

var _ adapter.ChainAdapter = (*fakeAdapter)(nil)

func testTransfer(amount int64) *model.BridgeTransfer {
	return &model.BridgeTransfer{
		ID:         "t1",
		SrcChainID: "alpha",
		DstChainID: "beta",
		SrcAddress: "a",
		DstAddress: "b",
		Asset:      "TOKEN",
		Amount:     big.NewInt(amount),
		Status:     model.TransferPending,
		CreatedAt:  time.Now(),
	}
}

func TestCalculator_BasisPointMargin(t *testing.T) {
	calc, err := NewCalculator(repo.Fee{BasisPoints: 25, Minimum: "1"}, loggers.NewWithModule("fee_test"))
	require.Nil(t, err)

	// 25 bps of 100000 = 250
	quote, err := calc.Quote(context.Background(), testTransfer(100000), &fakeAdapter{fee: big.NewInt(40)})
	require.Nil(t, err)
	require.Equal(t, big.NewInt(40), quote.ChainFee)
	require.Equal(t, big.NewInt(250), quote.BridgeFee)
	require.Equal(t, big.NewInt(290), quote.Total)
}

func TestCalculator_MinimumFloor(t *testing.T) {
	calc, err := NewCalculator(repo.Fee{BasisPoints: 10, Minimum: "500"}, loggers.NewWithModule("fee_test"))
	require.Nil(t, err)

	// 10 bps of 1000 = 1, below the floor
	quote, err := calc.Quote(context.Background(), testTransfer(1000), &fakeAdapter{fee: big.NewInt(40)})
	require.Nil(t, err)
	require.Equal(t, big.NewInt(500), quote.BridgeFee)
	require.Equal(t, big.NewInt(540), quote.Total)
}

func TestCalculator_ChainFeeErrorSurfaces(t *testing.T) {
	calc, err := NewCalculator(repo.Fee{BasisPoints: 10, Minimum: "1"}, loggers.NewWithModule("fee_test"))
	require.Nil(t, err)

	_, err = calc.Quote(context.Background(), testTransfer(1000), &fakeAdapter{feeErr: fmt.Errorf("gateway down")})
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "gateway down")
}

func TestNewCalculator_RejectsBadConfig(t *testing.T) {
	logger := loggers.NewWithModule("fee_test")

	_, err := NewCalculator(repo.Fee{BasisPoints: 10, Minimum: "not-a-number"}, logger)
	require.NotNil(t, err)

	_, err = NewCalculator(repo.Fee{BasisPoints: 10001, Minimum: "1"}, logger)
	require.NotNil(t, err)

	_, err = NewCalculator(repo.Fee{BasisPoints: -1, Minimum: "1"}, logger)
	require.NotNil(t, err)
}

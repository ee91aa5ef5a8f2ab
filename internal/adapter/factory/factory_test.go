package factory

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/loggers"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type stubAdapter struct {
	chainID string
	stopped atomic.Bool
}

func (s *stubAdapter) Start() error          { return nil }
func (s *stubAdapter) Stop() error           { s.stopped.Store(true); return nil }
func (s *stubAdapter) ChainID() string       { return s.chainID }
func (s *stubAdapter) Family() adapter.Family { return adapter.FamilyGeneric }

func (s *stubAdapter) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *stubAdapter) GetChainInfo(ctx context.Context) (*adapter.ChainInfo, error) {
	return &adapter.ChainInfo{ChainID: s.chainID}, nil
}

func (s *stubAdapter) GetTransactionStatus(ctx context.Context, txRef string) (adapter.TxStatus, error) {
	return adapter.TxFinalized, nil
}

func (s *stubAdapter) EstimateFee(ctx context.Context, intent *adapter.TransferIntent) (*adapter.FeeEstimate, error) {
	return &adapter.FeeEstimate{Amount: big.NewInt(0)}, nil
}

func (s *stubAdapter) SendTransaction(ctx context.Context, payload *adapter.SignedPayload) (string, error) {
	return "tx", nil
}

func testChains() map[string]*repo.Chain {
	return map[string]*repo.Chain{
		"chainA": {ChainID: "chainA", Family: "generic", Endpoint: "http://localhost:9001"},
		"chainB": {ChainID: "chainB", Family: "generic", Endpoint: "http://localhost:9002"},
	}
}

func TestFactory_ConcurrentFirstAccess(t *testing.T) {
	f := New(testChains(), loggers.NewWithModule("factory_test"))

	constructions := atomic.NewInt64(0)
	f.build = func(config *repo.Chain) (adapter.ChainAdapter, error) {
		constructions.Inc()
		return &stubAdapter{chainID: config.ChainID}, nil
	}

	const callers = 50

	var wg sync.WaitGroup
	results := make([]adapter.ChainAdapter, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			got, err := f.Get("chainA")
			require.Nil(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(1), constructions.Load())
	for i := 1; i < callers; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestFactory_FailedConstructionNotCached(t *testing.T) {
	f := New(testChains(), loggers.NewWithModule("factory_test"))

	attempts := atomic.NewInt64(0)
	f.build = func(config *repo.Chain) (adapter.ChainAdapter, error) {
		if attempts.Inc() == 1 {
			return nil, fmt.Errorf("endpoint unreachable")
		}
		return &stubAdapter{chainID: config.ChainID}, nil
	}

	_, err := f.Get("chainA")
	require.NotNil(t, err)

	// the failure was not cached, so the retry rebuilds
	got, err := f.Get("chainA")
	require.Nil(t, err)
	require.Equal(t, "chainA", got.ChainID())
	require.Equal(t, int64(2), attempts.Load())
}

func TestFactory_UnconfiguredChain(t *testing.T) {
	f := New(testChains(), loggers.NewWithModule("factory_test"))

	_, err := f.Get("nope")
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "not configured")
}

func TestFactory_CachedLookupReturnsSameInstance(t *testing.T) {
	f := New(testChains(), loggers.NewWithModule("factory_test"))
	f.build = func(config *repo.Chain) (adapter.ChainAdapter, error) {
		return &stubAdapter{chainID: config.ChainID}, nil
	}

	first, err := f.Get("chainB")
	require.Nil(t, err)

	second, err := f.Get("chainB")
	require.Nil(t, err)
	require.Same(t, first, second)
}

func TestFactory_ReloadInvalidatesChangedEndpoint(t *testing.T) {
	f := New(testChains(), loggers.NewWithModule("factory_test"))
	f.build = func(config *repo.Chain) (adapter.ChainAdapter, error) {
		return &stubAdapter{chainID: config.ChainID}, nil
	}

	first, err := f.Get("chainA")
	require.Nil(t, err)

	f.Reload([]repo.Chain{
		{ChainID: "chainA", Family: "generic", Endpoint: "http://localhost:9100"},
	})

	require.True(t, first.(*stubAdapter).stopped.Load())
	require.False(t, f.Has("chainB"))

	second, err := f.Get("chainA")
	require.Nil(t, err)
	require.NotSame(t, first, second)
}

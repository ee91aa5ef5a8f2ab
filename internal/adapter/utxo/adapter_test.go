package utxo

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crossmesh/ferry/internal/adapter"
	"github.com/crossmesh/ferry/internal/loggers"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, requests *int64, results map[string]interface{}) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(requests, 1)

		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		require.Nil(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := results[req.Method]
		require.True(t, ok, "unexpected method %s", req.Method)

		require.Nil(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func newAdapter(t *testing.T, endpoint string, extra map[string]string) *Adapter {
	a, err := New(&repo.Chain{
		ChainID:       "bitcoin",
		Family:        "utxo",
		Endpoint:      endpoint,
		FinalityDepth: 6,
		Timeout:       time.Second,
		Retries:       1,
		Extra:         extra,
	}, loggers.NewWithModule("utxo_test"))
	require.Nil(t, err)

	return a
}

func TestAdapter_BalanceSumsUnspentOutputs(t *testing.T) {
	var requests int64
	srv := rpcServer(t, &requests, map[string]interface{}{
		"listunspent": []map[string]interface{}{
			{"txid": "aa", "amount": 0.5},
			{"txid": "bb", "amount": 0.25},
		},
	})

	a := newAdapter(t, srv.URL, nil)

	balance, err := a.GetBalance(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	require.Nil(t, err)

	// 0.75 BTC in satoshis
	require.Equal(t, big.NewInt(75000000), balance)
}

func TestAdapter_RejectsAddressFromWrongNetwork(t *testing.T) {
	var requests int64
	srv := rpcServer(t, &requests, nil)

	a := newAdapter(t, srv.URL, map[string]string{"network": "testnet"})

	// mainnet genesis address, testnet params
	_, err := a.GetBalance(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	require.NotNil(t, err)

	statusErr, ok := err.(*adapter.StatusError)
	require.True(t, ok)
	require.Equal(t, adapter.InvalidRequest, statusErr.Status)
	require.False(t, statusErr.NeedRetry())

	// validation failed locally, the node was never asked
	require.Equal(t, int64(0), atomic.LoadInt64(&requests))
}

func TestAdapter_FinalityFollowsConfirmationDepth(t *testing.T) {
	var requests int64
	srv := rpcServer(t, &requests, map[string]interface{}{
		"getrawtransaction": map[string]interface{}{"confirmations": 3},
	})

	a := newAdapter(t, srv.URL, nil)

	status, err := a.GetTransactionStatus(context.Background(), "deep")
	require.Nil(t, err)
	require.Equal(t, adapter.TxConfirmed, status)

	srv2Requests := int64(0)
	srv2 := rpcServer(t, &srv2Requests, map[string]interface{}{
		"getrawtransaction": map[string]interface{}{"confirmations": 6},
	})
	a2 := newAdapter(t, srv2.URL, nil)

	status, err = a2.GetTransactionStatus(context.Background(), "final")
	require.Nil(t, err)
	require.Equal(t, adapter.TxFinalized, status)

	// finalized statuses are served from cache afterwards
	status, err = a2.GetTransactionStatus(context.Background(), "final")
	require.Nil(t, err)
	require.Equal(t, adapter.TxFinalized, status)
	require.Equal(t, int64(1), atomic.LoadInt64(&srv2Requests))
}

func TestAdapter_EstimateFeeScalesFeerate(t *testing.T) {
	var requests int64
	srv := rpcServer(t, &requests, map[string]interface{}{
		"estimatesmartfee": map[string]interface{}{"feerate": 0.0001},
	})

	a := newAdapter(t, srv.URL, nil)

	estimate, err := a.EstimateFee(context.Background(), &adapter.TransferIntent{
		Asset:  "BTC",
		Amount: big.NewInt(1000),
	})
	require.Nil(t, err)

	// 0.0001 BTC/kvB = 10000 sat/kvB over 141 vbytes
	require.Equal(t, big.NewInt(1410), estimate.Amount)
	require.Equal(t, uint64(141), estimate.GasLimit)
}

func TestAdapter_SendReturnsTxid(t *testing.T) {
	var requests int64
	srv := rpcServer(t, &requests, map[string]interface{}{
		"sendrawtransaction": "deadbeef",
	})

	a := newAdapter(t, srv.URL, nil)

	txRef, err := a.SendTransaction(context.Background(), &adapter.SignedPayload{Raw: []byte{0x01}})
	require.Nil(t, err)
	require.Equal(t, "deadbeef", txRef)
}

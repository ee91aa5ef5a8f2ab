package swap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/crossmesh/ferry/internal/adapter/factory"
	"github.com/crossmesh/ferry/internal/events"
	"github.com/crossmesh/ferry/internal/fee"
	"github.com/crossmesh/ferry/internal/loggers"
	"github.com/crossmesh/ferry/internal/multisig"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/crossmesh/ferry/internal/store"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/stretchr/testify/require"
)

// chainServer fakes a chain gateway behind the generic JSON-RPC
// adapter, counting escrow submissions per instruction kind.
type chainServer struct {
	*httptest.Server

	mu    sync.Mutex
	sends map[string]int
	seq   int
}

func newChainServer(t *testing.T) *chainServer {
	cs := &chainServer{sends: make(map[string]int)}

	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64         `json:"id"`
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
		}
		require.Nil(t, json.NewDecoder(r.Body).Decode(&req))

		var result interface{}
		switch req.Method {
		case "sendTransaction":
			raw, err := hex.DecodeString(req.Params[0].(string))
			require.Nil(t, err)

			var instruction struct {
				Op string `json:"op"`
			}
			require.Nil(t, json.Unmarshal(raw, &instruction))

			cs.mu.Lock()
			cs.sends[instruction.Op]++
			cs.seq++
			ref := fmt.Sprintf("tx-%s-%d", instruction.Op, cs.seq)
			cs.mu.Unlock()

			result = map[string]interface{}{"hash": ref}
		case "getTransaction":
			result = map[string]interface{}{"confirmations": 1}
		case "getHeight":
			result = map[string]interface{}{"height": 42}
		case "getBalance":
			result = map[string]interface{}{"balance": "1000000"}
		case "estimateFee":
			result = map[string]interface{}{"fee": 100}
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}

		require.Nil(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}))
	}))
	t.Cleanup(cs.Close)

	return cs
}

func (cs *chainServer) sent(op string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.sends[op]
}

type engineFixture struct {
	engine *Engine
	st     store.Store
	src    *chainServer
	dst    *chainServer
}

// newEngineFixture wires an engine over two fake chains. threshold is
// the authorization quorum; 0 authorizes every claim.
func newEngineFixture(t *testing.T, threshold int) *engineFixture {
	src := newChainServer(t)
	dst := newChainServer(t)

	chains := map[string]*repo.Chain{
		"alpha": {ChainID: "alpha", Family: "generic", Endpoint: src.URL, FinalityDepth: 1, Timeout: time.Second, Retries: 1},
		"beta":  {ChainID: "beta", Family: "generic", Endpoint: dst.URL, FinalityDepth: 1, Timeout: time.Second, Retries: 1},
	}

	st, err := store.New(t.TempDir(), loggers.NewWithModule("swap_test"))
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, st.Close())
	})

	chainFactory := factory.New(chains, loggers.NewWithModule("swap_test"))
	t.Cleanup(func() {
		chainFactory.Stop()
	})

	hub := events.NewHub(loggers.NewWithModule("swap_test"))
	service := multisig.New(threshold, nil, st, hub, loggers.NewWithModule("swap_test"))

	fees, err := fee.NewCalculator(repo.Fee{BasisPoints: 10, Minimum: "1"}, loggers.NewWithModule("swap_test"))
	require.Nil(t, err)

	config := repo.Bridge{
		LockDuration: time.Hour,
		ScanInterval: 30 * time.Second,
		Workers:      4,
	}

	engine := New(chainFactory, st, service, hub, fees, config, loggers.NewWithModule("swap_test"))
	t.Cleanup(func() {
		require.Nil(t, engine.Stop())
	})

	return &engineFixture{engine: engine, st: st, src: src, dst: dst}
}

func testRequest() *InitiateRequest {
	return &InitiateRequest{
		SrcChainID: "alpha",
		DstChainID: "beta",
		SrcAddress: "addr-src",
		DstAddress: "addr-dst",
		Asset:      "TOKEN",
		Amount:     big.NewInt(500),
	}
}

func commit(secret []byte) []byte {
	digest := sha256.Sum256(secret)
	return digest[:]
}

func (f *engineFixture) phases(t *testing.T, id string) []string {
	entries, err := f.st.History(id)
	require.Nil(t, err)

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.To)
	}
	return out
}

func TestEngine_FullSwapRoundTrip(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()
	secret := []byte("the quick brown fox")

	id, err := f.engine.Initiate(testRequest(), commit(secret), time.Hour)
	require.Nil(t, err)
	require.NotEmpty(t, id)

	require.Nil(t, f.engine.Lock(ctx, id))
	require.Nil(t, f.engine.Reveal(ctx, id, secret))

	status, err := f.engine.Status(id)
	require.Nil(t, err)
	require.Equal(t, model.TransferClaimed, status.Status)
	require.Equal(t, model.PhaseClaimed, status.Phase)

	require.Equal(t, 1, f.src.sent("lock"))
	require.Equal(t, 1, f.dst.sent("claim"))
	require.Equal(t, 0, f.src.sent("refund"))
	require.Equal(t, 0, f.dst.sent("refund"))

	require.Equal(t, []string{"initiated", "locked", "secret_revealed", "claimed"}, f.phases(t, id))

	// audit entries never move backwards in time
	entries, err := f.st.History(id)
	require.Nil(t, err)
	for i := 1; i < len(entries); i++ {
		require.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}

	state, err := f.st.GetSwapState(id)
	require.Nil(t, err)
	require.Equal(t, secret, state.Secret)
}

func TestEngine_InvalidSecretLeavesSwapLocked(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()
	secret := []byte("right answer")

	id, err := f.engine.Initiate(testRequest(), commit(secret), time.Hour)
	require.Nil(t, err)
	require.Nil(t, f.engine.Lock(ctx, id))

	err = f.engine.Reveal(ctx, id, []byte("wrong answer"))
	require.ErrorIs(t, err, ErrInvalidSecret)

	status, err := f.engine.Status(id)
	require.Nil(t, err)
	require.Equal(t, model.PhaseLocked, status.Phase)
	require.Equal(t, model.TransferLocked, status.Status)

	// rejection is pure: nothing reached the destination chain
	require.Equal(t, 0, f.dst.sent("claim"))
	require.Equal(t, []string{"initiated", "locked"}, f.phases(t, id))

	state, err := f.st.GetSwapState(id)
	require.Nil(t, err)
	require.Empty(t, state.Secret)

	// the committed transfer is still claimable with the right secret
	require.Nil(t, f.engine.Reveal(ctx, id, secret))

	status, err = f.engine.Status(id)
	require.Nil(t, err)
	require.Equal(t, model.PhaseClaimed, status.Phase)
}

func TestEngine_DoubleLockIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	id, err := f.engine.Initiate(testRequest(), commit([]byte("s")), time.Hour)
	require.Nil(t, err)

	require.Nil(t, f.engine.Lock(ctx, id))
	require.Nil(t, f.engine.Lock(ctx, id))

	require.Equal(t, 1, f.src.sent("lock"))
	require.Equal(t, []string{"initiated", "locked"}, f.phases(t, id))
}

func TestEngine_ExpiredLockRefundsExactlyOnce(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	id, err := f.engine.Initiate(testRequest(), commit([]byte("s")), 30*time.Millisecond)
	require.Nil(t, err)
	require.Nil(t, f.engine.Lock(ctx, id))

	time.Sleep(50 * time.Millisecond)

	require.Nil(t, f.engine.Expire(ctx, id))

	status, err := f.engine.Status(id)
	require.Nil(t, err)
	require.Equal(t, model.PhaseRefunded, status.Phase)
	require.Equal(t, model.TransferRefunded, status.Status)
	require.Equal(t, []string{"initiated", "locked", "expired", "refunded"}, f.phases(t, id))
	require.Equal(t, 1, f.src.sent("refund"))

	// terminal swaps are left untouched
	require.Nil(t, f.engine.Expire(ctx, id))
	require.Equal(t, 1, f.src.sent("refund"))

	// and a late reveal cannot reopen them
	err = f.engine.Reveal(ctx, id, []byte("s"))
	require.ErrorIs(t, err, ErrWrongPhase)
	require.Equal(t, 0, f.dst.sent("claim"))
}

func TestEngine_ExpireBeforeDeadlineRejected(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	id, err := f.engine.Initiate(testRequest(), commit([]byte("s")), time.Hour)
	require.Nil(t, err)
	require.Nil(t, f.engine.Lock(ctx, id))

	err = f.engine.Expire(ctx, id)
	require.ErrorIs(t, err, ErrNotExpired)
	require.Equal(t, 0, f.src.sent("refund"))
}

func TestEngine_ExpireUnlockedSwapSkipsChain(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	id, err := f.engine.Initiate(testRequest(), commit([]byte("s")), 10*time.Millisecond)
	require.Nil(t, err)

	time.Sleep(30 * time.Millisecond)

	require.Nil(t, f.engine.Expire(ctx, id))

	status, err := f.engine.Status(id)
	require.Nil(t, err)
	require.Equal(t, model.PhaseRefunded, status.Phase)

	// no funds were escrowed, so no refund transaction either
	require.Equal(t, 0, f.src.sent("lock"))
	require.Equal(t, 0, f.src.sent("refund"))
	require.Equal(t, []string{"initiated", "expired", "refunded"}, f.phases(t, id))
}

func TestEngine_ClaimWaitsForQuorum(t *testing.T) {
	f := newEngineFixture(t, 1)
	ctx := context.Background()
	secret := []byte("gated")

	id, err := f.engine.Initiate(testRequest(), commit(secret), time.Hour)
	require.Nil(t, err)
	require.Nil(t, f.engine.Lock(ctx, id))

	// reveal succeeds but the claim defers until quorum authorizes it
	require.Nil(t, f.engine.Reveal(ctx, id, secret))

	status, err := f.engine.Status(id)
	require.Nil(t, err)
	require.Equal(t, model.PhaseSecretRevealed, status.Phase)
	require.Equal(t, 0, f.dst.sent("claim"))

	err = f.engine.Claim(ctx, id)
	require.ErrorIs(t, err, ErrQuorumNotMet)
	require.Equal(t, 0, f.dst.sent("claim"))
}

func TestEngine_InitiateRejectsMalformedRequests(t *testing.T) {
	f := newEngineFixture(t, 0)
	hash := commit([]byte("s"))

	cases := []struct {
		name string
		req  *InitiateRequest
		hash []byte
	}{
		{"nil request", nil, hash},
		{"zero amount", &InitiateRequest{SrcChainID: "alpha", DstChainID: "beta", SrcAddress: "a", DstAddress: "b", Asset: "T", Amount: big.NewInt(0)}, hash},
		{"same chain", &InitiateRequest{SrcChainID: "alpha", DstChainID: "alpha", SrcAddress: "a", DstAddress: "b", Asset: "T", Amount: big.NewInt(1)}, hash},
		{"empty address", &InitiateRequest{SrcChainID: "alpha", DstChainID: "beta", DstAddress: "b", Asset: "T", Amount: big.NewInt(1)}, hash},
		{"short secret hash", testRequest(), []byte{1, 2, 3}},
		{"unknown chain", &InitiateRequest{SrcChainID: "gamma", DstChainID: "beta", SrcAddress: "a", DstAddress: "b", Asset: "T", Amount: big.NewInt(1)}, hash},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.engine.Initiate(c.req, c.hash, time.Hour)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestEngine_RecoverRedrivesRevealedSwap(t *testing.T) {
	f := newEngineFixture(t, 0)
	secret := []byte("crash survivor")

	// persisted state of a process that died after the reveal
	transfer := &model.BridgeTransfer{
		ID:         "recovered",
		SrcChainID: "alpha",
		DstChainID: "beta",
		SrcAddress: "addr-src",
		DstAddress: "addr-dst",
		Asset:      "TOKEN",
		Amount:     big.NewInt(500),
		Status:     model.TransferSecretRevealed,
		CreatedAt:  time.Now(),
	}
	require.Nil(t, f.st.PutTransfer(transfer))
	require.Nil(t, f.st.PutSwapState(&model.AtomicSwapState{
		SwapID:     "s1",
		TransferID: "recovered",
		SecretHash: commit(secret),
		Secret:     secret,
		LockExpiry: time.Now().Add(time.Hour),
		Phase:      model.PhaseSecretRevealed,
		UpdatedAt:  time.Now(),
	}))

	require.Nil(t, f.engine.Start())

	require.Eventually(t, func() bool {
		status, err := f.engine.Status("recovered")
		return err == nil && status.Phase == model.PhaseClaimed
	}, 3*time.Second, 20*time.Millisecond)

	require.Equal(t, 1, f.dst.sent("claim"))
}

func TestEngine_ScannerRefundsExpiredSwaps(t *testing.T) {
	f := newEngineFixture(t, 0)
	f.engine.config.ScanInterval = 20 * time.Millisecond
	ctx := context.Background()

	id, err := f.engine.Initiate(testRequest(), commit([]byte("s")), 30*time.Millisecond)
	require.Nil(t, err)
	require.Nil(t, f.engine.Lock(ctx, id))

	require.Nil(t, f.engine.Start())

	require.Eventually(t, func() bool {
		status, err := f.engine.Status(id)
		return err == nil && status.Phase == model.PhaseRefunded
	}, 3*time.Second, 20*time.Millisecond)

	require.Equal(t, 1, f.src.sent("refund"))
}

func TestEngine_QuotePricesDestinationChain(t *testing.T) {
	f := newEngineFixture(t, 0)
	ctx := context.Background()

	id, err := f.engine.Initiate(testRequest(), commit([]byte("s")), time.Hour)
	require.Nil(t, err)

	quote, err := f.engine.Quote(ctx, id)
	require.Nil(t, err)

	// chain fee 100 from the fake gateway; 10 bps of 500 rounds below
	// the configured floor of 1
	require.Equal(t, big.NewInt(100), quote.ChainFee)
	require.Equal(t, big.NewInt(1), quote.BridgeFee)
	require.Equal(t, big.NewInt(101), quote.Total)
}

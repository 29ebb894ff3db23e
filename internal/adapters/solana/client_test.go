package solana_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/adapters/solana"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wsolVault = "So11111111111111111111111111111111111111112"
	usdcMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func newTestClient(srv *httptest.Server, retries int) *solana.Client {
	return solana.NewClient(solana.Config{
		Endpoint:   srv.URL,
		Timeout:    time.Second,
		RatePerSec: 1000,
		Burst:      100,
		MaxRetries: retries,
		RetryWait:  time.Millisecond,
	})
}

func rpcResult(t *testing.T, w http.ResponseWriter, id uint64, result any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result}))
}

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func decode(t *testing.T, r *http.Request) request {
	t.Helper()
	var req request
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestGetAccountBalance_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decode(t, r)
		assert.Equal(t, "getTokenAccountBalance", req.Method)
		require.Len(t, req.Params, 2)
		assert.Equal(t, wsolVault, req.Params[0])
		assert.Equal(t, map[string]any{"commitment": "confirmed"}, req.Params[1])

		rpcResult(t, w, req.ID, map[string]any{
			"context": map[string]any{"slot": 1},
			"value":   map[string]any{"amount": "50000000000", "decimals": 9, "uiAmount": 50.0},
		})
	}))
	defer srv.Close()

	bal, err := newTestClient(srv, 0).GetAccountBalance(context.Background(), wsolVault)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000_000), bal.RawAmount)
	assert.Equal(t, uint8(9), bal.Decimals)
	assert.Equal(t, wsolVault, bal.Address)
}

func TestGetAccountBalance_InvalidAddressNeverHitsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(srv, 0)
	for _, addr := range []string{"not-base58-0OIl", "abc", ""} {
		_, err := c.GetAccountBalance(context.Background(), addr)
		assert.ErrorIs(t, err, domain.ErrDecode, addr)
	}
	assert.Zero(t, hits.Load())
}

func TestGetAccountBalance_NullValueIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decode(t, r)
		rpcResult(t, w, req.ID, map[string]any{"context": map[string]any{"slot": 1}, "value": nil})
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 0).GetAccountBalance(context.Background(), usdcMint)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetAccountBalance_CouldNotFindAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decode(t, r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32602, "message": "Invalid param: could not find account"},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 2).GetAccountBalance(context.Background(), wsolVault)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var ce *domain.ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, wsolVault, ce.Address)
}

func TestGetAccountBalance_OtherRPCErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		req := decode(t, r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32005, "message": "node is behind"},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 3).GetAccountBalance(context.Background(), wsolVault)
	assert.ErrorIs(t, err, domain.ErrRPC)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetAccountBalance_RateLimitedAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 2).GetAccountBalance(context.Background(), wsolVault)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int32(3), hits.Load())
}

func TestGetAccountBalance_RetriesServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decode(t, r)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rpcResult(t, w, req.ID, map[string]any{"value": map[string]any{"amount": "7", "decimals": 0}})
	}))
	defer srv.Close()

	bal, err := newTestClient(srv, 1).GetAccountBalance(context.Background(), wsolVault)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), bal.RawAmount)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGetAccountBalance_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 0).GetAccountBalance(context.Background(), wsolVault)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestGetAccountBalance_BadAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decode(t, r)
		rpcResult(t, w, req.ID, map[string]any{"value": map[string]any{"amount": "-1", "decimals": 6}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 0).GetAccountBalance(context.Background(), wsolVault)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestGetAccountBalance_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := newTestClient(srv, 0).GetAccountBalance(ctx, wsolVault)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, solana.ValidateAddress(wsolVault))
	assert.NoError(t, solana.ValidateAddress(usdcMint))
	assert.Error(t, solana.ValidateAddress("3yZe7d"))
	assert.Error(t, solana.ValidateAddress("0OIl"))
}

package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

const (
	defaultEndpoint   = "https://api.mainnet-beta.solana.com"
	defaultCommitment = "confirmed"

	// Los endpoints públicos permiten ~40 req/10s por IP; se deja margen.
	defaultRatePerSec = 3
	defaultBurst      = 5

	baseRetryWait = 250 * time.Millisecond

	// Longitud de una public key de Solana.
	pubkeyLen = 32

	// -32602: invalid params ("could not find account").
	codeInvalidParams = -32602
)

// Config configura el cliente JSON-RPC.
type Config struct {
	Endpoint   string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	MaxRetries int
	Commitment string
	RetryWait  time.Duration // espera base del backoff; 0 = 250ms
}

// Client implementa ports.ChainDataProvider contra un nodo JSON-RPC.
// Es seguro para uso concurrente.
type Client struct {
	http       *http.Client
	endpoint   string
	commitment string
	limiter    *rate.Limiter
	maxRetries int
	retryWait  time.Duration
	requestID  atomic.Uint64
}

// NewClient crea un Client. Los campos vacíos de cfg toman valores por defecto.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Commitment == "" {
		cfg.Commitment = defaultCommitment
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = baseRetryWait
	}
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		endpoint:   cfg.Endpoint,
		commitment: cfg.Commitment,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		retryWait:  cfg.RetryWait,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type tokenBalanceResult struct {
	Value *struct {
		Amount   string `json:"amount"`
		Decimals uint8  `json:"decimals"`
	} `json:"value"`
}

// GetAccountBalance devuelve el balance raw y los decimales de un token account.
func (c *Client) GetAccountBalance(ctx context.Context, address string) (domain.AccountBalance, error) {
	if err := ValidateAddress(address); err != nil {
		return domain.AccountBalance{}, domain.NewChainError(domain.ChainDecode, address, err)
	}

	var res tokenBalanceResult
	params := []any{address, map[string]string{"commitment": c.commitment}}
	if err := c.call(ctx, "getTokenAccountBalance", params, &res); err != nil {
		return domain.AccountBalance{}, classify(address, err)
	}
	if res.Value == nil {
		return domain.AccountBalance{}, domain.NewChainError(domain.ChainNotFound, address, nil)
	}

	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return domain.AccountBalance{}, domain.NewChainError(domain.ChainDecode, address,
			fmt.Errorf("amount %q: %w", res.Value.Amount, err))
	}
	return domain.AccountBalance{Address: address, RawAmount: amount, Decimals: res.Value.Decimals}, nil
}

// ValidateAddress verifica que address sea una public key base58 de 32 bytes.
func ValidateAddress(address string) error {
	b, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("invalid base58 address %q: %w", address, err)
	}
	if len(b) != pubkeyLen {
		return fmt.Errorf("address %q decodes to %d bytes, want %d", address, len(b), pubkeyLen)
	}
	return nil
}

var errRateLimited = errors.New("rate limited (429)")

// call hace un POST JSON-RPC con rate limiting y retries sobre 429/5xx/red.
// Los errores JSON-RPC no se reintentan.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Debug("solana rpc rate limited", "method", method, "attempt", attempt+1)
			lastErr = errRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("client error %d: %s", resp.StatusCode, truncate(respBody, 200))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			return &decodeError{err: fmt.Errorf("unmarshal response: %w", err)}
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		if out != nil && len(rpcResp.Result) > 0 {
			if err := json.Unmarshal(rpcResp.Result, out); err != nil {
				return &decodeError{err: fmt.Errorf("unmarshal result: %w", err)}
			}
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries: %w", c.maxRetries, lastErr)
}

// sleep espera con backoff exponencial respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// classify traduce un error de transporte o RPC a un domain.ChainError.
func classify(address string, err error) error {
	var (
		rpcErr *rpcError
		decErr *decodeError
		netErr net.Error
	)
	switch {
	case errors.As(err, &rpcErr):
		if rpcErr.Code == codeInvalidParams && strings.Contains(strings.ToLower(rpcErr.Message), "could not find") {
			return domain.NewChainError(domain.ChainNotFound, address, err)
		}
		return domain.NewChainError(domain.ChainRPC, address, err)
	case errors.As(err, &decErr):
		return domain.NewChainError(domain.ChainDecode, address, err)
	case errors.Is(err, errRateLimited):
		return domain.NewChainError(domain.ChainRateLimited, address, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewChainError(domain.ChainTimeout, address, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.NewChainError(domain.ChainTimeout, address, err)
	}
	return domain.NewChainError(domain.ChainRPC, address, err)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

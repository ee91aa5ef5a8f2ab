package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
)

// Client is a minimal JSON-RPC/REST client shared by the family
// adapters. Family packages own the method names and result paths; the
// client owns transport, request ids and response envelope handling.
type Client struct {
	endpoint string
	http     *http.Client
	reqID    atomic.Uint64
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// Call performs a JSON-RPC 2.0 call and returns the result field.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (gjson.Result, error) {
	if params == nil {
		params = []interface{}{}
	}

	body, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Inc(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return gjson.Result{}, err
	}

	parsed := gjson.ParseBytes(raw)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("rpc error from %s: %s", c.endpoint, rpcErr.Raw)
	}

	return parsed.Get("result"), nil
}

// Post performs a REST POST against endpoint+path and parses the body.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal rest payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build rest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return gjson.Result{}, err
	}

	return gjson.ParseBytes(raw), nil
}

// Get performs a REST GET against endpoint+path and parses the body.
func (c *Client) Get(ctx context.Context, path string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build rest request: %w", err)
	}

	raw, err := c.do(req)
	if err != nil {
		return gjson.Result{}, err
	}

	return gjson.ParseBytes(raw), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", c.endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.endpoint)
	}

	return raw, nil
}

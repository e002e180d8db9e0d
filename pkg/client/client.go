// Package client wraps the storage node's HTTP+JSON RPC surface for
// CLI and test usage.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/docvault/storagenode/pkg/rpc"
	"github.com/docvault/storagenode/pkg/types"
)

// Client wraps an HTTP client pointed at a storage node's RPC surface.
// Unlike the teacher's mTLS-dialed gRPC client, this node authenticates
// callers by recovered signer address rather than client certificate,
// so a plain http.Client is the whole transport.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the node at baseURL (e.g.
// "http://localhost:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) postJSON(ctx context.Context, path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return fmt.Errorf("storagenode: %s", apiErr.Error)
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, resp interface{}) error {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return fmt.Errorf("storagenode: %s", apiErr.Error)
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

// SendMutation posts a signed envelope to the node.
func (c *Client) SendMutation(ctx context.Context, payload []byte, signature string) (rpc.SendMutationResponse, error) {
	var resp rpc.SendMutationResponse
	err := c.postJSON(ctx, "/v1/send_mutation", rpc.SendMutationRequest{Payload: payload, Signature: signature}, &resp)
	return resp, err
}

// Setup posts a signed, admin-only configuration change.
func (c *Client) Setup(ctx context.Context, payload []byte, signature string) (rpc.SetupResponse, error) {
	var resp rpc.SetupResponse
	err := c.postJSON(ctx, "/v1/setup", rpc.SetupRequest{Payload: payload, Signature: signature}, &resp)
	return resp, err
}

// GetNonce returns the next admissible nonce for address.
func (c *Client) GetNonce(ctx context.Context, address types.Address) (uint64, error) {
	var out struct {
		NextNonce uint64 `json:"next_nonce"`
	}
	err := c.getJSON(ctx, "/v1/nonce", url.Values{"address": {address.Hex()}}, &out)
	return out.NextNonce, err
}

// GetDatabase returns the database record, or nil if not found.
func (c *Client) GetDatabase(ctx context.Context, address types.Address) (*types.Database, error) {
	var record types.Database
	if err := c.getJSON(ctx, "/v1/database", url.Values{"address": {address.Hex()}}, &record); err != nil {
		return nil, err
	}
	if record.Address == (types.Address{}) {
		return nil, nil
	}
	return &record, nil
}

// GetDatabaseOfOwner returns every database owned by owner.
func (c *Client) GetDatabaseOfOwner(ctx context.Context, owner types.Address) ([]types.Database, error) {
	var out []types.Database
	err := c.getJSON(ctx, "/v1/database_of_owner", url.Values{"owner": {owner.Hex()}}, &out)
	return out, err
}

// GetCollectionOfDatabase returns every collection of a database.
func (c *Client) GetCollectionOfDatabase(ctx context.Context, dbAddr types.Address) ([]types.Collection, error) {
	var out []types.Collection
	err := c.getJSON(ctx, "/v1/collection_of_database", url.Values{"db_addr": {dbAddr.Hex()}}, &out)
	return out, err
}

// GetSystemStatus returns the node's live status.
func (c *Client) GetSystemStatus(ctx context.Context) (rpc.SystemStatus, error) {
	var out rpc.SystemStatus
	err := c.getJSON(ctx, "/v1/system_status", nil, &out)
	return out, err
}

// GetBlock returns every mutation header and body in [start, end).
func (c *Client) GetBlock(ctx context.Context, start, end uint64) ([]types.MutationHeader, []types.MutationBody, error) {
	var out struct {
		Headers []types.MutationHeader `json:"headers"`
		Bodies  []types.MutationBody   `json:"bodies"`
	}
	err := c.getJSON(ctx, "/v1/block", url.Values{
		"start": {strconv.FormatUint(start, 10)},
		"end":   {strconv.FormatUint(end, 10)},
	}, &out)
	return out.Headers, out.Bodies, err
}

// GetMutationHeader returns the header at (block, order).
func (c *Client) GetMutationHeader(ctx context.Context, block uint64, order uint32) (*types.MutationHeader, error) {
	var out types.MutationHeader
	err := c.getJSON(ctx, "/v1/mutation_header", url.Values{
		"block": {strconv.FormatUint(block, 10)},
		"order": {strconv.FormatUint(uint64(order), 10)},
	}, &out)
	return &out, err
}

// GetMutationBody returns the body for a mutation by id.
func (c *Client) GetMutationBody(ctx context.Context, id types.MutationID) (*types.MutationBody, error) {
	var out types.MutationBody
	err := c.getJSON(ctx, "/v1/mutation_body", url.Values{"id": {id.Hex()}}, &out)
	return &out, err
}

func scanQuery(start uint64, limit int) url.Values {
	q := url.Values{"start": {strconv.FormatUint(start, 10)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// ScanMutationHeader lists mutation headers starting at block start.
func (c *Client) ScanMutationHeader(ctx context.Context, start uint64, limit int) ([]types.MutationHeader, error) {
	var out []types.MutationHeader
	err := c.getJSON(ctx, "/v1/scan_mutation_header", scanQuery(start, limit), &out)
	return out, err
}

// ScanRollupRecord lists rollup records starting at block start.
func (c *Client) ScanRollupRecord(ctx context.Context, start uint64, limit int) ([]types.RollupRecord, error) {
	var out []types.RollupRecord
	err := c.getJSON(ctx, "/v1/scan_rollup_record", scanQuery(start, limit), &out)
	return out, err
}

// ScanGCRecord lists GC records starting at block start.
func (c *Client) ScanGCRecord(ctx context.Context, start uint64, limit int) ([]types.GCRecord, error) {
	var out []types.GCRecord
	err := c.getJSON(ctx, "/v1/scan_gc_record", scanQuery(start, limit), &out)
	return out, err
}

// Subscribe opens a streaming connection and delivers block events on
// the returned channel until ctx is canceled or the server closes the
// connection. The returned channel is closed when the stream ends.
func (c *Client) Subscribe(ctx context.Context, payload []byte, signature string) (<-chan types.BlockEvent, error) {
	body, err := json.Marshal(rpc.SubscribeRequest{Payload: payload, Signature: signature})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/subscribe", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("storagenode: %s", apiErr.Error)
	}

	events := make(chan types.BlockEvent)
	go func() {
		defer httpResp.Body.Close()
		defer close(events)
		dec := json.NewDecoder(httpResp.Body)
		for {
			var ev types.BlockEvent
			if err := dec.Decode(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

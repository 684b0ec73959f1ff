// Package client is a Go client for the flowledger query API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// NetFlow is the cumulative flow across the watch list. Amounts are decimal
// strings because they routinely exceed 64 bits.
type NetFlow struct {
	CumulativeIn  string `json:"cumulative_in"`
	CumulativeOut string `json:"cumulative_out"`
	NetFlow       string `json:"net_flow"`
	LastUpdated   uint64 `json:"last_updated"`
}

// Transfer is one ingested token transfer.
type Transfer struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Value       string `json:"value"`
	Timestamp   uint64 `json:"timestamp"`
}

// ListTransfersParams filters and paginates ListTransfers. Zero values use
// the server defaults.
type ListTransfersParams struct {
	Address string
	Limit   int
	Offset  int
}

// TransferList is one page of transfers.
type TransferList struct {
	Transfers []Transfer `json:"transfers"`
	Count     int        `json:"count"`
	Total     int64      `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// Client is the HTTP client for the flowledger query service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new query service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetNetFlow retrieves the current net flow aggregate.
func (c *Client) GetNetFlow(ctx context.Context) (*NetFlow, error) {
	var nf NetFlow
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/netflow", &nf); err != nil {
		return nil, err
	}
	c.logger.Debug("net flow retrieved", "net_flow", nf.NetFlow, "last_updated", nf.LastUpdated)
	return &nf, nil
}

// GetTransfer retrieves a single transfer by transaction hash.
func (c *Client) GetTransfer(ctx context.Context, txHash string) (*Transfer, error) {
	u := fmt.Sprintf("%s/api/v1/transfers/%s", c.baseURL, url.PathEscape(txHash))
	var t Transfer
	if err := c.getJSON(ctx, u, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransfers retrieves a page of transfers, newest block first.
func (c *Client) ListTransfers(ctx context.Context, params ListTransfersParams) (*TransferList, error) {
	q := url.Values{}
	if params.Address != "" {
		q.Set("address", params.Address)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}

	u := c.baseURL + "/api/v1/transfers"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var list TransferList
	if err := c.getJSON(ctx, u, &list); err != nil {
		return nil, err
	}
	c.logger.Debug("transfers listed", "count", list.Count, "total", list.Total)
	return &list, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		errResp.Error = string(body)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errResp.Error)
}

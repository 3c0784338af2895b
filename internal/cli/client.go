// Package cli is the HTTP client used by the pmctl command.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func accountPath(group, id string) string {
	return "/v1/groups/" + url.PathEscape(group) + "/accounts/" + url.PathEscape(id)
}

func (c *Client) Account(ctx context.Context, group, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, accountPath(group, id), nil, &out)
	return out, err
}

func (c *Client) TransferHistory(ctx context.Context, group, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, accountPath(group, id)+"/transfers", nil, &out)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, group, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, accountPath(group, id)+"/portfolio", nil, &out)
	return out, err
}

func (c *Client) Deposit(ctx context.Context, group, id string, amount int64) (map[string]any, error) {
	return c.amountOp(ctx, accountPath(group, id)+"/bank/deposit", amount)
}

func (c *Client) Withdraw(ctx context.Context, group, id string, amount int64) (map[string]any, error) {
	return c.amountOp(ctx, accountPath(group, id)+"/bank/withdraw", amount)
}

func (c *Client) UpgradeBank(ctx context.Context, group, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(group, id)+"/bank/upgrade", map[string]any{}, &out)
	return out, err
}

func (c *Client) CollectInterest(ctx context.Context, group, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(group, id)+"/bank/interest", map[string]any{}, &out)
	return out, err
}

func (c *Client) TakeLoan(ctx context.Context, group, id string, amount int64) (map[string]any, error) {
	return c.amountOp(ctx, accountPath(group, id)+"/loan", amount)
}

func (c *Client) Repay(ctx context.Context, group, id string, amount int64) (map[string]any, error) {
	return c.amountOp(ctx, accountPath(group, id)+"/loan/repay", amount)
}

func (c *Client) Transfer(ctx context.Context, group, from, to string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(group)+"/transfers", map[string]any{
		"from":   from,
		"to":     to,
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) Market(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", nil, &out)
	return out, err
}

func (c *Client) Instrument(ctx context.Context, code string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/"+url.PathEscape(code), nil, &out)
	return out, err
}

func (c *Client) Buy(ctx context.Context, group, id, code string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(group, id)+"/buy", map[string]any{
		"code":   code,
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) Sell(ctx context.Context, group, id, code string, value int64, all bool) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(group, id)+"/sell", map[string]any{
		"code":  code,
		"value": value,
		"all":   all,
	}, &out)
	return out, err
}

func (c *Client) InvestOpen(ctx context.Context, group, id string, amount int64) (map[string]any, error) {
	return c.amountOp(ctx, accountPath(group, id)+"/invest", amount)
}

func (c *Client) InvestAddon(ctx context.Context, group, id string, amount int64) (map[string]any, error) {
	return c.amountOp(ctx, accountPath(group, id)+"/invest/addon", amount)
}

func (c *Client) InvestClose(ctx context.Context, group, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(group, id)+"/invest/close", map[string]any{}, &out)
	return out, err
}

func (c *Client) PurchasePet(ctx context.Context, group, id, target string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(group, id)+"/pets/purchase", map[string]any{
		"target": target,
	}, &out)
	return out, err
}

func (c *Client) ReleasePet(ctx context.Context, group, id, target string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(group, id)+"/pets/release", map[string]any{
		"target": target,
	}, &out)
	return out, err
}

func (c *Client) Ransom(ctx context.Context, group, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(group, id)+"/ransom", map[string]any{}, &out)
	return out, err
}

func (c *Client) Rankings(ctx context.Context, group, kind string, limit int) (map[string]any, error) {
	path := "/v1/groups/" + url.PathEscape(group) + "/rankings?kind=" + url.QueryEscape(kind)
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) MarketTick(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/market/tick", map[string]any{}, &out)
	return out, err
}

func (c *Client) Flush(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/flush", map[string]any{}, &out)
	return out, err
}

func (c *Client) amountOp(ctx context.Context, path string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, path, map[string]any{"amount": amount}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Package rpc reads channels from a ledger node over JSON-RPC.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adamavenir/ledgerchat/internal/types"
)

// ErrReadOnly is returned by SendMessage when no signer is configured.
var ErrReadOnly = errors.New("rpc client is read-only: no signer configured")

// APIError represents a non-2xx response or a JSON-RPC error object.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 && e.Message != "" {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("rpc error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("rpc error (%d)", e.Status)
}

// FunctionCall is an entry or view function invocation.
type FunctionCall struct {
	FunctionID string   `json:"function_id"`
	TyArgs     []string `json:"ty_args"`
	Args       []any    `json:"args"`
}

// Signer signs and submits a transaction, returning its hash.
type Signer interface {
	SignAndSubmit(ctx context.Context, call FunctionCall) (string, error)
}

// Client talks to a ledger node.
type Client struct {
	endpoint   string
	pkg        string
	httpClient *http.Client
	signer     Signer
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSigner enables SendMessage.
func WithSigner(signer Signer) Option {
	return func(c *Client) { c.signer = signer }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient constructs a client for the node at rawURL and the chat package
// published at pkg.
func NewClient(rawURL, pkg string, opts ...Option) (*Client, error) {
	endpoint, err := NormalizeBaseURL(rawURL)
	if err != nil {
		return nil, err
	}
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return nil, fmt.Errorf("package address cannot be empty")
	}
	c := &Client{
		endpoint: endpoint,
		pkg:      pkg,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeBaseURL normalizes a node URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("rpc url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid rpc url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("rpc url must include scheme (https://)")
	}
	return strings.TrimRight(value, "/"), nil
}

func (c *Client) function(name string) string {
	return c.pkg + "::channel::" + name
}

// MessageCount returns the channel's total message count.
func (c *Client) MessageCount(ctx context.Context, channelID string) (uint64, error) {
	var count flexUint
	if err := c.view(ctx, c.function("get_message_count"), []any{channelID}, &count); err != nil {
		return 0, fmt.Errorf("message count for %s: %w", channelID, err)
	}
	return uint64(count), nil
}

// MessagePage returns the object ids of messages [offset, offset+size).
func (c *Client) MessagePage(ctx context.Context, channelID string, offset, size uint64) ([]string, error) {
	var ids []string
	args := []any{channelID, fmt.Sprint(offset), fmt.Sprint(size)}
	if err := c.view(ctx, c.function("get_messages_by_page"), args, &ids); err != nil {
		return nil, fmt.Errorf("message page %d+%d for %s: %w", offset, size, channelID, err)
	}
	return ids, nil
}

// MessageObjects resolves message object ids. Objects that are missing or
// fail to decode are skipped.
func (c *Client) MessageObjects(ctx context.Context, ids []string) ([]types.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var states []*objectState
	params := []any{strings.Join(ids, ","), map[string]bool{"decode": true}}
	if err := c.call(ctx, "rooch_getObjectStates", params, &states); err != nil {
		return nil, fmt.Errorf("message objects: %w", err)
	}

	messages := make([]types.Message, 0, len(states))
	for i, state := range states {
		if state == nil {
			c.logger.Debug().Str("id", idAt(ids, i)).Msg("message object missing")
			continue
		}
		msg, err := state.message()
		if err != nil {
			c.logger.Warn().Err(err).Str("id", state.ID).Msg("dropping undecodable message")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ChannelInfo returns channel metadata.
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (types.ChannelInfo, error) {
	var wire wireChannel
	if err := c.view(ctx, c.function("get_channel"), []any{channelID}, &wire); err != nil {
		return types.ChannelInfo{}, fmt.Errorf("channel %s: %w", channelID, err)
	}
	info := wire.info()
	if info.ID == "" {
		info.ID = channelID
	}
	return info, nil
}

// IsMember reports whether address belongs to the channel.
func (c *Client) IsMember(ctx context.Context, channelID, address string) (bool, error) {
	var member bool
	if err := c.view(ctx, c.function("is_channel_member"), []any{channelID, address}, &member); err != nil {
		return false, fmt.Errorf("membership of %s in %s: %w", address, channelID, err)
	}
	return member, nil
}

// SendMessage submits a send_message transaction through the signer.
func (c *Client) SendMessage(ctx context.Context, req types.SendRequest) (types.Receipt, error) {
	if c.signer == nil {
		return types.Receipt{}, ErrReadOnly
	}
	mentions := req.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	call := FunctionCall{
		FunctionID: c.function("send_message"),
		TyArgs:     []string{},
		Args:       []any{req.ChannelID, req.Content, mentions, fmt.Sprint(req.ReplyTo)},
	}
	if req.Payment != nil {
		call.FunctionID = c.function("send_message_with_payment")
		call.Args = append(call.Args, req.Payment.To, fmt.Sprint(req.Payment.Amount))
	}
	hash, err := c.signer.SignAndSubmit(ctx, call)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("send message: %w", err)
	}
	return types.Receipt{TxHash: hash}, nil
}

type viewResult struct {
	VMStatus     json.RawMessage `json:"vm_status"`
	ReturnValues []struct {
		DecodedValue json.RawMessage `json:"decoded_value"`
	} `json:"return_values"`
}

// view executes a view function and decodes its first return value.
func (c *Client) view(ctx context.Context, functionID string, args []any, out any) error {
	var result viewResult
	params := []any{FunctionCall{FunctionID: functionID, TyArgs: []string{}, Args: args}}
	if err := c.call(ctx, "rooch_executeViewFunction", params, &result); err != nil {
		return err
	}
	if status := strings.Trim(string(result.VMStatus), `"`); status != "" && status != "Executed" {
		return &APIError{Status: http.StatusOK, Message: "view function aborted: " + status}
	}
	if len(result.ReturnValues) == 0 {
		return fmt.Errorf("%s returned no values", functionID)
	}
	return json.Unmarshal(result.ReturnValues[0].DecodedValue, out)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	id := uuid.NewString()
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respData))}
	}

	var payload rpcResponse
	if err := json.Unmarshal(respData, &payload); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if payload.Error != nil {
		return &APIError{Status: resp.StatusCode, Code: payload.Error.Code, Message: payload.Error.Message}
	}
	if payload.ID != "" && payload.ID != id {
		c.logger.Debug().Str("method", method).Str("want", id).Str("got", payload.ID).Msg("mismatched response id")
	}
	if out == nil || len(payload.Result) == 0 {
		return nil
	}
	return json.Unmarshal(payload.Result, out)
}

func idAt(ids []string, i int) string {
	if i < len(ids) {
		return ids[i]
	}
	return ""
}

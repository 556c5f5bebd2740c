// Package chat implements the conversation orchestration engine: request
// construction, serial queue draining, streaming response handling, the
// tool-use loop and cost accounting, over a provider adapter selected by
// the endpoint kind.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/convoforge/go-chat/pkg/config"
	"github.com/convoforge/go-chat/pkg/history"
	"github.com/convoforge/go-chat/pkg/internal/httpclient"
	"github.com/convoforge/go-chat/pkg/provider"
	providererrors "github.com/convoforge/go-chat/pkg/provider/errors"
	"github.com/convoforge/go-chat/pkg/provider/types"
	"github.com/convoforge/go-chat/pkg/providers/anthropic"
	"github.com/convoforge/go-chat/pkg/providers/ollama"
	"github.com/convoforge/go-chat/pkg/providers/openai"
	"github.com/convoforge/go-chat/pkg/telemetry"
	"github.com/convoforge/go-chat/pkg/tools"
)

// Default inline thinking tags (Ollama convention). Streams that
// legitimately contain these literals are mis-classified; this is a known
// approximation of the tag protocol.
const (
	DefaultThinkStartTag = "<think>"
	DefaultThinkEndTag   = "</think>"
)

// Client is one independent chat engine instance. Multiple clients may
// coexist in a process; the client holds no global state.
type Client struct {
	mu       sync.Mutex
	endpoint types.Endpoint
	adapter  provider.Adapter

	transport *httpclient.Client
	hist      *history.History
	system    []types.Message
	table     *tools.Table
	queue     *requestQueue

	interrupt  atomic.Bool
	stream     bool
	keepAlive  string
	windowSize int

	caps map[string]types.Capability

	onToolInvoke ToolInvokeCallback

	pricing     *types.Pricing
	totalCost   float64
	lastCost    float64
	lastUsage   *types.Usage
	aggUsage    types.Usage
	cachePolicy types.CachePolicy

	thinkStartTag string
	thinkEndTag   string

	logger    *slog.Logger
	telemetry *telemetry.Settings
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithLogger injects the structured logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTelemetry installs telemetry settings.
func WithTelemetry(settings *telemetry.Settings) Option {
	return func(c *Client) {
		if settings != nil {
			c.telemetry = settings
		}
	}
}

// WithHistorySize sets the retained-message window.
func WithHistorySize(size int) Option {
	return func(c *Client) { c.windowSize = size }
}

// WithThinkingTags overrides the inline thinking tag pair.
func WithThinkingTags(start, end string) Option {
	return func(c *Client) {
		c.thinkStartTag = start
		c.thinkEndTag = end
	}
}

// WithRateLimiter throttles outbound requests.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.transport.SetRateLimiter(l) }
}

// New creates a client for the given endpoint.
func New(endpoint types.Endpoint, opts ...Option) (*Client, error) {
	adapter, err := adapterFor(endpoint.Kind)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:      endpoint,
		adapter:       adapter,
		transport:     httpclient.New(httpclient.Config{}),
		hist:          history.New(),
		queue:         &requestQueue{},
		stream:        true,
		keepAlive:     config.DefaultKeepAlive,
		windowSize:    config.DefaultHistorySize,
		caps:          make(map[string]types.Capability),
		cachePolicy:   types.CacheNone,
		thinkStartTag: DefaultThinkStartTag,
		thinkEndTag:   DefaultThinkEndTag,
		logger:        slog.Default(),
		telemetry:     telemetry.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.table == nil {
		c.table = tools.NewTable(c.logger)
	}
	c.applyEndpoint(endpoint)
	return c, nil
}

// FromConfig creates a client from a decoded configuration file.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	endpoint := cfg.ActiveEndpoint()
	if endpoint == nil {
		return nil, providererrors.ErrNoEndpoint
	}
	c, err := New(*endpoint, opts...)
	if err != nil {
		return nil, err
	}
	c.ApplyConfig(ctx, cfg)
	return c, nil
}

func adapterFor(kind types.EndpointKind) (provider.Adapter, error) {
	switch kind {
	case types.EndpointOllama:
		return ollama.NewAdapter(), nil
	case types.EndpointOpenAI:
		return openai.NewAdapter(), nil
	case types.EndpointAnthropic:
		return anthropic.NewAdapter(), nil
	}
	return nil, fmt.Errorf("unknown endpoint kind: %q", kind)
}

// applyEndpoint wires the transport to an endpoint. Caller holds no lock.
func (c *Client) applyEndpoint(ep types.Endpoint) {
	headers := make(map[string]string, len(ep.Headers)+1)
	for k, v := range ep.Headers {
		headers[k] = v
	}
	if ep.Kind == types.EndpointAnthropic {
		if _, ok := headers[anthropic.VersionHeader]; !ok {
			headers[anthropic.VersionHeader] = anthropic.Version
		}
	}
	c.transport.SetBaseURL(ep.URL)
	c.transport.SetHeaders(headers)
	c.transport.SetVerifyTLS(ep.ShouldVerifyTLS())
}

// ApplyConfig applies a configuration file: endpoint selection, history
// window, transport timeouts, keep-alive, streaming flag and external tool
// servers. The endpoint kind must match the client's adapter.
func (c *Client) ApplyConfig(ctx context.Context, cfg *config.Config) {
	if endpoint := cfg.ActiveEndpoint(); endpoint != nil && endpoint.Kind == c.Kind() {
		c.mu.Lock()
		c.endpoint = *endpoint
		c.mu.Unlock()
		c.applyEndpoint(*endpoint)
	} else if endpoint != nil {
		c.logger.Warn("config endpoint kind does not match client, keeping current endpoint",
			"config", endpoint.Kind, "client", c.Kind())
	}

	c.mu.Lock()
	c.windowSize = cfg.HistorySize
	c.keepAlive = cfg.KeepAlive
	c.stream = cfg.IsStream()
	c.mu.Unlock()

	c.transport.SetConnectTimeout(cfg.ServerTimeout.Connect())
	c.transport.SetReadTimeout(cfg.ServerTimeout.Read())
	c.transport.SetWriteTimeout(cfg.ServerTimeout.Write())

	c.table.ReloadServers(ctx, cfg.MCPServers(c.logger))
}

// Kind returns the endpoint kind the client speaks.
func (c *Client) Kind() types.EndpointKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.Kind
}

// URL returns the endpoint URL.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.URL
}

// Model returns the configured model name.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.Model
}

// MaxTokens returns the per-request output token limit.
func (c *Client) MaxTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.EffectiveMaxTokens()
}

// SetMaxTokens overrides the per-request output token limit.
func (c *Client) SetMaxTokens(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint.MaxTokens = count
}

// History returns the message store.
func (c *Client) History() *history.History {
	return c.hist
}

// FunctionTable returns the tool registry.
func (c *Client) FunctionTable() *tools.Table {
	return c.table
}

// SetHistorySize sets the number of messages retained in history (FIFO).
func (c *Client) SetHistorySize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowSize = size
}

// HistorySize returns the retained-message window.
func (c *Client) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowSize
}

// AddSystemMessage appends a system message; system messages are always
// sent as part of the prompt.
func (c *Client) AddSystemMessage(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = append(c.system, types.NewTextMessage(types.RoleSystem, text))
}

// ClearSystemMessages removes all system messages.
func (c *Client) ClearSystemMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = nil
}

// ClearHistoryMessages empties the active history slot.
func (c *Client) ClearHistoryMessages() {
	c.hist.Clear()
}

// GetHistory snapshots the active history as flat {role, text} records.
func (c *Client) GetHistory() []types.HistoryRecord {
	msgs := c.hist.Get()
	out := make([]types.HistoryRecord, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, types.HistoryRecord{Role: string(msg.Role), Text: msg.Text()})
	}
	return out
}

// SetHistory replaces the active history from flat records.
func (c *Client) SetHistory(records []types.HistoryRecord) {
	msgs := make([]types.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, types.NewTextMessage(types.MessageRole(r.Role), r.Text))
	}
	c.hist.Set(msgs)
}

// SetToolInvokeCallback installs the host-confirmation hook consulted
// before each tool call.
func (c *Client) SetToolInvokeCallback(cb ToolInvokeCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onToolInvoke = cb
}

// SetCachePolicy sets the outbound cache-hint policy.
func (c *Client) SetCachePolicy(policy types.CachePolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachePolicy = policy
}

// CachePolicy returns the outbound cache-hint policy.
func (c *Client) CachePolicy() types.CachePolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachePolicy
}

// SetPricing overrides the pricing used for cost accounting. Without an
// override the model name is looked up in the pricing table.
func (c *Client) SetPricing(p types.Pricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing = &p
}

// TotalCost returns the accumulated cost of all requests.
func (c *Client) TotalCost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

// LastRequestCost returns the cost of the most recent request.
func (c *Client) LastRequestCost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCost
}

// ResetCost zeroes the cost accumulators.
func (c *Client) ResetCost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalCost = 0
	c.lastCost = 0
}

// LastRequestUsage returns the usage of the most recent request, if any.
func (c *Client) LastRequestUsage() (types.Usage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastUsage == nil {
		return types.Usage{}, false
	}
	return *c.lastUsage, true
}

// AggregatedUsage returns the element-wise sum of all request usages.
func (c *Client) AggregatedUsage() types.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggUsage
}

func (c *Client) recordUsage(model string, usage types.Usage) {
	c.mu.Lock()
	u := usage
	c.lastUsage = &u
	c.aggUsage.Add(usage)
	pricing := c.pricing
	c.mu.Unlock()

	var p types.Pricing
	if pricing != nil {
		p = *pricing
	} else {
		found, ok := types.FindPricing(model)
		if !ok {
			return
		}
		p = found
	}

	cost := p.Cost(usage)
	c.mu.Lock()
	c.lastCost = cost
	c.totalCost += cost
	c.mu.Unlock()
}

// hasPricing reports whether cost accounting is configured for the model.
func (c *Client) hasPricing(model string) bool {
	c.mu.Lock()
	override := c.pricing != nil
	c.mu.Unlock()
	if override {
		return true
	}
	_, ok := types.FindPricing(model)
	return ok
}

// Interrupt asynchronously aborts the in-flight request and stops the
// queue drain.
func (c *Client) Interrupt() {
	c.interrupt.Store(true)
	c.transport.Interrupt()
}

// IsInterrupted reports whether an interrupt is pending.
func (c *Client) IsInterrupted() bool {
	return c.interrupt.Load()
}

// Startup clears the interrupt flag.
func (c *Client) Startup() {
	c.interrupt.Store(false)
}

// Shutdown interrupts any in-flight work and clears the queue, the system
// messages, the active history and the function table (terminating MCP
// children).
func (c *Client) Shutdown() {
	c.Interrupt()
	c.queue.clear()
	c.ClearSystemMessages()
	c.hist.Clear()
	c.table.Clear()
}

// ModelCapabilities returns the capability set of a model, memoized per
// client.
func (c *Client) ModelCapabilities(ctx context.Context, model string) types.Capability {
	c.mu.Lock()
	if caps, ok := c.caps[model]; ok {
		c.mu.Unlock()
		return caps
	}
	c.mu.Unlock()

	caps, err := c.adapter.Capabilities(ctx, c.transport, model)
	if err != nil {
		c.logger.Warn("failed to query model capabilities", "model", model, "error", err)
		caps = 0
	}

	c.mu.Lock()
	c.caps[model] = caps
	c.mu.Unlock()
	return caps
}

// modelHasCapability reports whether the model advertises the capability.
func (c *Client) modelHasCapability(ctx context.Context, model string, capability types.Capability) bool {
	return c.ModelCapabilities(ctx, model).Has(capability)
}

// IsRunning reports whether the server answers on its base URL.
func (c *Client) IsRunning(ctx context.Context) bool {
	resp, err := c.transport.Get(ctx, "/")
	if err != nil {
		return false
	}
	if c.Kind() == types.EndpointOllama {
		return resp.StatusCode < 400
	}
	return true
}

// List returns the names of the models the endpoint serves.
func (c *Client) List(ctx context.Context) ([]string, error) {
	resp, err := c.transport.Get(ctx, c.adapter.ModelsPath())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(resp.Body))
	}
	return c.adapter.ModelNames(resp.Body)
}

// ListJSON returns the raw model listing document.
func (c *Client) ListJSON(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.transport.Get(ctx, c.adapter.ModelsPath())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(resp.Body))
	}
	return json.RawMessage(resp.Body), nil
}

// GetModelInfo fetches the /api/show document for a model. Ollama only.
func (c *Client) GetModelInfo(ctx context.Context, model string) (map[string]interface{}, error) {
	if c.Kind() != types.EndpointOllama {
		return nil, providererrors.ErrUnsupported
	}
	var info map[string]interface{}
	if err := c.transport.PostJSON(ctx, ollama.ShowPath, map[string]interface{}{"name": model}, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// PullModel downloads a model from the registry, streaming progress through
// the callback. Ollama only.
func (c *Client) PullModel(ctx context.Context, name string, cb Callback) {
	if c.Kind() != types.EndpointOllama {
		c.logger.Warn("pull model is supported by Ollama clients only")
		cb("Pull model is supported by Ollama clients only", ReasonFatalError, false)
		return
	}

	cb(fmt.Sprintf("Pulling model: %s", name), ReasonLogNotice, false)

	body, err := json.Marshal(map[string]interface{}{"name": name, "stream": true})
	if err != nil {
		cb(err.Error(), ReasonFatalError, false)
		return
	}

	parser := ollama.NewStreamParser()
	var pullErr error
	status, err := c.transport.Post(ctx, ollama.PullPath, body, "application/json", func(data []byte) bool {
		chunks, perr := parser.Push(data)
		if perr != nil {
			pullErr = perr
			return false
		}
		for _, chunk := range chunks {
			if chunk.Kind == types.ChunkError {
				pullErr = fmt.Errorf("%s", chunk.ErrMessage)
				return false
			}
		}
		return true
	})
	if err == nil {
		err = pullErr
	}
	if err != nil {
		cb(err.Error(), ReasonFatalError, false)
		return
	}
	if status >= 400 {
		cb(fmt.Sprintf("HTTP %d", status), ReasonFatalError, false)
		return
	}
	cb("Model successfully pulled.", ReasonDone, false)
}

// Embed computes embeddings for the given inputs. Ollama only.
func (c *Client) Embed(ctx context.Context, model string, input []string) ([][]float64, error) {
	if c.Kind() != types.EndpointOllama {
		return nil, providererrors.ErrUnsupported
	}
	var resp struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	req := map[string]interface{}{"model": model, "input": input}
	if err := c.transport.PostJSON(ctx, ollama.EmbedPath, req, &resp); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

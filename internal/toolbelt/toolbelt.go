// Package toolbelt is the agent's single point of contact with the
// target API: it advertises capability and executes operations by name.
package toolbelt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dhruvshrma/persona-flow/internal/httpkit"
)

// tool is one callable operation. The table of tools is closed: it is
// built once at construction and looked up by exact name.
type tool struct {
	name      string
	signature string
	purpose   string
	call      func(ctx context.Context, args map[string]any) (any, error)
}

// Toolbelt executes shop operations against a target API base URL.
//
// Operations for undocumented endpoints (admin, internal) are
// deliberately absent from both the table and the capability text: the
// agent should not be able to discover them through this surface.
type Toolbelt struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tools      []*tool
	byName     map[string]*tool
}

// Option configures a Toolbelt.
type Option func(*Toolbelt)

// WithTimeout overrides the default 30 second outbound call ceiling.
func WithTimeout(d time.Duration) Option {
	return func(t *Toolbelt) {
		t.httpClient.Timeout = d
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Toolbelt) {
		t.logger = logger
	}
}

// New creates a Toolbelt bound to the given target API base URL.
func New(baseURL string, opts ...Option) *Toolbelt {
	t := &Toolbelt{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.register()
	return t
}

// register builds the closed operation table. Declared order here is
// the order Describe renders, which is part of the prompt contract.
func (t *Toolbelt) register() {
	t.tools = []*tool{
		{
			name:      "get_products",
			signature: "get_products()",
			purpose:   "Lists all available products.",
			call: func(ctx context.Context, _ map[string]any) (any, error) {
				return t.request(ctx, "GET", "/products", nil, nil)
			},
		},
		{
			name:      "search_products",
			signature: "search_products(q: str)",
			purpose:   "Searches for products by a query string.",
			call: func(ctx context.Context, args map[string]any) (any, error) {
				q, err := stringArg(args, "q")
				if err != nil {
					return nil, err
				}
				return t.request(ctx, "GET", "/search", url.Values{"q": {q}}, nil)
			},
		},
		{
			name:      "add_to_cart",
			signature: "add_to_cart(item_id: int, quantity: int)",
			purpose:   "Adds a specific product to the cart.",
			call: func(ctx context.Context, args map[string]any) (any, error) {
				itemID, err := intArg(args, "item_id")
				if err != nil {
					return nil, err
				}
				quantity, err := intArg(args, "quantity")
				if err != nil {
					return nil, err
				}
				body := map[string]any{"item_id": itemID, "quantity": quantity}
				return t.request(ctx, "POST", "/cart/add", nil, body)
			},
		},
		{
			name:      "get_cart",
			signature: "get_cart()",
			purpose:   "Retrieves the current contents of the shopping cart.",
			call: func(ctx context.Context, _ map[string]any) (any, error) {
				return t.request(ctx, "GET", "/cart", nil, nil)
			},
		},
		{
			name:      "get_product_total_cost",
			signature: "get_product_total_cost(product_id: int)",
			purpose:   "Gets the full cost of a single product, including all fees.",
			call: func(ctx context.Context, args map[string]any) (any, error) {
				productID, err := intArg(args, "product_id")
				if err != nil {
					return nil, err
				}
				return t.request(ctx, "GET", fmt.Sprintf("/products/%d/total_cost", productID), nil, nil)
			},
		},
		{
			name:      "checkout",
			signature: "checkout(shipping_address: str, billing_address: str)",
			purpose:   "Attempts to complete the purchase.",
			call: func(ctx context.Context, args map[string]any) (any, error) {
				shipping, err := stringArg(args, "shipping_address")
				if err != nil {
					return nil, err
				}
				billing, err := stringArg(args, "billing_address")
				if err != nil {
					return nil, err
				}
				// The catalog does not mention tax_id; the target may
				// still require it. That failure is the observation the
				// agent is meant to hit.
				body := map[string]any{
					"shipping_address": shipping,
					"billing_address":  billing,
				}
				return t.request(ctx, "POST", "/checkout", nil, body)
			},
		},
	}

	t.byName = make(map[string]*tool, len(t.tools))
	for _, op := range t.tools {
		if op.name == "" || op.call == nil {
			panic(fmt.Sprintf("toolbelt: invalid tool registration %q", op.name))
		}
		if _, dup := t.byName[op.name]; dup {
			panic(fmt.Sprintf("toolbelt: duplicate tool %q", op.name))
		}
		t.byName[op.name] = op
	}
}

// Describe returns the capability catalog injected verbatim into every
// prompt: one "name(signature): purpose" line per operation, in
// declared order. The output is stable across calls.
func (t *Toolbelt) Describe() string {
	lines := make([]string, 0, len(t.tools))
	for _, op := range t.tools {
		lines = append(lines, fmt.Sprintf("%s: %s", op.signature, op.purpose))
	}
	return strings.Join(lines, "\n")
}

// Use executes an operation by exact name and returns the result as
// indented JSON text. Use never returns a Go error and never panics:
// every failure mode is encoded as a JSON error envelope so that it can
// become an observation the agent reasons about.
func (t *Toolbelt) Use(ctx context.Context, name string, args map[string]any) string {
	op, ok := t.byName[name]
	if !ok {
		return encodeResult(map[string]any{
			"error": fmt.Sprintf("Tool '%s' not found.", name),
		})
	}

	if args == nil {
		args = map[string]any{}
	}

	result, err := op.call(ctx, args)
	if err != nil {
		var argErr *argumentError
		if asArgumentError(err, &argErr) {
			return encodeResult(map[string]any{
				"error":   "InvalidArguments",
				"details": argErr.Error(),
			})
		}
		t.logger.Warn("tool call failed", "tool", name, "error", err)
		return encodeResult(map[string]any{
			"error":   "RequestFailed",
			"details": err.Error(),
		})
	}

	return encodeResult(result)
}

// request issues one HTTP call against the target API. A non-2xx status
// is not an error: it is converted into the HTTPError envelope so the
// agent sees it as an observation.
func (t *Toolbelt) request(ctx context.Context, method, path string, query url.Values, jsonBody any) (any, error) {
	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if jsonBody != nil {
		data, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4<<10)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]any{
			"error":       "HTTPError",
			"status_code": resp.StatusCode,
			"details":     readableBody(resp.Header.Get("Content-Type"), raw),
		}, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Target promised JSON on success but sent something else.
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded, nil
}

// readableBody turns an error body into text fit for an observation.
// JSON bodies pass through decoded as their compact string form; HTML
// bodies are reduced to their visible text.
func readableBody(contentType string, raw []byte) string {
	body := string(raw)
	if strings.Contains(contentType, "html") || strings.HasPrefix(strings.TrimSpace(body), "<") {
		if text := htmlText(body); text != "" {
			return text
		}
	}
	return body
}

// encodeResult serializes any result object to indented JSON text.
func encodeResult(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		// Result objects are always plain maps/slices/scalars; this is
		// effectively unreachable but must not panic across the boundary.
		return fmt.Sprintf(`{"error": "RequestFailed", "details": %q}`, err.Error())
	}
	return string(data)
}

package n8n

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/observability"
	"github.com/danmuck/n8nctl/internal/remote"
	"github.com/rs/zerolog"
)

const (
	APIPrefix    = "/api/v1"
	HeaderAPIKey = "X-N8N-API-KEY"
	pageLimit    = 100
	detailLimit  = 200
)

// Client is a remote.Store backed by the n8n public REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   RetryPolicy
	logger  zerolog.Logger
	caFile  string
}

var _ remote.Store = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, for callers that own
// their transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

// WithCAFile trusts the PEM certificates in path for HTTPS, in addition to
// the system roots.
func WithCAFile(path string) Option {
	return func(c *Client) { c.caFile = strings.TrimSpace(path) }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a client for the instance at baseURL.
func New(baseURL string, apiKey string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("n8n: invalid api url %q", baseURL)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("n8n: api key is required")
	}
	c := &Client{
		baseURL: base,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   DefaultRetryPolicy(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.caFile != "" {
		if err := c.trustCAFile(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) trustCAFile() error {
	data, err := os.ReadFile(c.caFile)
	if err != nil {
		return fmt.Errorf("n8n: read ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("n8n: ca file %s has no PEM certificates", c.caFile)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	hc := *c.http
	hc.Transport = transport
	c.http = &hc
	return nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// do sends one logical request with retries and decodes the JSON response.
func (c *Client) do(ctx context.Context, op string, method string, endpoint string, query url.Values, body []byte) (document.Value, error) {
	target := c.baseURL + APIPrefix + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	start := time.Now()
	attempts := c.retry.attempts()

	var lastErr *APIError
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return document.Value{}, c.finish(op, start, &APIError{Method: method, Endpoint: endpoint, Attempts: attempt - 1, Detail: err.Error(), Err: err})
		}
		status, data, err := c.send(ctx, method, target, body)
		switch {
		case err != nil:
			lastErr = &APIError{Method: method, Endpoint: endpoint, Attempts: attempt, Detail: err.Error(), Err: err}
			if ctx.Err() != nil {
				return document.Value{}, c.finish(op, start, lastErr)
			}
		case retryableStatus(status):
			lastErr = &APIError{Method: method, Endpoint: endpoint, Status: status, Attempts: attempt, Detail: truncate(data)}
		case status >= 400:
			return document.Value{}, c.finish(op, start, &APIError{Method: method, Endpoint: endpoint, Status: status, Attempts: attempt, Detail: truncate(data)})
		default:
			observability.RecordRemoteCall(op, status, time.Since(start), true)
			if len(bytes.TrimSpace(data)) == 0 {
				return document.Null(), nil
			}
			v, perr := document.Parse(data)
			if perr != nil {
				return document.Value{}, &APIError{Method: method, Endpoint: endpoint, Status: status, Attempts: attempt, Detail: "decode response: " + perr.Error(), Err: perr}
			}
			return v, nil
		}

		if attempt == attempts {
			break
		}
		observability.RecordRemoteRetry(op)
		c.logger.Debug().
			Str("op", op).
			Str("method", method).
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Int("status", lastErr.Status).
			Msg("retrying remote request")
		if err := c.retry.wait(ctx, attempt); err != nil {
			lastErr.Detail = lastErr.Detail + "; " + err.Error()
			break
		}
	}
	return document.Value{}, c.finish(op, start, lastErr)
}

func (c *Client) finish(op string, start time.Time, err *APIError) error {
	observability.RecordRemoteCall(op, err.Status, time.Since(start), false)
	return err
}

func (c *Client) send(ctx context.Context, method string, target string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func truncate(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > detailLimit {
		return s[:detailLimit]
	}
	return s
}

func marshal(v document.Value) []byte {
	data, err := v.MarshalJSON()
	if err != nil {
		return []byte("null")
	}
	return data
}

func escape(id string) string { return url.PathEscape(id) }

func (c *Client) ListWorkflows(ctx context.Context) ([]remote.Workflow, error) {
	items, err := c.paginate(ctx, "list_workflows", "/workflows")
	if err != nil {
		return nil, err
	}
	out := make([]remote.Workflow, 0, len(items))
	for _, item := range items {
		wf, err := decodeWorkflow(item)
		if err != nil {
			return nil, fmt.Errorf("%w: list workflows: %w", ErrRemote, err)
		}
		out = append(out, wf)
	}
	return out, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (remote.Workflow, error) {
	v, err := c.do(ctx, "get_workflow", http.MethodGet, "/workflows/"+escape(id), nil, nil)
	if err != nil {
		return remote.Workflow{}, err
	}
	wf, err := decodeWorkflow(v)
	if err != nil {
		return remote.Workflow{}, fmt.Errorf("%w: get workflow %s: %w", ErrRemote, id, err)
	}
	wf.Document = v
	return wf, nil
}

func (c *Client) CreateWorkflow(ctx context.Context, doc document.Value) (string, error) {
	v, err := c.do(ctx, "create_workflow", http.MethodPost, "/workflows", nil, marshal(doc))
	if err != nil {
		return "", err
	}
	id, err := idField(v)
	if err != nil {
		return "", fmt.Errorf("%w: create workflow: %w", ErrRemote, err)
	}
	return id, nil
}

func (c *Client) UpdateWorkflow(ctx context.Context, id string, doc document.Value) error {
	_, err := c.do(ctx, "update_workflow", http.MethodPut, "/workflows/"+escape(id), nil, marshal(doc))
	return err
}

func (c *Client) ActivateWorkflow(ctx context.Context, id string) error {
	_, err := c.do(ctx, "activate_workflow", http.MethodPost, "/workflows/"+escape(id)+"/activate", nil, []byte("{}"))
	return err
}

func (c *Client) DeactivateWorkflow(ctx context.Context, id string) error {
	_, err := c.do(ctx, "deactivate_workflow", http.MethodPost, "/workflows/"+escape(id)+"/deactivate", nil, nil)
	return err
}

func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete_workflow", http.MethodDelete, "/workflows/"+escape(id), nil, nil)
	return err
}

func (c *Client) ListTags(ctx context.Context) ([]remote.Tag, error) {
	items, err := c.paginate(ctx, "list_tags", "/tags")
	if err != nil {
		return nil, err
	}
	out := make([]remote.Tag, 0, len(items))
	for _, item := range items {
		t, err := decodeTag(item)
		if err != nil {
			return nil, fmt.Errorf("%w: list tags: %w", ErrRemote, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Client) CreateTag(ctx context.Context, name string) (string, error) {
	body := document.NewObject()
	body.Set("name", document.String(name))
	v, err := c.do(ctx, "create_tag", http.MethodPost, "/tags", nil, marshal(document.FromObject(body)))
	if err != nil {
		return "", err
	}
	id, err := idField(v)
	if err != nil {
		return "", fmt.Errorf("%w: create tag %q: %w", ErrRemote, name, err)
	}
	return id, nil
}

func (c *Client) UpdateTag(ctx context.Context, id string, name string) error {
	body := document.NewObject()
	body.Set("name", document.String(name))
	_, err := c.do(ctx, "update_tag", http.MethodPut, "/tags/"+escape(id), nil, marshal(document.FromObject(body)))
	return err
}

func (c *Client) SetWorkflowTags(ctx context.Context, id string, tagIDs []string) error {
	items := make([]document.Value, 0, len(tagIDs))
	for _, tid := range tagIDs {
		o := document.NewObject()
		o.Set("id", document.String(tid))
		items = append(items, document.FromObject(o))
	}
	_, err := c.do(ctx, "set_workflow_tags", http.MethodPut, "/workflows/"+escape(id)+"/tags", nil, marshal(document.Array(items...)))
	return err
}

// paginate follows nextCursor until exhausted. A bare array response ends
// the walk.
func (c *Client) paginate(ctx context.Context, op string, endpoint string) ([]document.Value, error) {
	var out []document.Value
	cursor := ""
	seen := make(map[string]struct{})
	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(pageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		v, err := c.do(ctx, op, http.MethodGet, endpoint, q, nil)
		if err != nil {
			return nil, err
		}
		if items, err := v.AsArray(); err == nil {
			return append(out, items...), nil
		}
		obj, err := v.AsObject()
		if err != nil {
			return out, nil
		}
		if data, ok := obj.Get("data"); ok {
			if items, err := data.AsArray(); err == nil {
				out = append(out, items...)
			}
		}
		next, ok := obj.Get("nextCursor")
		if !ok {
			return out, nil
		}
		cursor, err = next.AsString()
		if err != nil || cursor == "" {
			return out, nil
		}
		if _, dup := seen[cursor]; dup {
			return nil, fmt.Errorf("%w: %s: pagination cursor %q repeated", ErrRemote, endpoint, cursor)
		}
		seen[cursor] = struct{}{}
	}
}

package n8n_test

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/n8n"
	"github.com/danmuck/n8nctl/internal/n8n/n8ntest"
	"github.com/danmuck/n8nctl/internal/remote"
	"github.com/danmuck/n8nctl/internal/testutil/testlog"
	"github.com/danmuck/n8nctl/internal/testutil/tlstest"
	"github.com/google/go-cmp/cmp"
)

func TestClientWorkflowLifecycle(t *testing.T) {
	logger := testlog.Start(t)
	srv := n8ntest.Start(n8ntest.WithLogger(logger))
	defer srv.Close()
	c := srv.Client(n8n.WithLogger(logger))
	ctx := context.Background()

	tagID, err := c.CreateTag(ctx, "prod")
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	id, err := c.CreateWorkflow(ctx, remote.Payload(document.Null(), "Invoice Sync"))
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if err := c.ActivateWorkflow(ctx, id); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := c.SetWorkflowTags(ctx, id, []string{tagID}); err != nil {
		t.Fatalf("set tags: %v", err)
	}

	wf, err := c.GetWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if wf.Name != "Invoice Sync" || !wf.Active {
		t.Fatalf("unexpected workflow: %+v", wf)
	}
	if diff := cmp.Diff([]string{tagID}, wf.TagIDs); diff != "" {
		t.Fatalf("unexpected tag ids (-want +got):\n%s", diff)
	}
	if name, _ := wf.Document.StringField("name"); name != "Invoice Sync" {
		t.Fatalf("expected document populated, got %q", name)
	}

	if err := c.UpdateWorkflow(ctx, id, remote.Payload(document.Null(), "Invoice Sync v2")); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.DeactivateWorkflow(ctx, id); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	list, err := c.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Invoice Sync v2" || list[0].Active {
		t.Fatalf("unexpected list: %+v", list)
	}
	if err := c.DeleteWorkflow(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = c.GetWorkflow(ctx, id)
	if !errors.Is(err, remote.ErrNotFound) || !errors.Is(err, n8n.ErrRemote) {
		t.Fatalf("expected not found api error, got %v", err)
	}
}

func TestClientSendsProtocolDetails(t *testing.T) {
	testlog.Start(t)
	srv := n8ntest.Start()
	defer srv.Close()
	c := srv.Client()
	ctx := context.Background()

	id, err := c.CreateWorkflow(ctx, remote.Payload(document.Null(), "A"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.ActivateWorkflow(ctx, id); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := c.SetWorkflowTags(ctx, id, nil); err != nil {
		t.Fatalf("set tags: %v", err)
	}
	want := []string{
		"POST /api/v1/workflows",
		"POST /api/v1/workflows/" + id + "/activate",
		"PUT /api/v1/workflows/" + id + "/tags",
	}
	if diff := cmp.Diff(want, srv.Requests()); diff != "" {
		t.Fatalf("unexpected requests (-want +got):\n%s", diff)
	}

	bad, err := n8n.New(srv.URL(), "wrong-key", n8n.WithRetryPolicy(n8n.NoDelay(3)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = bad.ListTags(ctx)
	var apiErr *n8n.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Attempts != 1 {
		t.Fatalf("expected single-attempt 401, got %v", err)
	}
}

func TestClientPaginatesTagsAndWorkflows(t *testing.T) {
	testlog.Start(t)
	srv := n8ntest.Start(n8ntest.WithPageSize(2))
	defer srv.Close()
	for i := 0; i < 5; i++ {
		srv.Store.SeedTag(fmt.Sprintf("t%d", i))
		srv.Store.Seed(remote.Workflow{Name: fmt.Sprintf("wf%d", i)})
	}
	c := srv.Client()
	ctx := context.Background()

	tags, err := c.ListTags(ctx)
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if len(tags) != 5 || tags[4].Name != "t4" {
		t.Fatalf("unexpected tags: %+v", tags)
	}
	wfs, err := c.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(wfs) != 5 {
		t.Fatalf("unexpected workflows: %+v", wfs)
	}
	var tagPages int
	for _, r := range srv.Requests() {
		if strings.HasPrefix(r, "GET /api/v1/tags") {
			tagPages++
			if !strings.Contains(r, "limit=100") {
				t.Fatalf("expected limit=100 in %q", r)
			}
		}
	}
	if tagPages != 3 {
		t.Fatalf("expected 3 tag pages, got %d", tagPages)
	}
}

func TestClientAcceptsBareListResponses(t *testing.T) {
	testlog.Start(t)
	srv := n8ntest.Start(n8ntest.WithBareLists())
	defer srv.Close()
	srv.Store.SeedTag("prod")
	srv.Store.Seed(remote.Workflow{Name: "A", Archived: true})

	c := srv.Client()
	tags, err := c.ListTags(context.Background())
	if err != nil || len(tags) != 1 || tags[0].Name != "prod" {
		t.Fatalf("unexpected tags: %+v err=%v", tags, err)
	}
	wfs, err := c.ListWorkflows(context.Background())
	if err != nil || len(wfs) != 1 || !wfs[0].Archived {
		t.Fatalf("unexpected workflows: %+v err=%v", wfs, err)
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	testlog.Start(t)
	srv := n8ntest.Start()
	defer srv.Close()
	srv.FailNext(http.MethodGet, "/api/v1/tags", http.StatusServiceUnavailable, 2)

	var delays []time.Duration
	policy := n8n.DefaultRetryPolicy()
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	c := srv.Client(n8n.WithRetryPolicy(policy))
	if _, err := c.ListTags(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if diff := cmp.Diff([]time.Duration{time.Second, 2 * time.Second}, delays); diff != "" {
		t.Fatalf("unexpected delays (-want +got):\n%s", diff)
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	srv := n8ntest.Start()
	defer srv.Close()
	srv.FailNext(http.MethodPost, "/api/v1/workflows", http.StatusTooManyRequests, 10)

	c := srv.Client()
	_, err := c.CreateWorkflow(context.Background(), remote.Payload(document.Null(), "A"))
	var apiErr *n8n.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Attempts != 3 {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if len(srv.Store.Names()) != 0 {
		t.Fatalf("no workflow should be created: %v", srv.Store.Names())
	}
}

func TestClientStopsRetryingOnCancel(t *testing.T) {
	testlog.Start(t)
	srv := n8ntest.Start()
	defer srv.Close()
	srv.FailNext(http.MethodGet, "/api/v1/tags", http.StatusBadGateway, 10)

	ctx, cancel := context.WithCancel(context.Background())
	policy := n8n.DefaultRetryPolicy()
	policy.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, err := srv.Client(n8n.WithRetryPolicy(policy)).ListTags(ctx)
	if !errors.Is(err, n8n.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if got := len(srv.Requests()); got != 1 {
		t.Fatalf("expected one request before cancel, got %d", got)
	}
}

func TestNextBackoffDelayCapsGrowth(t *testing.T) {
	cfg := n8n.DefaultRetryPolicy().Backoff
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := n8n.NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: want %s got %s", i+1, w, got)
		}
	}
	cfg.Jitter = true
	if got := n8n.NextBackoffDelay(cfg, 2, nil); got != time.Second {
		t.Fatalf("unexpected jitter without rng: %s", got)
	}
}

func TestNewValidatesInputs(t *testing.T) {
	if _, err := n8n.New("not a url", "k"); err == nil {
		t.Fatalf("expected url error")
	}
	if _, err := n8n.New("http://localhost:5678/", ""); err == nil {
		t.Fatalf("expected api key error")
	}
	c, err := n8n.New("http://localhost:5678/", "k")
	if err != nil || c.BaseURL() != "http://localhost:5678" {
		t.Fatalf("unexpected client: %v err=%v", c, err)
	}
}

func TestClientTrustsCAFile(t *testing.T) {
	bundle := tlstest.New(t, t.TempDir())
	srv := n8ntest.Start(n8ntest.WithTLS(bundle.Server))
	defer srv.Close()
	if !strings.HasPrefix(srv.URL(), "https://") {
		t.Fatalf("expected https url, got %s", srv.URL())
	}

	untrusted, err := n8n.New(srv.URL(), srv.APIKey, n8n.WithRetryPolicy(n8n.NoDelay(1)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := untrusted.ListTags(context.Background()); err == nil {
		t.Fatalf("expected certificate error without the ca file")
	}

	trusted, err := n8n.New(srv.URL(), srv.APIKey, n8n.WithCAFile(bundle.CAFile), n8n.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("new with ca: %v", err)
	}
	if _, err := trusted.CreateTag(context.Background(), "prod"); err != nil {
		t.Fatalf("create tag over tls: %v", err)
	}

	owned := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: bundle.Pool}}}
	custom, err := n8n.New(srv.URL(), srv.APIKey, n8n.WithHTTPClient(owned))
	if err != nil {
		t.Fatalf("new with http client: %v", err)
	}
	if _, err := custom.ListTags(context.Background()); err != nil {
		t.Fatalf("list tags with owned transport: %v", err)
	}

	if _, err := n8n.New(srv.URL(), srv.APIKey, n8n.WithCAFile(filepath.Join(t.TempDir(), "missing.pem"))); err == nil {
		t.Fatalf("expected error for missing ca file")
	}
}

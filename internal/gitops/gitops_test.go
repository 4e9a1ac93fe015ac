package gitops

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/invocation"
	"github.com/danmuck/n8nctl/internal/manifest"
	"github.com/danmuck/n8nctl/internal/n8n/n8ntest"
	"github.com/danmuck/n8nctl/internal/reconcile"
	"github.com/danmuck/n8nctl/internal/remote"
	"github.com/danmuck/n8nctl/internal/remote/memory"
	"github.com/danmuck/n8nctl/internal/render"
	"github.com/danmuck/n8nctl/internal/snapshot"
	"github.com/danmuck/n8nctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

const testManifest = `externalize_code: true
tags: [prod]
workflows:
  - name: Invoice Sync
    active: true
    tags: [prod]
    requires_credentials: [Billing API]
`

const invoiceDoc = `{
  "name": "Invoice Sync",
  "nodes": [
    {
      "name": "Build Invoice",
      "type": "n8n-nodes-base.code",
      "parameters": {"jsCode": "@@n8n-gitops:include scripts/Invoice_Sync/Build_Invoice.js"},
      "credentials": {"httpHeaderAuth": {"id": "7", "name": "Billing API"}}
    }
  ],
  "connections": {}
}`

const invoiceScript = "return items.map(i => ({ json: { total: i.json.amount } }));\n"

func testScope(t *testing.T) (invocation.Scope, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s := invocation.Scope{
		Logger: testlog.Start(t),
		Out:    &out,
		Now:    func() time.Time { return time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC) },
	}
	return s, &out
}

func projectFiles() map[string]string {
	return map[string]string{
		"n8n/manifests/workflows.yaml":              testManifest,
		"n8n/workflows/Invoice_Sync.json":           invoiceDoc,
		"n8n/scripts/Invoice_Sync/Build_Invoice.js": invoiceScript,
	}
}

func codeOf(t *testing.T, wf remote.Workflow) string {
	t.Helper()
	nodes, err := wf.Document.Field("nodes")
	if err != nil {
		t.Fatalf("unexpected document without nodes: %v", err)
	}
	items, _ := nodes.AsArray()
	if len(items) != 1 {
		t.Fatalf("unexpected nodes: %d", len(items))
	}
	params, err := items[0].Field("parameters")
	if err != nil {
		t.Fatalf("unexpected node without parameters: %v", err)
	}
	code, err := params.StringField("jsCode")
	if err != nil {
		t.Fatalf("unexpected jsCode: %v", err)
	}
	return code
}

func TestDeployCreatesRenderedWorkflowAndIsIdempotent(t *testing.T) {
	scope, out := testScope(t)
	store := memory.New()
	opts := DeployOptions{Source: Source{Snapshot: snapshot.NewMemory(projectFiles())}}

	res, err := Deploy(context.Background(), scope, opts, store)
	if err != nil {
		t.Fatalf("deploy: %v\n%s", err, out.String())
	}
	if !res.Applied || !res.Outcome.Complete() {
		t.Fatalf("unexpected outcome: %+v", res.Outcome)
	}
	if res.Plan.Count(reconcile.KindCreate) != 1 || res.Plan.Count(reconcile.KindCreateTag) != 1 {
		t.Fatalf("unexpected plan:\n%s", out.String())
	}

	wf, ok := store.Workflow("Invoice Sync")
	if !ok {
		t.Fatalf("expected workflow to be created, have %v", store.Names())
	}
	if !wf.Active {
		t.Fatalf("expected workflow to be active")
	}
	if got := codeOf(t, wf); got != invoiceScript {
		t.Fatalf("unexpected deployed code: %q", got)
	}
	if len(wf.TagIDs) != 1 {
		t.Fatalf("unexpected tag ids: %v", wf.TagIDs)
	}

	store.ResetJournal()
	again, err := Deploy(context.Background(), scope, opts, store)
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if !again.Plan.Empty() || again.Applied {
		t.Fatalf("expected empty plan on second deploy, got %v", again.Plan.Actions)
	}
	if m := store.Mutations(); len(m) != 0 {
		t.Fatalf("unexpected mutations: %v", m)
	}
}

func TestDeployDryRunPrintsPlanWithoutMutations(t *testing.T) {
	scope, out := testScope(t)
	store := memory.New()
	opts := DeployOptions{
		Source: Source{Snapshot: snapshot.NewMemory(projectFiles())},
		DryRun: true,
	}
	res, err := Deploy(context.Background(), scope, opts, store)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if res.Applied || res.Plan.Empty() {
		t.Fatalf("unexpected dry run result: applied=%v empty=%v", res.Applied, res.Plan.Empty())
	}
	if m := store.Mutations(); len(m) != 0 {
		t.Fatalf("unexpected mutations: %v", m)
	}
	include := "include Invoice Sync/Build Invoice.jsCode: included (scripts/Invoice_Sync/Build_Invoice.js)\n"
	got := out.String()
	at := strings.Index(got, include)
	if at < 0 {
		t.Fatalf("expected include report in output, got:\n%s", got)
	}
	if plan := strings.Index(got, `create "Invoice Sync"`); plan < at {
		t.Fatalf("expected plan after include report, got:\n%s", got)
	}
}

func TestDeployBackupNamesFromScopeClock(t *testing.T) {
	scope, _ := testScope(t)
	store := memory.New()
	if _, err := Deploy(context.Background(), scope, DeployOptions{Source: Source{Snapshot: snapshot.NewMemory(projectFiles())}}, store); err != nil {
		t.Fatalf("initial deploy: %v", err)
	}

	files := projectFiles()
	files["n8n/scripts/Invoice_Sync/Build_Invoice.js"] = "return [];\n"
	opts := DeployOptions{Source: Source{Snapshot: snapshot.NewMemory(files)}, Backup: true}
	if _, err := Deploy(context.Background(), scope, opts, store); err != nil {
		t.Fatalf("backup deploy: %v", err)
	}
	want := []string{"Invoice Sync", "Invoice Sync [BKP 2026-05-02 10:00:00]"}
	if diff := cmp.Diff(want, store.Names()); diff != "" {
		t.Fatalf("unexpected remote names (-want +got):\n%s", diff)
	}
	wf, _ := store.Workflow("Invoice Sync")
	if got := codeOf(t, wf); got != "return [];\n" {
		t.Fatalf("unexpected deployed code: %q", got)
	}
}

func TestDeployRenderFailureStopsBeforeRemote(t *testing.T) {
	scope, _ := testScope(t)
	files := projectFiles()
	delete(files, "n8n/scripts/Invoice_Sync/Build_Invoice.js")
	store := memory.New()
	opts := DeployOptions{
		Source: Source{Snapshot: snapshot.NewMemory(files)},
		Render: render.Options{Strict: true},
	}
	_, err := Deploy(context.Background(), scope, opts, store)
	if !errors.Is(err, render.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if j := store.Journal(); len(j) != 0 {
		t.Fatalf("expected no remote calls, got %v", j)
	}
}

func TestDeployReportsApplyFailures(t *testing.T) {
	scope, _ := testScope(t)
	store := memory.New()
	store.SetFailure(func(op string, _ string) error {
		if op == memory.OpActivateWorkflow {
			return errors.New("activation refused")
		}
		return nil
	})
	opts := DeployOptions{Source: Source{Snapshot: snapshot.NewMemory(projectFiles())}}
	res, err := Deploy(context.Background(), scope, opts, store)
	if !errors.Is(err, ErrApply) {
		t.Fatalf("expected ErrApply, got %v", err)
	}
	if res.Outcome.Count(reconcile.ResultFailed) != 1 {
		t.Fatalf("unexpected outcome: %+v", res.Outcome.Results)
	}
	if _, ok := store.Workflow("Invoice Sync"); !ok {
		t.Fatalf("expected create to be applied before the failure")
	}
}

func TestDeployOverHTTP(t *testing.T) {
	logger := testlog.Start(t)
	srv := n8ntest.Start(n8ntest.WithLogger(logger))
	defer srv.Close()
	scope, out := testScope(t)

	opts := DeployOptions{Source: Source{Snapshot: snapshot.NewMemory(projectFiles())}}
	if _, err := Deploy(context.Background(), scope, opts, srv.Client()); err != nil {
		t.Fatalf("deploy: %v\n%s", err, out.String())
	}
	wf, ok := srv.Store.Workflow("Invoice Sync")
	if !ok || !wf.Active {
		t.Fatalf("unexpected remote state: %+v ok=%v", wf, ok)
	}
	res, err := Deploy(context.Background(), scope, opts, srv.Client())
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if !res.Plan.Empty() {
		t.Fatalf("expected empty plan over HTTP, got %v", res.Plan.Actions)
	}
}

type gitRunner struct {
	commit string
	files  map[string]string
}

func (g gitRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, []byte, int32, error) {
	if name != "git" || len(args) == 0 {
		return nil, []byte("unexpected command"), 1, errors.New("exit status 1")
	}
	switch args[0] {
	case "rev-parse":
		if args[len(args)-1] == "v1^{commit}" {
			return []byte(g.commit + "\n"), nil, 0, nil
		}
	case "cat-file":
		rel := strings.TrimPrefix(args[len(args)-1], g.commit+":./")
		if content, ok := g.files[rel]; ok {
			if args[1] == "-t" {
				return []byte("blob\n"), nil, 0, nil
			}
			return []byte(content), nil, 0, nil
		}
	}
	return nil, []byte("fatal: not found"), 128, errors.New("exit status 128")
}

func TestRollbackDeploysPinnedCommit(t *testing.T) {
	scope, _ := testScope(t)
	store := memory.New()
	store.Seed(remote.Workflow{Name: "Invoice Sync"})

	runner := gitRunner{commit: strings.Repeat("ab", 20), files: projectFiles()}
	opts := DeployOptions{Source: Source{RepoRoot: t.TempDir(), GitRef: "v1", Runner: runner}}
	res, err := Rollback(context.Background(), scope, opts, store)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !strings.HasPrefix(res.Snapshot, "git v1 (abababababab") {
		t.Fatalf("unexpected snapshot: %q", res.Snapshot)
	}
	wf, _ := store.Workflow("Invoice Sync")
	if got := codeOf(t, wf); got != invoiceScript {
		t.Fatalf("unexpected code after rollback: %q", got)
	}
	if res.Plan.Count(reconcile.KindCreate) != 0 || res.Plan.Count(reconcile.KindUpdate) != 1 {
		t.Fatalf("expected an in-place update, got %v", res.Plan.Actions)
	}
}

func TestRollbackRequiresGitRef(t *testing.T) {
	scope, _ := testScope(t)
	_, err := Rollback(context.Background(), scope, DeployOptions{Source: Source{RepoRoot: t.TempDir()}}, memory.New())
	if !errors.Is(err, ErrGitRefRequired) {
		t.Fatalf("expected ErrGitRefRequired, got %v", err)
	}
	_, err = Rollback(context.Background(), scope, DeployOptions{Source: Source{RepoRoot: t.TempDir(), GitRef: "nope", Runner: gitRunner{}}}, memory.New())
	if !errors.Is(err, snapshot.ErrUnknownRef) {
		t.Fatalf("expected ErrUnknownRef, got %v", err)
	}
}

func TestValidateCollectsFindings(t *testing.T) {
	scope, out := testScope(t)
	files := projectFiles()
	files["n8n/manifests/workflows.yaml"] = `tags: []
workflows:
  - name: Invoice Sync
    requires_env: [BILLING_TOKEN]
  - name: Missing
`
	files["n8n/manifests/env.schema.json"] = `{"required": ["REGION"], "vars": {"RETRIES": {"type": "integer"}}}`

	report, err := Validate(context.Background(), scope, ValidateOptions{
		Source:              Source{Snapshot: snapshot.NewMemory(files)},
		EnforceNoInlineCode: true,
		Environ:             map[string]string{"RETRIES": "many"},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	wantErrors := []string{
		`workflow "Missing": snapshot: file not found: n8n/workflows/Missing.json`,
		`workflow "Invoice Sync": required environment variable 'BILLING_TOKEN' is not set`,
		`required environment variable 'REGION' is not set`,
		`environment variable 'RETRIES' must be an integer`,
	}
	for _, want := range wantErrors {
		if !containsLine(report.Errors, want) {
			t.Fatalf("expected error %q in %q", want, report.Errors)
		}
	}
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], `"Billing API"`) {
		t.Fatalf("unexpected warnings: %q", report.Warnings)
	}
	if !strings.Contains(out.String(), "error: ") {
		t.Fatalf("expected findings in output, got:\n%s", out.String())
	}
}

func TestValidatePrintsIncludesOnSuccess(t *testing.T) {
	scope, out := testScope(t)
	opts := ValidateOptions{Source: Source{Snapshot: snapshot.NewMemory(projectFiles())}, Environ: map[string]string{}}

	if _, err := Validate(context.Background(), scope, opts); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := "include Invoice Sync/Build Invoice.jsCode: included (scripts/Invoice_Sync/Build_Invoice.js)\n" +
		"Validated 1 workflow(s) from memory (3 files)\n"
	if got := out.String(); got != want {
		t.Fatalf("unexpected output:\n%s", got)
	}
}

func TestValidateStrictFailsOnWarnings(t *testing.T) {
	scope, _ := testScope(t)
	files := projectFiles()
	files["n8n/manifests/workflows.yaml"] = "tags: []\nworkflows:\n  - name: Invoice Sync\n"
	opts := ValidateOptions{Source: Source{Snapshot: snapshot.NewMemory(files)}, Environ: map[string]string{}}

	report, err := Validate(context.Background(), scope, opts)
	if err != nil {
		t.Fatalf("unexpected failure without strict: %v", err)
	}
	if len(report.Errors) != 0 || len(report.Warnings) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	opts.Strict = true
	if _, err := Validate(context.Background(), scope, opts); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected strict failure, got %v", err)
	}
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if strings.Contains(l, want) {
			return true
		}
	}
	return false
}

func seedExportStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	prod := store.SeedTag("prod")
	store.SeedTag("billing")
	doc, err := document.Parse([]byte(`{
		"id": "ignored",
		"name": "Invoice Sync",
		"nodes": [{"name": "Build Invoice", "parameters": {"jsCode": ` + quoteJSON(invoiceScript) + `},
			"credentials": {"httpHeaderAuth": {"id": "7", "name": "Billing API"}}}],
		"connections": {}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	store.Seed(remote.Workflow{Name: "Invoice Sync", Active: true, TagIDs: []string{prod}, Document: remote.Payload(doc, "Invoice Sync")})
	store.Seed(remote.Workflow{Name: "Invoice Sync"})
	store.Seed(remote.Workflow{Name: "Old", Archived: true})
	return store
}

func quoteJSON(s string) string {
	data, _ := document.String(s).MarshalJSON()
	return string(data)
}

func TestExportMirrorsRemoteAndRoundTrips(t *testing.T) {
	scope, _ := testScope(t)
	repo := t.TempDir()
	stale := filepath.Join(repo, "n8n", "workflows", "Stale.json")
	staleScript := filepath.Join(repo, "n8n", "scripts", "Stale", "x.js")
	for _, p := range []string{stale, staleScript} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	store := seedExportStore(t)

	res, err := Export(context.Background(), scope, ExportOptions{RepoRoot: repo}, store)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if diff := cmp.Diff([]string{"Invoice Sync"}, res.Workflows); diff != "" {
		t.Fatalf("unexpected exported workflows (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Invoice Sync"}, res.Skipped); diff != "" {
		t.Fatalf("unexpected skipped workflows (-want +got):\n%s", diff)
	}
	for _, p := range []string{stale, staleScript} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed", p)
		}
	}

	script, err := os.ReadFile(filepath.Join(repo, "n8n", "scripts", "Invoice_Sync", "Build_Invoice.js"))
	if err != nil || string(script) != invoiceScript {
		t.Fatalf("unexpected script: %q err=%v", script, err)
	}
	exported, err := os.ReadFile(filepath.Join(repo, "n8n", "workflows", "Invoice_Sync.json"))
	if err != nil {
		t.Fatalf("read exported workflow: %v", err)
	}
	if strings.Contains(string(exported), `"id": "ignored"`) || !strings.Contains(string(exported), render.Marker) {
		t.Fatalf("unexpected exported document:\n%s", exported)
	}

	creds, err := os.ReadFile(filepath.Join(repo, "n8n", CredentialsFile))
	if err != nil {
		t.Fatalf("read credentials: %v", err)
	}
	var gotCreds map[string][]credentialUse
	if err := yaml.Unmarshal(creds, &gotCreds); err != nil {
		t.Fatalf("decode credentials: %v", err)
	}
	wantCreds := map[string][]credentialUse{
		"httpHeaderAuth": {{Name: "Billing API", Workflows: []string{"Invoice Sync"}}},
	}
	if diff := cmp.Diff(wantCreds, gotCreds); diff != "" {
		t.Fatalf("unexpected credentials.yaml (-want +got):\n%s", diff)
	}

	snap, err := snapshot.NewWorkingTree(repo)
	if err != nil {
		t.Fatalf("open working tree: %v", err)
	}
	m, err := manifest.Load(snap, "n8n")
	if err != nil {
		t.Fatalf("load exported manifest: %v", err)
	}
	want := manifest.Manifest{
		ExternalizeCode: true,
		Tags:            []string{"billing", "prod"},
		Workflows: []manifest.WorkflowSpec{{
			Name:                "Invoice Sync",
			Active:              true,
			Tags:                []string{"prod"},
			RequiresCredentials: []string{"Billing API"},
			RequiresEnv:         []string{},
		}},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("unexpected exported manifest (-want +got):\n%s", diff)
	}

	if _, err := Validate(context.Background(), scope, ValidateOptions{
		Source:  Source{RepoRoot: repo},
		Strict:  true,
		Environ: map[string]string{},
	}); err != nil {
		t.Fatalf("exported tree should validate: %v", err)
	}
}

func TestExportThenDeployIsNoop(t *testing.T) {
	scope, _ := testScope(t)
	repo := t.TempDir()
	store := memory.New()
	doc, err := document.Parse([]byte(`{"nodes": [{"name": "Build Invoice", "parameters": {"jsCode": ` + quoteJSON(invoiceScript) + `}}], "connections": {}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	store.Seed(remote.Workflow{Name: "Invoice Sync", Active: true, Document: remote.Payload(doc, "Invoice Sync")})

	if _, err := Export(context.Background(), scope, ExportOptions{RepoRoot: repo}, store); err != nil {
		t.Fatalf("export: %v", err)
	}
	store.ResetJournal()
	res, err := Deploy(context.Background(), scope, DeployOptions{Source: Source{RepoRoot: repo}}, store)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !res.Plan.Empty() {
		t.Fatalf("expected no changes after export, got %v", res.Plan.Actions)
	}
	if m := store.Mutations(); len(m) != 0 {
		t.Fatalf("unexpected mutations: %v", m)
	}
}

func TestExportKeepsInlineCodeWhenDisabled(t *testing.T) {
	scope, _ := testScope(t)
	repo := t.TempDir()
	off := false
	if _, err := Export(context.Background(), scope, ExportOptions{RepoRoot: repo, ExternalizeCode: &off}, seedExportStore(t)); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(repo, "n8n", "workflows", "Invoice_Sync.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), render.Marker) {
		t.Fatalf("expected inline code, got:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(repo, "n8n", "scripts", "Invoice_Sync")); !os.IsNotExist(err) {
		t.Fatalf("expected no scripts directory, stat err=%v", err)
	}
}

func TestCreateProjectScaffoldsLayout(t *testing.T) {
	scope, _ := testScope(t)
	dir := filepath.Join(t.TempDir(), "proj")
	written, err := CreateProject(scope, dir, "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if len(written) == 0 {
		t.Fatalf("expected scaffolded files")
	}
	snap, err := snapshot.NewWorkingTree(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := manifest.Load(snap, "n8n"); err != nil {
		t.Fatalf("scaffolded manifest should load: %v", err)
	}
	if _, err := CreateProject(scope, dir, ""); !errors.Is(err, ErrProjectExists) {
		t.Fatalf("expected ErrProjectExists, got %v", err)
	}
}

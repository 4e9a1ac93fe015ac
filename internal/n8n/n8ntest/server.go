package n8ntest

import (
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/n8nctl/internal/auth"
	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/n8n"
	"github.com/danmuck/n8nctl/internal/observability"
	"github.com/danmuck/n8nctl/internal/remote"
	"github.com/danmuck/n8nctl/internal/remote/memory"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const DefaultAPIKey = "test-api-key"

// Server emulates the n8n public API over a memory store.
type Server struct {
	Store  *memory.Store
	APIKey string

	mu        sync.Mutex
	pageSize  int
	bareLists bool
	failures  []failure
	requests  []string

	engine *gin.Engine
	http   *httptest.Server
	cert   *tls.Certificate
	logger zerolog.Logger
}

type failure struct {
	method string
	prefix string
	status int
	left   int
}

type Option func(*Server)

// WithPageSize caps list pages regardless of the requested limit.
func WithPageSize(n int) Option {
	return func(s *Server) { s.pageSize = n }
}

// WithBareLists answers list calls with a bare array and no cursor.
func WithBareLists() Option {
	return func(s *Server) { s.bareLists = true }
}

// WithTLS serves HTTPS with cert instead of plain HTTP.
func WithTLS(cert tls.Certificate) Option {
	return func(s *Server) { s.cert = &cert }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Start serves a fresh store on a loopback httptest server. Close it when done.
func Start(opts ...Option) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		Store:    memory.New(),
		APIKey:   DefaultAPIKey,
		pageSize: 100,
		engine:   gin.New(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine.Use(observability.ObserveRequests("n8ntest", s.logger), s.record, auth.RequireHeader(n8n.HeaderAPIKey, auth.FuncValidator(s.validateKey)), s.injectFailures)
	s.registerRoutes()
	s.http = httptest.NewUnstartedServer(s.engine)
	if s.cert != nil {
		s.http.TLS = &tls.Config{Certificates: []tls.Certificate{*s.cert}}
		s.http.StartTLS()
	} else {
		s.http.Start()
	}
	return s
}

func (s *Server) URL() string { return s.http.URL }

func (s *Server) Close() { s.http.Close() }

// Client returns an API client for this server that never sleeps between
// retries.
func (s *Server) Client(opts ...n8n.Option) *n8n.Client {
	all := append([]n8n.Option{n8n.WithRetryPolicy(n8n.NoDelay(3))}, opts...)
	c, err := n8n.New(s.URL(), s.APIKey, all...)
	if err != nil {
		panic(err)
	}
	return c
}

// FailNext answers the next count requests matching method and path prefix
// with status.
func (s *Server) FailNext(method string, pathPrefix string, status int, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method: method, prefix: pathPrefix, status: status, left: count})
}

// Requests returns "METHOD /path?query" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) record(c *gin.Context) {
	line := c.Request.Method + " " + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		line += "?" + c.Request.URL.RawQuery
	}
	s.mu.Lock()
	s.requests = append(s.requests, line)
	s.mu.Unlock()
	c.Next()
}

// validateKey reads APIKey per request so tests may rotate it.
func (s *Server) validateKey(key string) error {
	return auth.StaticKey{Key: s.APIKey}.Validate(key)
}

func (s *Server) injectFailures(c *gin.Context) {
	s.mu.Lock()
	status := 0
	for i := range s.failures {
		f := &s.failures[i]
		if f.left > 0 && f.method == c.Request.Method && strings.HasPrefix(c.Request.URL.Path, f.prefix) {
			f.left--
			status = f.status
			break
		}
	}
	s.mu.Unlock()
	if status != 0 {
		c.AbortWithStatusJSON(status, gin.H{"message": "injected failure"})
		return
	}
	c.Next()
}

func (s *Server) registerRoutes() {
	api := s.engine.Group(n8n.APIPrefix)
	api.GET("/workflows", s.listWorkflows)
	api.POST("/workflows", s.createWorkflow)
	api.GET("/workflows/:id", s.getWorkflow)
	api.PUT("/workflows/:id", s.updateWorkflow)
	api.DELETE("/workflows/:id", s.deleteWorkflow)
	api.POST("/workflows/:id/activate", s.activate)
	api.POST("/workflows/:id/deactivate", s.deactivate)
	api.PUT("/workflows/:id/tags", s.setTags)
	api.GET("/tags", s.listTags)
	api.POST("/tags", s.createTag)
	api.PUT("/tags/:id", s.updateTag)
}

func writeDocument(c *gin.Context, status int, v document.Value) {
	data, err := v.MarshalJSON()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.Data(status, "application/json", data)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, remote.ErrNotFound) {
		status = http.StatusNotFound
	}
	c.AbortWithStatusJSON(status, gin.H{"message": err.Error()})
}

func readDocument(c *gin.Context) (document.Value, bool) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, err)
		return document.Value{}, false
	}
	v, err := document.Parse(data)
	if err != nil {
		writeError(c, err)
		return document.Value{}, false
	}
	return v, true
}

func (s *Server) tagNames(c *gin.Context) (map[string]string, bool) {
	tags, err := s.Store.ListTags(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[t.ID] = t.Name
	}
	return out, true
}

// page slices items by the cursor, an opaque offset, and the smaller of
// limit and the configured page size.
func (s *Server) page(c *gin.Context, items []document.Value) {
	s.mu.Lock()
	size, bare := s.pageSize, s.bareLists
	s.mu.Unlock()
	if bare {
		writeDocument(c, http.StatusOK, document.Array(items...))
		return
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < size {
		size = limit
	}
	offset, _ := strconv.Atoi(c.Query("cursor"))
	if offset < 0 || offset > len(items) {
		offset = len(items)
	}
	end := offset + size
	if end > len(items) {
		end = len(items)
	}
	out := document.NewObject()
	out.Set("data", document.Array(items[offset:end]...))
	if end < len(items) {
		out.Set("nextCursor", document.String(strconv.Itoa(end)))
	} else {
		out.Set("nextCursor", document.Null())
	}
	writeDocument(c, http.StatusOK, document.FromObject(out))
}

func (s *Server) listWorkflows(c *gin.Context) {
	ctx := c.Request.Context()
	names, ok := s.tagNames(c)
	if !ok {
		return
	}
	list, err := s.Store.ListWorkflows(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]document.Value, 0, len(list))
	for _, wf := range list {
		full, err := s.Store.GetWorkflow(ctx, wf.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		items = append(items, n8n.EncodeWorkflow(full, names))
	}
	s.page(c, items)
}

func (s *Server) getWorkflow(c *gin.Context) {
	names, ok := s.tagNames(c)
	if !ok {
		return
	}
	wf, err := s.Store.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeDocument(c, http.StatusOK, n8n.EncodeWorkflow(wf, names))
}

func (s *Server) createWorkflow(c *gin.Context) {
	doc, ok := readDocument(c)
	if !ok {
		return
	}
	if _, err := doc.StringField("name"); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	id, err := s.Store.CreateWorkflow(ctx, doc)
	if err != nil {
		writeError(c, err)
		return
	}
	wf, err := s.Store.GetWorkflow(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeDocument(c, http.StatusOK, n8n.EncodeWorkflow(wf, nil))
}

func (s *Server) updateWorkflow(c *gin.Context) {
	doc, ok := readDocument(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.Store.UpdateWorkflow(ctx, id, doc); err != nil {
		writeError(c, err)
		return
	}
	wf, err := s.Store.GetWorkflow(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeDocument(c, http.StatusOK, n8n.EncodeWorkflow(wf, nil))
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	if err := s.Store.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

func (s *Server) activate(c *gin.Context) {
	s.toggle(c, true)
}

func (s *Server) deactivate(c *gin.Context) {
	s.toggle(c, false)
}

func (s *Server) toggle(c *gin.Context, active bool) {
	ctx := c.Request.Context()
	id := c.Param("id")
	var err error
	if active {
		err = s.Store.ActivateWorkflow(ctx, id)
	} else {
		err = s.Store.DeactivateWorkflow(ctx, id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	wf, err := s.Store.GetWorkflow(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeDocument(c, http.StatusOK, n8n.EncodeWorkflow(wf, nil))
}

func (s *Server) setTags(c *gin.Context) {
	body, ok := readDocument(c)
	if !ok {
		return
	}
	items, err := body.AsArray()
	if err != nil {
		writeError(c, err)
		return
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := item.StringField("id")
		if err != nil {
			writeError(c, err)
			return
		}
		ids = append(ids, id)
	}
	if err := s.Store.SetWorkflowTags(c.Request.Context(), c.Param("id"), ids); err != nil {
		writeError(c, err)
		return
	}
	tags := make([]document.Value, 0, len(ids))
	for _, id := range ids {
		tags = append(tags, n8n.EncodeTag(remote.Tag{ID: id}))
	}
	writeDocument(c, http.StatusOK, document.Array(tags...))
}

func (s *Server) listTags(c *gin.Context) {
	tags, err := s.Store.ListTags(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]document.Value, 0, len(tags))
	for _, t := range tags {
		items = append(items, n8n.EncodeTag(t))
	}
	s.page(c, items)
}

func (s *Server) createTag(c *gin.Context) {
	body, ok := readDocument(c)
	if !ok {
		return
	}
	name, err := body.StringField("name")
	if err != nil {
		writeError(c, err)
		return
	}
	id, err := s.Store.CreateTag(c.Request.Context(), name)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	}
	writeDocument(c, http.StatusOK, n8n.EncodeTag(remote.Tag{ID: id, Name: name}))
}

func (s *Server) updateTag(c *gin.Context) {
	body, ok := readDocument(c)
	if !ok {
		return
	}
	name, err := body.StringField("name")
	if err != nil {
		writeError(c, err)
		return
	}
	id := c.Param("id")
	if err := s.Store.UpdateTag(c.Request.Context(), id, name); err != nil {
		writeError(c, err)
		return
	}
	writeDocument(c, http.StatusOK, n8n.EncodeTag(remote.Tag{ID: id, Name: name}))
}

package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestObserveRequestsLogsRouteAndLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	r := gin.New()
	r.Use(ObserveRequests("unit", logger))
	r.GET("/items/:id", func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
	})

	for _, target := range []string{"/items/1?x=y", "/items/missing", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("unexpected log lines: %q", lines)
	}
	wants := [][]string{
		{`"level":"debug"`, `"route":"/items/:id"`, `"uri":"/items/1?x=y"`, `"status":200`},
		{`"level":"warn"`, `"route":"/items/:id"`, `"status":404`},
		{`"level":"warn"`, `"route":"unmatched"`, `"server":"unit"`},
	}
	for i, want := range wants {
		for _, w := range want {
			if !strings.Contains(lines[i], w) {
				t.Fatalf("line %d: expected %s in %s", i, w, lines[i])
			}
		}
	}
}

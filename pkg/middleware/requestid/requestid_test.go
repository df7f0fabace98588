package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func run(header string) (string, string, string) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	var fromGin, fromCtx string
	router.GET("/", func(c *gin.Context) {
		fromGin = Value(c)
		fromCtx = FromContext(c.Request.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(HeaderKey, header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return fromGin, fromCtx, w.Header().Get(HeaderKey)
}

func TestMiddlewareReusesInboundID(t *testing.T) {
	fromGin, fromCtx, echoed := run("abc-123")
	assert.Equal(t, "abc-123", fromGin)
	assert.Equal(t, "abc-123", fromCtx)
	assert.Equal(t, "abc-123", echoed)
}

func TestMiddlewareReplacesMalformedID(t *testing.T) {
	fromGin, _, echoed := run("bad id\r\nX-Injected: 1")
	_, err := uuid.Parse(fromGin)
	assert.NoError(t, err)
	assert.Equal(t, fromGin, echoed)
}

func TestMiddlewareGeneratesID(t *testing.T) {
	fromGin, fromCtx, _ := run("")
	assert.NotEmpty(t, fromGin)
	assert.Equal(t, fromGin, fromCtx)
}

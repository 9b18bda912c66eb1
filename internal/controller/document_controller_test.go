package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"annotation-collab-be/internal/persistence"
	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/internal/pkg/serverutils"
	"annotation-collab-be/internal/repository/memory"
	"annotation-collab-be/internal/service"
	internalWS "annotation-collab-be/internal/websocket"
	"annotation-collab-be/pkg/export"
	"annotation-collab-be/pkg/offset"
	"annotation-collab-be/pkg/projection"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "controller-secret"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	log := logger.NewNopLogger()
	repo := memory.NewDocumentRepository()
	loader := service.NewDocumentLoader(repo, persistence.NewMemoryStore(), nil, "server")
	hub := internalWS.NewHub(loader, nil, nil, nil, internalWS.Options{MaxBacklog: 8, MaxChunkBytes: 1024, MaxChunks: 8}, log)
	t.Cleanup(hub.Close)

	docs := service.NewDocumentService(repo, loader, hub, nil, log)
	exports := service.NewExportService(repo, loader, hub, export.Registry{"html": export.NewHTMLFormatter()}, log)

	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware(ErrorStatus))
	NewDocumentController(docs, exports, serverutils.NewJwtMiddleware(testSecret)).RegisterRoutes(app.Group("/api"))
	return app
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "user-1"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", bearer(t))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func importDocument(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp, env := do(t, app, http.MethodPost, "/api/documents", `{"title":"Doc","content":"<p>Hello <b>world</b></p>"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var doc struct {
		Id         string `json:"id"`
		CharLength int    `json:"char_length"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, 11, doc.CharLength)
	return doc.Id
}

func TestDocumentRoutes(t *testing.T) {
	app := newTestApp(t)
	id := importDocument(t, app)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "show", method: http.MethodGet, path: "/api/documents/" + id, status: http.StatusOK},
		{name: "list", method: http.MethodGet, path: "/api/documents?limit=5", status: http.StatusOK},
		{name: "locate", method: http.MethodGet, path: "/api/documents/" + id + "/locate?offset=6", status: http.StatusOK},
		{name: "locate past end", method: http.MethodGet, path: "/api/documents/" + id + "/locate?offset=99", status: http.StatusUnprocessableEntity},
		{name: "locate without offset", method: http.MethodGet, path: "/api/documents/" + id + "/locate", status: http.StatusBadRequest},
		{name: "state", method: http.MethodGet, path: "/api/documents/" + id + "/state", status: http.StatusOK},
		{name: "unknown document", method: http.MethodGet, path: "/api/documents/" + uuid.NewString(), status: http.StatusNotFound},
		{name: "malformed id", method: http.MethodGet, path: "/api/documents/nope", status: http.StatusBadRequest},
		{name: "invalid import", method: http.MethodPost, path: "/api/documents", body: `{"title":""}`, status: http.StatusBadRequest},
		{name: "unknown export format", method: http.MethodGet, path: "/api/documents/" + id + "/export?format=pdf", status: http.StatusBadRequest},
		{
			name:   "parity",
			method: http.MethodPost,
			path:   "/api/documents/" + id + "/parity",
			body:   fmt.Sprintf(`{"char_length":11,"checksum":%q}`, offset.Flatten("<p>Hello <b>world</b></p>").Checksum()),
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := do(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.status < 400, env.Success)
		})
	}
}

func TestExportDownload(t *testing.T) {
	app := newTestApp(t)
	id := importDocument(t, app)

	resp, _ := do(t, app, http.MethodGet, "/api/documents/"+id+"/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), id+".html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Hello <b>world</b>")
}

func TestRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		ok     bool
	}{
		{err: service.ErrDocumentNotFound, status: http.StatusNotFound, ok: true},
		{err: service.ErrInvalidDocumentID, status: http.StatusBadRequest, ok: true},
		{err: fmt.Errorf("wrapped: %w", offset.ErrOffsetOutOfRange), status: http.StatusUnprocessableEntity, ok: true},
		{err: &shareddoc.AddressingError{HighlightID: "h", Reason: shareddoc.ReasonOutOfBounds}, status: http.StatusUnprocessableEntity, ok: true},
		{err: projection.ErrExportPrecondition, status: http.StatusUnprocessableEntity, ok: true},
		{err: export.ErrFormatterUnavailable, status: http.StatusServiceUnavailable, ok: true},
		{err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			status, ok := ErrorStatus(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.status, status)
		})
	}
}


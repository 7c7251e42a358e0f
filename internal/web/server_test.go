package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sitebook/internal/config"
	"github.com/JonMunkholm/sitebook/internal/core"
	"github.com/JonMunkholm/sitebook/internal/schema"
	"github.com/JonMunkholm/sitebook/internal/store/memstore"
	"github.com/JonMunkholm/sitebook/internal/workbook"
)

type fakeArchiver struct {
	names []string
	err   error
}

func (f *fakeArchiver) Archive(_ context.Context, name string, wb *workbook.Workbook) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, name)
	return "exports/2025/01/01/" + name + ".xlsx", nil
}

type testServer struct {
	srv     *Server
	store   *memstore.Store
	limiter *core.ImportLimiter
}

func newTestServer(t *testing.T, env map[string]string, archiver Archiver) *testServer {
	t.Helper()
	cfg, err := config.LoadFrom(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := schema.MustLoad()
	store := memstore.New(reg)
	limiter := core.NewImportLimiter(1, 20*time.Millisecond)

	srv := NewServer(cfg, Deps{
		Registry: reg,
		Importer: core.NewImporter(reg, store, core.WithLogger(logger)),
		Exporter: core.NewExporter(reg, store, logger),
		Limiter:  limiter,
		Archiver: archiver,
		Logger:   logger,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{srv: srv, store: store, limiter: limiter}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	return ts.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (ts *testServer) postJSON(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

const usersJSON = `{"sheets":[{"name":"users","rows":[{"email":"pm@x.com","firstName":"Pat","lastName":"Lee"}]}]}`

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	rec := ts.get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListAndDescribeTables(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.get("/api/tables")
	require.Equal(t, http.StatusOK, rec.Code)
	var tables []TableInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tables))
	require.Len(t, tables, 22)
	assert.Equal(t, "users", tables[0].Name)
	assert.Empty(t, tables[0].Fields)

	rec = ts.get("/api/tables/projects")
	require.Equal(t, http.StatusOK, rec.Code)
	var projects TableInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projects))
	assert.Equal(t, "surrogate", projects.Policy)
	fields := map[string]FieldInfo{}
	for _, f := range projects.Fields {
		fields[f.Name] = f
	}
	assert.Equal(t, "customers", fields["customerId"].References)
	assert.Equal(t, "PLANNING", fields["status"].EnumValues[0])
	assert.True(t, fields["id"].PrimaryKey)

	rec = ts.get("/api/tables/widgets")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TBL001", decodeError(t, rec).Code)
}

func TestImport_JSONThenExport(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.postJSON(t, usersJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ImportID)
	assert.Equal(t, core.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.TotalSuccessful)
	assert.Nil(t, resp.Error)
	assert.Equal(t, 1, ts.store.Len("users"))

	rec = ts.get("/api/export/users")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="users-`)

	wb, err := workbook.ReadXLSX(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	assert.Equal(t, "users", wb.Sheets[0].Name)
	assert.Len(t, wb.Sheets[0].Records(), 1)
}

func TestImport_RawCSVBody(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/import?filename=customers.csv",
		strings.NewReader("name,primaryEmail\nAcme,ops@acme.test\nBuildCo,hq@buildco.test\n"))
	req.Header.Set("Content-Type", "text/csv")
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, ts.store.Len("customers"))
}

func TestImport_Multipart(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "customers.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("name,primaryEmail\nAcme,ops@acme.test\n"))
	part, err = mw.CreateFormFile("file", "users.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("email,firstName,lastName\npm@x.com,Pat,Lee\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalSheets)
	assert.Equal(t, 1, ts.store.Len("customers"))
	assert.Equal(t, 1, ts.store.Len("users"))
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		contentType string
		body        string
		wantStatus  int
		wantCode    string
	}{
		{"unsupported content", nil, "text/plain", "hello", http.StatusUnprocessableEntity, "FILE003"},
		{"empty sheets", nil, "application/json", `{"sheets":[]}`, http.StatusUnprocessableEntity, "IMP001"},
		{"no data rows", nil, "application/json", `{"sheets":[{"name":"users","rows":[]}]}`, http.StatusUnprocessableEntity, "IMP001"},
		{"body too large", map[string]string{"IMPORT_MAX_FILE_SIZE": "16"}, "application/json", usersJSON, http.StatusRequestEntityTooLarge, "FILE001"},
		{"multipart without file", nil, "multipart/form-data; boundary=x", "--x--\r\n", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.env, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := ts.do(req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			}
		})
	}
}

func TestImport_TooManyImports(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	require.NoError(t, ts.limiter.Acquire(context.Background()))
	defer ts.limiter.Release()

	rec := ts.postJSON(t, usersJSON)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, core.MapError(core.ErrTooManyImports).Code, decodeError(t, rec).Code)
	assert.Zero(t, ts.store.Len("users"))
}

func TestExport_Errors(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.get("/api/export")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "EXP001", decodeError(t, rec).Code)

	rec = ts.get("/api/export/users")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "EXP002", decodeError(t, rec).Code)

	rec = ts.get("/api/export/widgets")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TBL001", decodeError(t, rec).Code)
}

func TestExportAll_ReportsSkippedTables(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	require.Equal(t, http.StatusOK, ts.postJSON(t, usersJSON).Code)

	rec := ts.get("/api/export")
	require.Equal(t, http.StatusOK, rec.Code)
	skipped := strings.Split(rec.Header().Get("X-Export-Skipped"), ",")
	assert.Len(t, skipped, 21)
	assert.NotContains(t, skipped, "users")

	rec = ts.get("/api/export?format=csv")
	assert.Equal(t, http.StatusOK, rec.Code, "a single exported table fits in one csv")

	rec = ts.get("/api/export/users?format=pdf")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTemplates(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.get("/api/templates/projects?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	header, _, _ := strings.Cut(rec.Body.String(), "\n")
	assert.True(t, strings.HasPrefix(header, "projectNumber,"), header)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "projects-template-")

	rec = ts.get("/api/templates")
	require.Equal(t, http.StatusOK, rec.Code)
	wb, err := workbook.ReadXLSX(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, wb.Sheets, 22)

	rec = ts.get("/api/templates?format=csv")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.get("/api/templates/widgets")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExport_Archive(t *testing.T) {
	archiver := &fakeArchiver{}
	ts := newTestServer(t, nil, archiver)
	require.Equal(t, http.StatusOK, ts.postJSON(t, usersJSON).Code)

	rec := ts.get("/api/export/users?archive=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "exports/2025/01/01/users.xlsx", rec.Header().Get("X-Archive-Key"))
	assert.Equal(t, []string{"users"}, archiver.names)

	archiver.err = errors.New("access denied")
	rec = ts.get("/api/export/users?archive=true")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "EXP004", decodeError(t, rec).Code)

	noArchive := newTestServer(t, nil, nil)
	rec = noArchive.get("/api/templates/users?archive=1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EXP003", decodeError(t, rec).Code)
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, map[string]string{"REQUIRE_API_KEY": "true", "API_KEYS": "k1"}, nil)

	assert.Equal(t, http.StatusOK, ts.get("/health").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.get("/api/tables").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tables", nil)
	req.Header.Set("X-API-Key", "k1")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, nil, &fakeArchiver{})

	rec := ts.get("/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 22, st.Tables)
	assert.Equal(t, 1, st.Imports.MaxConcurrent)
	assert.True(t, st.Archive)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, map[string]string{"CORS_ALLOWED_ORIGINS": "https://app.example"}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/tables", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := ts.do(req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.stop()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"), "limits are per client")

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.allow("a"), "a new window resets the budget")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrUnknownTable, http.StatusNotFound},
		{core.ErrNoBackingModel, http.StatusConflict},
		{core.ErrNoData, http.StatusUnprocessableEntity},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

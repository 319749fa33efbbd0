package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"eurobansync/api/internal/authpw"
	"eurobansync/api/internal/logger"
	"eurobansync/api/internal/rbac"
	"eurobansync/api/internal/workflow"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(env *testEnv) *HTTPServer {
	return NewHTTPServer(env.svc, logger.Nop(), "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func multipartUpload(t *testing.T, fields map[string]string, fileName, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf.Bytes(), w.FormDataContentType()
}

func uploadFields() map[string]string {
	return map[string]string{
		"title":        "Solicitud Acme",
		"documentType": string(workflow.TypeLoanApplication),
		"notes":        "primera entrega",
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newTestEnv(t))

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id header")
	}
	if payload := decodeBody(t, rr); payload["ok"] != true {
		t.Fatalf("expected ok=true, got %#v", payload["ok"])
	}
}

func TestReadyEndpointReportsDatabase(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env)

	rr := doRequest(t, server, http.MethodGet, "/api/ready", "", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	env.store.pingErr = errors.New("connection refused")
	rr = doRequest(t, server, http.MethodGet, "/api/ready", "", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if payload := decodeBody(t, rr); payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %#v", payload["status"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := newTestServer(newTestEnv(t))

	tests := []struct {
		name   string
		method string
		path   string
		token  string
	}{
		{name: "dashboard", method: http.MethodGet, path: "/api/screens/dashboard"},
		{name: "upload", method: http.MethodPost, path: "/api/documents/upload"},
		{name: "approve", method: http.MethodPost, path: "/api/documents/abc/approve"},
		{name: "notifications", method: http.MethodGet, path: "/api/notifications"},
		{name: "garbage token", method: http.MethodGet, path: "/api/notifications", token: "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, server, tt.method, tt.path, tt.token, nil, "")
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rr.Code)
			}
			if payload := decodeBody(t, rr); payload["code"] != "UNAUTHORIZED" {
				t.Fatalf("expected UNAUTHORIZED, got %#v", payload["code"])
			}
		})
	}
}

func TestUploadReviewAndPreviewFlow(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env)
	client := env.user(t, "Carla", rbac.RoleClient)
	exec := env.user(t, "Elena", rbac.RoleExecutive)
	clientToken := tokenFor(t, client)
	execToken := tokenFor(t, exec)

	body, contentType := multipartUpload(t, uploadFields(), "acme.csv", sampleCSV)
	rr := doRequest(t, server, http.MethodPost, "/api/documents/upload", clientToken, body, contentType)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	doc := decodeBody(t, rr)["document"].(map[string]any)
	id := doc["id"].(string)
	if doc["status"] != string(workflow.StatusPendingReview) {
		t.Fatalf("expected pending_review, got %#v", doc["status"])
	}
	if doc["statusLabel"] != "Pendiente" {
		t.Fatalf("expected Pendiente label, got %#v", doc["statusLabel"])
	}

	rr = doRequest(t, server, http.MethodGet, "/api/documents/"+id+"/preview", execToken, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	table := decodeBody(t, rr)["preview"].(map[string]any)
	headers := table["headers"].([]any)
	if len(headers) != 2 || headers[0] != "Name" {
		t.Fatalf("unexpected headers %#v", headers)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/documents/"+id+"/versions/1/file", clientToken, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != sampleCSV {
		t.Fatalf("unexpected file body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/documents/"+id+"/request-changes", execToken, []byte(`{"comments":"  "}`), "application/json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/documents/"+id+"/approve", clientToken, nil, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for client approve, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/documents/"+id+"/approve", execToken, []byte(`{"versionNumber":1}`), "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["document"].(map[string]any)["status"]; got != string(workflow.StatusApproved) {
		t.Fatalf("expected approved, got %#v", got)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/documents/"+id+"/approve", execToken, nil, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if payload := decodeBody(t, rr); payload["code"] != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %#v", payload["code"])
	}

	rr = doRequest(t, server, http.MethodGet, "/api/notifications?unread=true", clientToken, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	items := decodeBody(t, rr)["notifications"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 notification for uploader, got %d", len(items))
	}
	notificationID := items[0].(map[string]any)["id"].(string)

	rr = doRequest(t, server, http.MethodPost, "/api/notifications/"+notificationID+"/read", clientToken, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = doRequest(t, server, http.MethodPost, "/api/notifications/"+notificationID+"/read", execToken, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for someone else's notification, got %d", rr.Code)
	}
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env)
	token := tokenFor(t, env.user(t, "Carla", rbac.RoleClient))

	tests := []struct {
		name     string
		fileName string
		content  string
	}{
		{name: "pdf rejected", fileName: "report.pdf", content: "%PDF-1.7"},
		{name: "missing file", fileName: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, uploadFields(), tt.fileName, tt.content)
			rr := doRequest(t, server, http.MethodPost, "/api/documents/upload", token, body, contentType)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			if payload := decodeBody(t, rr); payload["code"] != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR, got %#v", payload["code"])
			}
		})
	}
	for _, call := range []string{"AppendVersion", "CreateDocument"} {
		if n := env.store.called(call); n != 0 {
			t.Fatalf("expected no %s calls, got %d", call, n)
		}
	}
	if env.blobs.Len() != 0 {
		t.Fatalf("expected no stored blobs, got %d", env.blobs.Len())
	}
}

func TestPreviewDecodeFailure(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env)
	client := env.user(t, "Carla", rbac.RoleClient)
	token := tokenFor(t, client)

	body, contentType := multipartUpload(t, uploadFields(), "broken.xlsx", "this is not a workbook")
	rr := doRequest(t, server, http.MethodPost, "/api/documents/upload", token, body, contentType)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	id := decodeBody(t, rr)["document"].(map[string]any)["id"].(string)

	rr = doRequest(t, server, http.MethodGet, "/api/documents/"+id+"/preview?version=latest", token, nil, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["error"] != "No se pudo leer el archivo" {
		t.Fatalf("unexpected error message %#v", payload["error"])
	}
	if rows := payload["preview"].(map[string]any)["rows"].([]any); len(rows) != 0 {
		t.Fatalf("expected empty preview rows, got %d", len(rows))
	}
}

func TestDocumentNotFound(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env)
	token := tokenFor(t, env.user(t, "Elena", rbac.RoleExecutive))

	for _, path := range []string{
		"/api/documents/not-a-uuid",
		"/api/documents/7b0f1c7e-5a55-4c1f-9d3a-0d0b8f0e2a11",
		"/api/documents/7b0f1c7e-5a55-4c1f-9d3a-0d0b8f0e2a11/preview",
	} {
		rr := doRequest(t, server, http.MethodGet, path, token, nil, "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected status 404, got %d", path, rr.Code)
		}
	}

	rr := doRequest(t, server, http.MethodGet, "/api/nope", "", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown route, got %d", rr.Code)
	}
}

type fakePasswords struct{}

func (fakePasswords) SignUp(ctx context.Context, req authpw.SignUpRequest) (authpw.Session, error) {
	return authpw.Session{}, errors.New("not used")
}

func (fakePasswords) SignIn(ctx context.Context, req authpw.SignInRequest) (authpw.Session, error) {
	return authpw.Session{}, authpw.ErrInvalidCredentials
}

func TestSignInEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := doRequest(t, newTestServer(env), http.MethodPost, "/api/auth/signin", "", []byte(`{"email":"a@example.com","password":"secret1"}`), "application/json")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without password auth, got %d", rr.Code)
	}

	cfg := testConfig()
	cfg.DevAuthEnabled = true
	svc := New(cfg, logger.Nop(), Deps{Store: env.store, Blobs: env.blobs, Passwords: fakePasswords{}})
	server := NewHTTPServer(svc, logger.Nop(), "https://app.example.com")

	rr = doRequest(t, server, http.MethodPost, "/api/auth/signin", "", []byte(`{"email":"a@example.com","password":"wrong-pass"}`), "application/json")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %#v", payload["code"])
	}
	if !strings.Contains(payload["error"].(string), "incorrectos") {
		t.Fatalf("unexpected message %#v", payload["error"])
	}
}

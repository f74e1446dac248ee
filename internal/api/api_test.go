package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lorawan-replay/replay-server/internal/config"
	"github.com/lorawan-replay/replay-server/internal/engine"
	"github.com/lorawan-replay/replay-server/internal/logstore"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/pipeline"
	"github.com/lorawan-replay/replay-server/internal/replay"
	"github.com/lorawan-replay/replay-server/internal/sandbox"
	"github.com/lorawan-replay/replay-server/internal/scanner"
	"github.com/lorawan-replay/replay-server/internal/storage"
	"github.com/lorawan-replay/replay-server/pkg/crypto"
)

func testServer(t *testing.T, publicMode bool) (*RESTServer, *storage.MemoryStore) {
	t.Helper()

	cfg := config.Default()
	cfg.JWT.Secret = "test-secret"
	cfg.Sandbox.PublicMode = publicMode

	store := storage.NewMemoryStore()
	hash, err := crypto.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	err = store.CreateUser(context.Background(), &models.User{
		Email:        "admin@example.com",
		Name:         "Admin",
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	files, err := logstore.NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("new files: %v", err)
	}

	sb := sandbox.New(sandbox.Options{
		Timeout:  time.Second,
		Disabled: publicMode,
	})
	registry := sandbox.NewRegistry(store, sb)
	crypt := engine.New(store)

	s := NewRESTServer(cfg, Deps{
		Store:    store,
		Logs:     files,
		Scans:    scanner.NewCache(),
		Pipeline: pipeline.New(crypt, registry),
		Replays:  replay.NewEngine(replay.Options{DefaultDelay: time.Millisecond}, nil),
		Decoders: registry,
	})
	return s, store
}

func do(t *testing.T, s *RESTServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, s *RESTServer) string {
	t.Helper()

	rec := do(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "hunter22",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := testServer(t, false)

	rec := do(t, s, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s, _ := testServer(t, false)

	rec := do(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s, _ := testServer(t, false)

	rec := do(t, s, http.MethodGet, "/api/v1/logs/", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestUploadScanDecodeFlow(t *testing.T) {
	s, _ := testServer(t, false)
	token := login(t, s)

	// register the device keys used by the log
	rec := do(t, s, http.MethodPost, "/api/v1/sessions/", token, map[string]any{
		"devAddr": "26011BDA",
		"name":    "bench",
		"nwkSKey": "000102030405060708090A0B0C0D0E0F",
		"appSKey": "F0E0D0C0B0A090807060504030201000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("put session: status %d: %s", rec.Code, rec.Body.String())
	}

	// generate a log for that device
	rec = do(t, s, http.MethodPost, "/api/v1/logs/generate", token, map[string]any{
		"gatewayEui": "0102030405060708",
		"entries":    4,
		"devices": []map[string]any{{
			"devAddr": "26011BDA",
			"nwkSKey": "000102030405060708090A0B0C0D0E0F",
			"appSKey": "F0E0D0C0B0A090807060504030201000",
			"fPort":   2,
		}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate: status %d: %s", rec.Code, rec.Body.String())
	}
	var stored models.StoredLog
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode stored log: %v", err)
	}

	// scan
	rec = do(t, s, http.MethodGet, fmt.Sprintf("/api/v1/logs/%s/scan", stored.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: status %d: %s", rec.Code, rec.Body.String())
	}
	var summary models.ScanSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalEntries != 4 || summary.ValidEntries != 4 {
		t.Fatalf("summary: %+v", summary)
	}

	// decode with the raw built-in
	rec = do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/logs/%s/decode", stored.ID), token, map[string]any{
		"decoder": "raw",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decode: status %d: %s", rec.Code, rec.Body.String())
	}
	var decodeResp struct {
		Records []models.DecodedRecord `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decodeResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(decodeResp.Records) != 4 {
		t.Fatalf("records: got %d, want 4", len(decodeResp.Records))
	}
	for i, record := range decodeResp.Records {
		if record.Error != "" || !record.MICValid {
			t.Fatalf("record %d: %+v", i, record)
		}
	}

	// CSV export
	rec = do(t, s, http.MethodGet, fmt.Sprintf("/api/v1/logs/%s/export?format=csv", stored.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d", rec.Code)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("csv lines: got %d, want 5", len(lines))
	}
}

func TestPublicModeBlocksUploadsAndKeyChanges(t *testing.T) {
	s, _ := testServer(t, true)
	token := login(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/decoders/", token, map[string]string{
		"name":   "x",
		"script": "function decode() { return 1; }",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("decoder upload in public mode: status %d, want 403", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/", token, map[string]any{
		"devAddr": "26011BDA",
		"nwkSKey": "000102030405060708090A0B0C0D0E0F",
		"appSKey": "F0E0D0C0B0A090807060504030201000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("key change in public mode: status %d, want 403", rec.Code)
	}
}

func TestDecoderLifecycle(t *testing.T) {
	s, _ := testServer(t, false)
	token := login(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/decoders/", token, map[string]string{
		"name":   "temp",
		"script": `function decodeUplink(input) { return { data: { t: input.bytes[0] } }; }`,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/v1/decoders/", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var listResp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	// raw built-in plus the upload
	if listResp.Total != 2 {
		t.Fatalf("total: got %d, want 2", listResp.Total)
	}

	rec = do(t, s, http.MethodDelete, "/api/v1/decoders/temp", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/decoders/temp", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: status %d, want 404", rec.Code)
	}
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/LunchBadger/configstore/internal/configvalidator"
	"github.com/LunchBadger/configstore/internal/eventbus"
	"github.com/LunchBadger/configstore/internal/repomanager"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(t *testing.T) (*ProducerHandler, *repomanager.Manager) {
	t.Helper()
	repos := repomanager.New(t.TempDir())
	h := NewProducerHandler(repos, eventbus.New(), configvalidator.New())
	return h, repos
}

func newTestContext(method, path string, body []byte, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	c.Params = params
	return c, w
}

func TestCreateAndGetProducer(t *testing.T) {
	h, _ := newTestHandler(t)

	c, w := newTestContext(http.MethodPost, "/producers", []byte(`{"id":"acme"}`), nil)
	h.Create(c)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create status = %d, want 201; body=%s", w.Code, w.Body.String())
	}

	var created map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	if created["id"] != "acme" || created["accesskey"] == "" {
		t.Errorf("create response = %+v", created)
	}

	c, w = newTestContext(http.MethodGet, "/producers/acme", nil, gin.Params{{Key: "producerId", Value: "acme"}})
	h.Get(c)
	if w.Code != http.StatusOK {
		t.Fatalf("Get status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
}

func TestCreateRejectsMissingID(t *testing.T) {
	h, _ := newTestHandler(t)
	c, w := newTestContext(http.MethodPost, "/producers", []byte(`{}`), nil)
	h.Create(c)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Create with missing id status = %d, want 400", w.Code)
	}
}

func TestGetMissingProducerReturns404(t *testing.T) {
	h, _ := newTestHandler(t)
	c, w := newTestContext(http.MethodGet, "/producers/nope", nil, gin.Params{{Key: "producerId", Value: "nope"}})
	h.Get(c)
	if w.Code != http.StatusNotFound {
		t.Errorf("Get on missing producer status = %d, want 404", w.Code)
	}
}

func TestExists(t *testing.T) {
	h, repos := newTestHandler(t)
	if _, _, err := repos.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	c, w := newTestContext(http.MethodGet, "/producers/acme/exists", nil, gin.Params{{Key: "producerId", Value: "acme"}})
	h.Exists(c)
	var body map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !body["exists"] {
		t.Error("Exists = false, want true")
	}

	c, w = newTestContext(http.MethodGet, "/producers/nope/exists", nil, gin.Params{{Key: "producerId", Value: "nope"}})
	h.Exists(c)
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["exists"] {
		t.Error("Exists = true for missing producer, want false")
	}
}

func TestUpdateFilesAndGetFileRoundtrip(t *testing.T) {
	h, repos := newTestHandler(t)
	if _, _, err := repos.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	params := gin.Params{{Key: "producerId", Value: "acme"}, {Key: "envId", Value: "staging"}}
	c, w := newTestContext(http.MethodPatch, "/producers/acme/envs/staging/files", []byte(`{"config.json":"{}"}`), params)
	h.UpdateFiles(c)
	if w.Code != http.StatusNoContent {
		t.Fatalf("UpdateFiles status = %d, want 204; body=%s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag on successful write")
	}

	fileParams := gin.Params{
		{Key: "producerId", Value: "acme"},
		{Key: "envId", Value: "staging"},
		{Key: "path", Value: "/config.json"},
	}
	c, w = newTestContext(http.MethodGet, "/producers/acme/envs/staging/files/config.json", nil, fileParams)
	h.GetFile(c)
	if w.Code != http.StatusOK {
		t.Fatalf("GetFile status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	if w.Body.String() != "{}" {
		t.Errorf("GetFile body = %q, want {}", w.Body.String())
	}
	if w.Header().Get("ETag") != etag {
		t.Errorf("GetFile ETag = %q, want %q", w.Header().Get("ETag"), etag)
	}
}

func TestUpdateFilesOptimisticConcurrencyConflict(t *testing.T) {
	h, repos := newTestHandler(t)
	if _, _, err := repos.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	params := gin.Params{{Key: "producerId", Value: "acme"}, {Key: "envId", Value: "staging"}}

	c, w := newTestContext(http.MethodPatch, "/producers/acme/envs/staging/files", []byte(`{"a.txt":"1"}`), params)
	h.UpdateFiles(c)
	if w.Code != http.StatusNoContent {
		t.Fatalf("first UpdateFiles status = %d", w.Code)
	}

	// No If-Match header on a non-empty branch must conflict.
	c, w = newTestContext(http.MethodPatch, "/producers/acme/envs/staging/files", []byte(`{"a.txt":"2"}`), params)
	h.UpdateFiles(c)
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("UpdateFiles without If-Match status = %d, want 412; body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateFilesRejectsInvalidSchema(t *testing.T) {
	repos := repomanager.New(t.TempDir())
	validator := configvalidator.New()
	if err := validator.RegisterSchema("svc", []byte(`{"type":"object","required":["name"]}`)); err != nil {
		t.Fatalf("RegisterSchema: %v", err)
	}
	if err := validator.RegisterRoute(`\.json$`, "svc"); err != nil {
		t.Fatalf("RegisterRoute: %v", err)
	}
	h := NewProducerHandler(repos, eventbus.New(), validator)
	if _, _, err := repos.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	params := gin.Params{{Key: "producerId", Value: "acme"}, {Key: "envId", Value: "staging"}}
	c, w := newTestContext(http.MethodPatch, "/producers/acme/envs/staging/files", []byte(`{"config.json":"{}"}`), params)
	h.UpdateFiles(c)
	if w.Code != http.StatusBadRequest {
		t.Errorf("UpdateFiles with invalid schema status = %d, want 400; body=%s", w.Code, w.Body.String())
	}
}

func TestPutEnvAndGetEnv(t *testing.T) {
	h, repos := newTestHandler(t)
	if _, _, err := repos.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	params := gin.Params{{Key: "producerId", Value: "acme"}, {Key: "envId", Value: "dev"}}
	c, w := newTestContext(http.MethodPatch, "/producers/acme/envs/dev/files", []byte(`{"a.txt":"1"}`), params)
	h.UpdateFiles(c)
	if w.Code != http.StatusNoContent {
		t.Fatalf("seed UpdateFiles status = %d", w.Code)
	}
	rev := w.Header().Get("ETag")

	putParams := gin.Params{{Key: "producerId", Value: "acme"}, {Key: "envId", Value: "staging"}}
	c, w = newTestContext(http.MethodPut, "/producers/acme/envs/staging", []byte(`{"revision":"`+rev+`"}`), putParams)
	h.PutEnv(c)
	if w.Code != http.StatusOK {
		t.Fatalf("PutEnv status = %d, want 200; body=%s", w.Code, w.Body.String())
	}

	c, w = newTestContext(http.MethodGet, "/producers/acme/envs/staging", nil, putParams)
	h.GetEnv(c)
	if w.Code != http.StatusOK {
		t.Fatalf("GetEnv status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding GetEnv response: %v", err)
	}
	if got["revision"] != rev {
		t.Errorf("GetEnv revision = %q, want %q", got["revision"], rev)
	}
}

func TestDeleteEnv(t *testing.T) {
	h, repos := newTestHandler(t)
	if _, _, err := repos.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	params := gin.Params{{Key: "producerId", Value: "acme"}, {Key: "envId", Value: "dev"}}
	c, w := newTestContext(http.MethodPatch, "/producers/acme/envs/dev/files", []byte(`{"a.txt":"1"}`), params)
	h.UpdateFiles(c)
	if w.Code != http.StatusNoContent {
		t.Fatalf("seed UpdateFiles status = %d", w.Code)
	}

	putParams := gin.Params{{Key: "producerId", Value: "acme"}, {Key: "envId", Value: "staging"}}
	rev := w.Header().Get("ETag")
	c, w = newTestContext(http.MethodPut, "/producers/acme/envs/staging", []byte(`{"revision":"`+rev+`"}`), putParams)
	h.PutEnv(c)
	if w.Code != http.StatusOK {
		t.Fatalf("PutEnv status = %d", w.Code)
	}

	c, w = newTestContext(http.MethodDelete, "/producers/acme/envs/staging", nil, putParams)
	h.DeleteEnv(c)
	if w.Code != http.StatusOK {
		t.Fatalf("DeleteEnv status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var got map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding DeleteEnv response: %v", err)
	}
	if got["count"] != 1 {
		t.Errorf("DeleteEnv count = %d, want 1", got["count"])
	}
}

func TestAccessKeyLifecycle(t *testing.T) {
	h, repos := newTestHandler(t)
	_, originalKey, err := repos.Create(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	params := gin.Params{{Key: "producerId", Value: "acme"}}
	c, w := newTestContext(http.MethodGet, "/producers/acme/accesskey", nil, params)
	h.GetAccessKey(c)
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got["accesskey"] != originalKey {
		t.Errorf("GetAccessKey = %q, want %q", got["accesskey"], originalKey)
	}

	c, w = newTestContext(http.MethodPost, "/producers/acme/accesskey", nil, params)
	h.RegenerateAccessKey(c)
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got["accesskey"] == originalKey {
		t.Error("RegenerateAccessKey returned the same key")
	}
}

func TestDeleteProducer(t *testing.T) {
	h, repos := newTestHandler(t)
	if _, _, err := repos.Create(context.Background(), "acme"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	c, w := newTestContext(http.MethodDelete, "/producers/acme", nil, gin.Params{{Key: "producerId", Value: "acme"}})
	h.Delete(c)
	var got map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got["count"] != 1 {
		t.Errorf("Delete count = %d, want 1", got["count"])
	}
	if repos.Exists("acme") {
		t.Error("producer still exists after Delete")
	}
}

func TestList(t *testing.T) {
	h, repos := newTestHandler(t)
	for _, name := range []string{"alpha", "beta"} {
		if _, _, err := repos.Create(context.Background(), name); err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
	}

	c, w := newTestContext(http.MethodGet, "/producers", nil, nil)
	h.List(c)
	if w.Code != http.StatusOK {
		t.Fatalf("List status = %d, want 200", w.Code)
	}
	var got []map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List returned %d producers, want 2", len(got))
	}
}

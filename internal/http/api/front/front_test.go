package front

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/keyforged/keyforged/internal/config"
	"github.com/keyforged/keyforged/internal/models"
	"github.com/keyforged/keyforged/internal/store"
	"gorm.io/gorm"
)

var testJWTConfig = config.JWTConfig{Secret: "front-test-secret", Expiry: time.Hour}

func setupFrontRouter(t *testing.T) (*gorm.DB, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:front_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.User{}, &models.APIKey{}, &models.Usage{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	r := gin.New()
	RegisterFrontRoutes(r, conn, store.NewGormKeyStore(conn), testJWTConfig)
	return conn, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if errDecode := json.Unmarshal(w.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), errDecode)
	}
	return body
}

func registerAndLogin(t *testing.T, r *gin.Engine, username string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v0/front/register", "", gin.H{
		"username": username,
		"password": "correct-horse-battery",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body %s", username, w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v0/front/login", "", gin.H{
		"username": username,
		"password": "correct-horse-battery",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body %s", username, w.Code, w.Body.String())
	}
	token, _ := decodeBody(t, w)["token"].(string)
	if token == "" {
		t.Fatalf("login %s: empty token", username)
	}
	return token
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	_, r := setupFrontRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v0/front/register", "", gin.H{
		"username": "alice",
		"password": "short",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	_, r := setupFrontRouter(t)
	registerAndLogin(t, r, "alice")

	w := doJSON(t, r, http.MethodPost, "/v0/front/login", "", gin.H{
		"username": "alice",
		"password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCreateReturnsSecretExactlyOnce(t *testing.T) {
	_, r := setupFrontRouter(t)
	token := registerAndLogin(t, r, "alice")

	w := doJSON(t, r, http.MethodPost, "/v0/front/api-keys", token, gin.H{"name": "ci"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)
	secret, _ := created["key"].(string)
	if !strings.HasPrefix(secret, "ak_") {
		t.Fatalf("create response missing full secret: %v", created)
	}

	w = doJSON(t, r, http.MethodGet, "/v0/front/api-keys", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d", w.Code)
	}
	listing := w.Body.String()
	if strings.Contains(listing, secret) {
		t.Fatal("full secret leaked into listing")
	}
	if !strings.Contains(listing, secret[:10]+"...") {
		t.Fatalf("masked prefix missing from listing: %s", listing)
	}
}

func TestForeignKeyLooksLikeMissingKey(t *testing.T) {
	_, r := setupFrontRouter(t)
	aliceToken := registerAndLogin(t, r, "alice")
	bobToken := registerAndLogin(t, r, "bob")

	w := doJSON(t, r, http.MethodPost, "/v0/front/api-keys", aliceToken, gin.H{"name": "alice-key"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", w.Code)
	}
	id := decodeBody(t, w)["id"]
	path := fmt.Sprintf("/v0/front/api-keys/%v", id)

	inactive := false
	for _, tc := range []struct {
		name   string
		method string
		body   any
	}{
		{"get", http.MethodGet, nil},
		{"update", http.MethodPut, gin.H{"active": inactive}},
		{"delete", http.MethodDelete, nil},
	} {
		w = doJSON(t, r, tc.method, path, bobToken, tc.body)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s foreign key: status = %d, want 404", tc.name, w.Code)
		}
	}

	// The owner still reaches it.
	w = doJSON(t, r, http.MethodGet, path, aliceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner get: status = %d, want 200", w.Code)
	}
}

func TestUpdateTogglesActive(t *testing.T) {
	_, r := setupFrontRouter(t)
	token := registerAndLogin(t, r, "alice")

	w := doJSON(t, r, http.MethodPost, "/v0/front/api-keys", token, gin.H{"name": "toggle"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", w.Code)
	}
	id := decodeBody(t, w)["id"]
	path := fmt.Sprintf("/v0/front/api-keys/%v", id)

	w = doJSON(t, r, http.MethodPut, path, token, gin.H{"active": false})
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, path, token, nil)
	got := decodeBody(t, w)
	if got["status"] != "inactive" {
		t.Fatalf("status = %v, want inactive", got["status"])
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	_, r := setupFrontRouter(t)
	token := registerAndLogin(t, r, "alice")

	w := doJSON(t, r, http.MethodPost, "/v0/front/api-keys", token, gin.H{"name": "doomed"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", w.Code)
	}
	id := decodeBody(t, w)["id"]
	path := fmt.Sprintf("/v0/front/api-keys/%v", id)

	if w = doJSON(t, r, http.MethodDelete, path, token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", w.Code)
	}
	if w = doJSON(t, r, http.MethodGet, path, token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d, want 404", w.Code)
	}
}

func TestStatsCountsOwnKeysOnly(t *testing.T) {
	_, r := setupFrontRouter(t)
	aliceToken := registerAndLogin(t, r, "alice")
	bobToken := registerAndLogin(t, r, "bob")

	for i := 0; i < 2; i++ {
		if w := doJSON(t, r, http.MethodPost, "/v0/front/api-keys", aliceToken, gin.H{"name": "alice-key"}); w.Code != http.StatusCreated {
			t.Fatalf("create alice key: status = %d", w.Code)
		}
	}
	if w := doJSON(t, r, http.MethodPost, "/v0/front/api-keys", bobToken, gin.H{"name": "bob-key"}); w.Code != http.StatusCreated {
		t.Fatalf("create bob key: status = %d", w.Code)
	}

	w := doJSON(t, r, http.MethodGet, "/v0/front/api-keys/stats", aliceToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", w.Code)
	}
	stats := decodeBody(t, w)
	if stats["total_keys"] != float64(2) {
		t.Fatalf("total_keys = %v, want 2", stats["total_keys"])
	}
	if stats["active_keys"] != float64(2) {
		t.Fatalf("active_keys = %v, want 2", stats["active_keys"])
	}
}

func TestAuthedRoutesRejectBadTokens(t *testing.T) {
	_, r := setupFrontRouter(t)

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "not-a-jwt",
	} {
		req := httptest.NewRequest(http.MethodGet, "/v0/front/api-keys", nil)
		if header != "" {
			req.Header.Set("Authorization", "Bearer "+header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s token: status = %d, want 401", name, w.Code)
		}
	}
}

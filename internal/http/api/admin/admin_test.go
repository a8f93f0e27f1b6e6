package admin

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
	"github.com/keyforged/keyforged/internal/security"
	"github.com/keyforged/keyforged/internal/settings"
	"github.com/keyforged/keyforged/internal/store"
	"gorm.io/gorm"
)

var testJWTConfig = config.JWTConfig{Secret: "admin-test-secret", Expiry: time.Hour}

func setupAdminRouter(t *testing.T) (*gorm.DB, *gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:admin_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.User{}, &models.Admin{}, &models.APIKey{}, &models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	hash, errHash := security.HashPassword("admin-password-1")
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	admin := models.Admin{Username: "root", PasswordHash: hash}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}

	r := gin.New()
	RegisterAdminRoutes(r, conn, store.NewGormKeyStore(conn), testJWTConfig)

	w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/login", "", gin.H{
		"username": "root",
		"password": "admin-password-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("admin login: status = %d, body %s", w.Code, w.Body.String())
	}
	token, _ := decodeAdminBody(t, w)["token"].(string)
	if token == "" {
		t.Fatal("admin login: empty token")
	}
	return conn, r, token
}

func doAdminJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
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

func decodeAdminBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if errDecode := json.Unmarshal(w.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), errDecode)
	}
	return body
}

func TestAdminLoginWrongPassword(t *testing.T) {
	_, r, _ := setupAdminRouter(t)

	w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/login", "", gin.H{
		"username": "root",
		"password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	_, r, _ := setupAdminRouter(t)

	w := doAdminJSON(t, r, http.MethodGet, "/v0/admin/api-keys", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAdminCreateAnonymousKey(t *testing.T) {
	conn, r, token := setupAdminRouter(t)

	w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/api-keys", token, gin.H{"name": "service"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", w.Code, w.Body.String())
	}
	created := decodeAdminBody(t, w)
	if secret, _ := created["key"].(string); !strings.HasPrefix(secret, "ak_") {
		t.Fatalf("creation response missing full secret: %v", created)
	}

	var row models.APIKey
	if errFind := conn.First(&row).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if row.UserID != nil {
		t.Fatalf("expected anonymous key, got owner %v", row.UserID)
	}
}

func TestAdminCreateForMissingOwner(t *testing.T) {
	_, r, token := setupAdminRouter(t)

	missing := uint64(9999)
	w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/api-keys", token, gin.H{
		"name":    "orphan",
		"user_id": missing,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := decodeAdminBody(t, w); body["error"] != "owner not found" {
		t.Fatalf("error = %v, want owner not found", body["error"])
	}
}

func TestAdminUpdateQuotaFields(t *testing.T) {
	conn, r, token := setupAdminRouter(t)

	w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/api-keys", token, gin.H{"name": "metered"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", w.Code)
	}
	id := decodeAdminBody(t, w)["id"]
	path := fmt.Sprintf("/v0/admin/api-keys/%v", id)

	w = doAdminJSON(t, r, http.MethodPut, path, token, gin.H{
		"max_requests": 500,
		"reset_in":     "24h",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", w.Code, w.Body.String())
	}

	var row models.APIKey
	if errFind := conn.First(&row).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if row.MaxRequests == nil || *row.MaxRequests != 500 {
		t.Fatalf("max_requests = %v, want 500", row.MaxRequests)
	}
	if row.ResetAt == nil || !row.ResetAt.After(time.Now().UTC()) {
		t.Fatalf("reset_at not set in the future: %v", row.ResetAt)
	}

	// Zero clears the ceiling.
	w = doAdminJSON(t, r, http.MethodPut, path, token, gin.H{"max_requests": 0})
	if w.Code != http.StatusOK {
		t.Fatalf("clear update: status = %d", w.Code)
	}
	if errFind := conn.First(&row).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if row.MaxRequests != nil {
		t.Fatalf("max_requests = %v after clear, want nil", row.MaxRequests)
	}
}

func TestAdminUpdateRejectsBadResetIn(t *testing.T) {
	_, r, token := setupAdminRouter(t)

	w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/api-keys", token, gin.H{"name": "bad-reset"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", w.Code)
	}
	path := fmt.Sprintf("/v0/admin/api-keys/%v", decodeAdminBody(t, w)["id"])

	w = doAdminJSON(t, r, http.MethodPut, path, token, gin.H{"reset_in": "not-a-duration"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAdminBulkActivateDeactivate(t *testing.T) {
	conn, r, token := setupAdminRouter(t)

	ids := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/api-keys", token, gin.H{"name": "bulk"})
		if w.Code != http.StatusCreated {
			t.Fatalf("create: status = %d", w.Code)
		}
		ids = append(ids, uint64(decodeAdminBody(t, w)["id"].(float64)))
	}

	w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/api-keys/bulk-deactivate", token, gin.H{"ids": ids})
	if w.Code != http.StatusOK {
		t.Fatalf("bulk deactivate: status = %d", w.Code)
	}
	if updated := decodeAdminBody(t, w)["updated"]; updated != float64(3) {
		t.Fatalf("updated = %v, want 3", updated)
	}

	var activeCount int64
	if errCount := conn.Model(&models.APIKey{}).Where("active = ?", true).
		Count(&activeCount).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if activeCount != 0 {
		t.Fatalf("active keys = %d after bulk deactivate, want 0", activeCount)
	}

	w = doAdminJSON(t, r, http.MethodPost, "/v0/admin/api-keys/bulk-activate", token, gin.H{"ids": ids[:2]})
	if w.Code != http.StatusOK {
		t.Fatalf("bulk activate: status = %d", w.Code)
	}
	if errCount := conn.Model(&models.APIKey{}).Where("active = ?", true).
		Count(&activeCount).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if activeCount != 2 {
		t.Fatalf("active keys = %d after bulk activate, want 2", activeCount)
	}
}

func TestAdminListPaginationAndSearch(t *testing.T) {
	_, r, token := setupAdminRouter(t)

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("alpha-%d", i)
		if i%2 == 0 {
			name = fmt.Sprintf("beta-%d", i)
		}
		w := doAdminJSON(t, r, http.MethodPost, "/v0/admin/api-keys", token, gin.H{"name": name})
		if w.Code != http.StatusCreated {
			t.Fatalf("create %s: status = %d", name, w.Code)
		}
	}

	w := doAdminJSON(t, r, http.MethodGet, "/v0/admin/api-keys?page=1&limit=2", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d", w.Code)
	}
	body := decodeAdminBody(t, w)
	if body["total"] != float64(5) {
		t.Fatalf("total = %v, want 5", body["total"])
	}
	if rows := body["api_keys"].([]any); len(rows) != 2 {
		t.Fatalf("page size = %d, want 2", len(rows))
	}

	w = doAdminJSON(t, r, http.MethodGet, "/v0/admin/api-keys?search=beta", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: status = %d", w.Code)
	}
	body = decodeAdminBody(t, w)
	if body["total"] != float64(3) {
		t.Fatalf("search total = %v, want 3", body["total"])
	}
}

func TestKeyPolicyRoundTrip(t *testing.T) {
	_, r, token := setupAdminRouter(t)
	t.Cleanup(func() { settings.StoreKeyPolicy(settings.KeyPolicy{}) })

	w := doAdminJSON(t, r, http.MethodPut, "/v0/admin/key-policy", token, gin.H{
		"default_max_requests": 1000,
		"default_expiry_days":  90,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update policy: status = %d, body %s", w.Code, w.Body.String())
	}

	w = doAdminJSON(t, r, http.MethodGet, "/v0/admin/key-policy", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get policy: status = %d", w.Code)
	}
	policy := decodeAdminBody(t, w)
	if policy["default_max_requests"] != float64(1000) {
		t.Fatalf("default_max_requests = %v, want 1000", policy["default_max_requests"])
	}
	if policy["default_expiry_days"] != float64(90) {
		t.Fatalf("default_expiry_days = %v, want 90", policy["default_expiry_days"])
	}

	if got := settings.CurrentKeyPolicy(); got.DefaultMaxRequests != 1000 || got.DefaultExpiryDays != 90 {
		t.Fatalf("snapshot not refreshed: %+v", got)
	}
}

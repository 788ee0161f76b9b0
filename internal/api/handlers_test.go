package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lookouthub/lookout-server/internal/auth"
	"github.com/lookouthub/lookout-server/internal/hub"
	"github.com/lookouthub/lookout-server/internal/models"
	"github.com/lookouthub/lookout-server/internal/store"
)

func strPtr(s string) *string { return &s }

func newTestEnv(t *testing.T) (*gin.Engine, *auth.Authenticator, *hub.Hub) {
	t.Helper()

	s, err := store.New(t.TempDir(), 100)
	require.NoError(t, err)

	h := hub.New(s, models.TenantCLA1, 15*time.Second, 3*time.Second, 250*time.Millisecond)

	authenticator := auth.New("test-secret", time.Minute, []models.AdminUser{
		{Username: "adminCLA", Password: "@ims1234!", AllowedTenants: []string{"CLA1", "CLA2"}},
		{Username: "adminDLA", Password: "dlapass", AllowedTenants: []string{"DLA2"}},
	})

	srv := NewServer(h, authenticator, 250*time.Millisecond)
	router := NewRouter(srv, zerologNop(), []string{"*"}, "debug", "")

	return router, authenticator, h
}

func loginAs(t *testing.T, router *gin.Engine, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(loginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestLoginHappyPath(t *testing.T) {
	router, _, _ := newTestEnv(t)

	body, _ := json.Marshal(loginRequest{Username: "adminCLA", Password: "@ims1234!"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
		User  struct {
			Username       string   `json:"username"`
			AllowedTenants []string `json:"allowedTenants"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "adminCLA", resp.User.Username)
	require.Equal(t, []string{"CLA1", "CLA2"}, resp.User.AllowedTenants)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router, _, _ := newTestEnv(t)

	body, _ := json.Marshal(loginRequest{Username: "adminCLA", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDevicesFilteredByTenant(t *testing.T) {
	router, _, h := newTestEnv(t)

	h.Store.UpsertDevice("dev-cla", models.TenantCLA1)
	h.Store.UpsertDevice("dev-dla", models.TenantDLA2)

	token := loginAs(t, router, "adminCLA", "@ims1234!")

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var views []models.DeviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, "dev-cla", views[0].ID)
}

func TestDevicesRequiresToken(t *testing.T) {
	router, _, _ := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPutDeviceAliasThenGetReflectsIt(t *testing.T) {
	router, _, h := newTestEnv(t)
	h.Store.UpsertDevice("dev-1", models.TenantCLA1)

	token := loginAs(t, router, "adminCLA", "@ims1234!")

	body, _ := json.Marshal(putAliasRequest{Label: strPtr("Front Desk")})
	req := httptest.NewRequest(http.MethodPut, "/api/device-aliases/dev-1", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/device-aliases", nil)
	req2.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	var aliases map[string]models.Alias
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &aliases))
	require.Equal(t, "Front Desk", aliases["dev-1"].Label)
}

func TestPutDeviceAliasMissingLabelFieldReturns400(t *testing.T) {
	router, _, h := newTestEnv(t)
	h.Store.UpsertDevice("dev-1", models.TenantCLA1)

	token := loginAs(t, router, "adminCLA", "@ims1234!")

	req := httptest.NewRequest(http.MethodPut, "/api/device-aliases/dev-1", bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutDeviceAliasEmptyLabelDeletesAlias(t *testing.T) {
	router, _, h := newTestEnv(t)
	h.Store.UpsertDevice("dev-1", models.TenantCLA1)

	token := loginAs(t, router, "adminCLA", "@ims1234!")

	body, _ := json.Marshal(putAliasRequest{Label: strPtr("Front Desk")})
	req := httptest.NewRequest(http.MethodPut, "/api/device-aliases/dev-1", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body2, _ := json.Marshal(putAliasRequest{Label: strPtr("")})
	req2 := httptest.NewRequest(http.MethodPut, "/api/device-aliases/dev-1", bytes.NewReader(body2))
	req2.Header.Set("Authorization", "Bearer "+token)
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	req3 := httptest.NewRequest(http.MethodGet, "/api/device-aliases", nil)
	req3.Header.Set("Authorization", "Bearer "+token)
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req3)

	var aliases map[string]models.Alias
	require.NoError(t, json.Unmarshal(rec3.Body.Bytes(), &aliases))
	_, present := aliases["dev-1"]
	require.False(t, present)
}

func TestPutDeviceAliasForbiddenOutOfTenant(t *testing.T) {
	router, _, h := newTestEnv(t)
	h.Store.UpsertDevice("dev-1", models.TenantCLA1)

	token := loginAs(t, router, "adminDLA", "dlapass")

	body, _ := json.Marshal(putAliasRequest{Label: strPtr("Nope")})
	req := httptest.NewRequest(http.MethodPut, "/api/device-aliases/dev-1", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownAPIRouteReturnsJSON404(t *testing.T) {
	router, _, _ := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "API route not found", resp["error"])
}

func TestFrameReturns404WhenNoneAccepted(t *testing.T) {
	router, _, h := newTestEnv(t)
	h.Store.UpsertDevice("dev-1", models.TenantCLA1)

	token := loginAs(t, router, "adminCLA", "@ims1234!")

	req := httptest.NewRequest(http.MethodGet, "/api/devices/dev-1/frame", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFrameAuthorizesViaQueryToken(t *testing.T) {
	router, _, h := newTestEnv(t)
	h.Store.UpsertDevice("dev-1", models.TenantCLA1)
	h.Frames.AcceptBinary("dev-1", []byte("jpeg-bytes"))

	token := loginAs(t, router, "adminCLA", "@ims1234!")

	req := httptest.NewRequest(http.MethodGet, "/api/devices/dev-1/frame?token="+token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []byte("jpeg-bytes"), rec.Body.Bytes())
}

func TestFrameForbiddenForOutOfTenantAdmin(t *testing.T) {
	router, _, h := newTestEnv(t)
	h.Store.UpsertDevice("dev-1", models.TenantCLA1)
	h.Frames.AcceptBinary("dev-1", []byte("jpeg-bytes"))

	token := loginAs(t, router, "adminDLA", "dlapass")

	req := httptest.NewRequest(http.MethodGet, "/api/devices/dev-1/frame?token="+token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

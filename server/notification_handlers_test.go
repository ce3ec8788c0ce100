package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/notify/db"
	"github.com/techagentng/notify/models"
	"github.com/techagentng/notify/services"
)

type envelope struct {
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Errors  string                 `json:"errors"`
	Status  string                 `json:"status"`
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, authToken string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp, env
}

func TestListNotificationsRequiresAuth(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, env := doRequest(t, ts, http.MethodGet, "/api/v1/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "error", env.Status)
}

func TestListNotifications(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	for _, category := range []models.Category{models.CategorySystem, models.CategoryUpdate, models.CategorySystem} {
		_, err := s.NotificationService.Send(alice, services.SendOptions{
			Title:    "n",
			Message:  "m",
			Category: category,
		})
		require.NoError(t, err)
	}

	resp, env := doRequest(t, ts, http.MethodGet, "/api/v1/notifications", token(t, alice), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, float64(3), env.Data["total"])
	assert.Len(t, env.Data["notifications"], 3)
}

func TestListNotificationsFilters(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)
	bob := uint(2)

	_, err := s.NotificationService.Send(alice, services.SendOptions{Title: "a", Message: "m", Category: models.CategoryTip})
	require.NoError(t, err)
	_, err = s.NotificationService.Send(alice, services.SendOptions{Title: "b", Message: "m", Category: models.CategoryUsage})
	require.NoError(t, err)
	_, err = s.NotificationService.Send(bob, services.SendOptions{Title: "c", Message: "m", Category: models.CategoryTip})
	require.NoError(t, err)

	resp, env := doRequest(t, ts, http.MethodGet, "/api/v1/notifications?type=tip", token(t, alice), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), env.Data["total"], "filters stay scoped to the caller")

	resp, env = doRequest(t, ts, http.MethodGet, "/api/v1/notifications?type=bogus", token(t, alice), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", env.Status)
}

func TestUnreadCountEndpoint(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	_, err := s.NotificationService.Send(alice, services.SendOptions{Title: "n", Message: "m", Category: models.CategorySystem})
	require.NoError(t, err)

	resp, env := doRequest(t, ts, http.MethodGet, "/api/v1/notifications/unread/count", token(t, alice), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), env.Data["count"])
}

func TestMarkNotificationAsReadEndpoint(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	sent, err := s.NotificationService.Send(alice, services.SendOptions{Title: "n", Message: "m", Category: models.CategorySystem})
	require.NoError(t, err)

	resp, env := doRequest(t, ts, http.MethodPut, "/api/v1/notifications/"+sent.ID+"/read", token(t, alice), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sent.ID, env.Data["notification_id"])

	count, err := s.NotificationService.GetUnreadCount(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	resp, _ = doRequest(t, ts, http.MethodPut, "/api/v1/notifications/no-such-id/read", token(t, alice), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMarkNotificationAsReadWrongUser(t *testing.T) {
	s, ts := setupTestServer(t)

	sent, err := s.NotificationService.Send(1, services.SendOptions{Title: "n", Message: "m", Category: models.CategorySystem})
	require.NoError(t, err)

	resp, _ := doRequest(t, ts, http.MethodPut, "/api/v1/notifications/"+sent.ID+"/read", token(t, 2), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "another user's row looks absent")

	count, err := s.NotificationService.GetUnreadCount(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkMultipleAsReadEndpoint(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	var ids []string
	for i := 0; i < 3; i++ {
		sent, err := s.NotificationService.Send(alice, services.SendOptions{Title: "n", Message: "m", Category: models.CategoryTip})
		require.NoError(t, err)
		ids = append(ids, sent.ID)
	}

	resp, env := doRequest(t, ts, http.MethodPut, "/api/v1/notifications/read", token(t, alice),
		map[string]interface{}{"notification_ids": ids[:2]})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), env.Data["updated"])

	count, err := s.NotificationService.GetUnreadCount(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkAllAsReadEndpoint(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	for i := 0; i < 2; i++ {
		_, err := s.NotificationService.Send(alice, services.SendOptions{Title: "n", Message: "m", Category: models.CategorySystem})
		require.NoError(t, err)
	}

	resp, env := doRequest(t, ts, http.MethodPut, "/api/v1/notifications/read-all", token(t, alice), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), env.Data["updated"])
}

func TestDeleteNotificationEndpoint(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	sent, err := s.NotificationService.Send(alice, services.SendOptions{Title: "n", Message: "m", Category: models.CategorySystem})
	require.NoError(t, err)

	resp, _ := doRequest(t, ts, http.MethodDelete, "/api/v1/notifications/"+sent.ID, token(t, alice), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, total, err := s.NotificationService.GetUserNotifications(alice, db.Filters{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestStatsEndpoint(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	_, err := s.NotificationService.Send(alice, services.SendOptions{Title: "n", Message: "m", Category: models.CategorySystem})
	require.NoError(t, err)
	_, err = s.NotificationService.Send(alice, services.SendOptions{Title: "n", Message: "m", Category: models.CategoryTip})
	require.NoError(t, err)

	resp, env := doRequest(t, ts, http.MethodGet, "/api/v1/notifications/stats", token(t, alice), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), env.Data["total"])
	assert.Equal(t, float64(2), env.Data["unread"])
}

func TestInternalSendRequiresToken(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodPost, "/api/v1/internal/notifications/send", "",
		map[string]interface{}{"user_id": 1, "message": "m", "category": "system"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInternalSend(t *testing.T) {
	s, ts := setupTestServer(t)

	body := map[string]interface{}{
		"user_id":  1,
		"title":    "Payment failed",
		"message":  "Your card was declined",
		"category": "system",
		"severity": "error",
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/internal/notifications/send", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", s.Config.InternalAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	count, err := s.NotificationService.GetUnreadCount(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInternalSendRejectsBadPayload(t *testing.T) {
	s, ts := setupTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/internal/notifications/send",
		bytes.NewReader([]byte(`{"user_id":1}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", s.Config.InternalAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["connected_users"])
}

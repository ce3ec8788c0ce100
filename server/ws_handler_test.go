package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/notify/config"
	"github.com/techagentng/notify/db"
	"github.com/techagentng/notify/models"
	"github.com/techagentng/notify/services"
	"github.com/techagentng/notify/services/jwt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testJWTSecret = "ws-test-secret"

func setupTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:ws%s?mode=memory&cache=shared", t.Name())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(&models.User{}, &models.Notification{}))

	conf := &config.Config{
		JWTSecret:       testJWTSecret,
		InternalAPIKey:  "internal-test-key",
		InitialPageSize: 20,
		RetentionDays:   30,
	}
	repo := db.NewNotificationRepo(&db.GormDB{DB: gormDB})
	hub := NewHub()
	svc := services.NewNotificationService(repo, hub, nil, conf)

	s := &Server{
		Config:                 conf,
		NotificationRepository: repo,
		NotificationService:    svc,
		Hub:                    hub,
		Verifier:               jwt.NewVerifier(testJWTSecret),
	}

	router := gin.New()
	s.defineRoutes(router)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/notifications?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func frameData(t *testing.T, msg Message) map[string]interface{} {
	t.Helper()
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok, "frame data should be a JSON object")
	return data
}

func token(t *testing.T, userID uint) string {
	t.Helper()
	tok, err := jwt.GenerateToken(userID, testJWTSecret)
	require.NoError(t, err)
	return tok
}

func TestConnectWithoutCredentialIsRejected(t *testing.T) {
	s, ts := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/notifications"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, s.Hub.ConnectedUsers())
}

func TestConnectWithInvalidCredentialIsRejected(t *testing.T) {
	s, ts := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/notifications?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, s.Hub.ConnectedUsers(), "a rejected attempt never reaches the registry")
}

func TestConnectPushesInitialView(t *testing.T) {
	s, ts := setupTestServer(t)

	// alice was offline when the notification was sent.
	alice := uint(1)
	sent, err := s.NotificationService.Send(alice, services.SendOptions{
		Title:    "Analysis done",
		Message:  "finished",
		Category: models.CategoryProcessing,
	})
	require.NoError(t, err)

	conn := dialWS(t, ts, token(t, alice))

	count := readFrame(t, conn)
	assert.Equal(t, services.EventUnreadCount, count.Event)
	assert.Equal(t, float64(1), frameData(t, count)["count"])

	initial := readFrame(t, conn)
	assert.Equal(t, services.EventInitialNotifications, initial.Event)
	notifications, ok := frameData(t, initial)["notifications"].([]interface{})
	require.True(t, ok)
	require.Len(t, notifications, 1)
	first := notifications[0].(map[string]interface{})
	assert.Equal(t, sent.ID, first["id"])
	assert.Equal(t, false, first["read"])
}

func TestSendReachesEveryConnectionInOrder(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	connA := dialWS(t, ts, token(t, alice))
	connB := dialWS(t, ts, token(t, alice))
	for _, conn := range []*websocket.Conn{connA, connB} {
		readFrame(t, conn) // unread-count
		readFrame(t, conn) // initial-notifications
	}
	require.Eventually(t, func() bool {
		return len(s.Hub.ClientsFor(alice)) == 2
	}, time.Second, 10*time.Millisecond)

	_, err := s.NotificationService.Send(alice, services.SendOptions{
		Title:    "hello",
		Message:  "world",
		Category: models.CategoryUpdate,
	})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{connA, connB} {
		notif := readFrame(t, conn)
		assert.Equal(t, services.EventNewNotification, notif.Event, "the body precedes the count")
		count := readFrame(t, conn)
		assert.Equal(t, services.EventUnreadCount, count.Event)
		assert.Equal(t, float64(1), frameData(t, count)["count"], "all handles see the same count")
	}
}

func TestMarkAsReadAcksRequesterAndUpdatesAllCounts(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	sent, err := s.NotificationService.Send(alice, services.SendOptions{
		Title:    "to read",
		Message:  "m",
		Category: models.CategorySystem,
	})
	require.NoError(t, err)

	connA := dialWS(t, ts, token(t, alice))
	connB := dialWS(t, ts, token(t, alice))
	for _, conn := range []*websocket.Conn{connA, connB} {
		readFrame(t, conn)
		readFrame(t, conn)
	}

	payload := fmt.Sprintf(`{"event":"mark-as-read","data":{"notificationId":%q}}`, sent.ID)
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte(payload)))

	ack := readFrame(t, connA)
	assert.Equal(t, services.EventMarkedAsRead, ack.Event, "ack goes to the requester first")
	assert.Equal(t, sent.ID, frameData(t, ack)["notificationId"])

	countA := readFrame(t, connA)
	assert.Equal(t, services.EventUnreadCount, countA.Event)
	assert.Equal(t, float64(0), frameData(t, countA)["count"])

	// B did not issue the request but still gets the fresh count, no ack.
	countB := readFrame(t, connB)
	assert.Equal(t, services.EventUnreadCount, countB.Event)
	assert.Equal(t, float64(0), frameData(t, countB)["count"])
}

func TestMarkAllAsRead(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	for i := 0; i < 3; i++ {
		_, err := s.NotificationService.Send(alice, services.SendOptions{
			Title:    "n",
			Message:  "m",
			Category: models.CategoryTip,
		})
		require.NoError(t, err)
	}

	conn := dialWS(t, ts, token(t, alice))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"mark-all-as-read"}`)))

	ack := readFrame(t, conn)
	assert.Equal(t, services.EventAllMarkedAsRead, ack.Event)

	count := readFrame(t, conn)
	assert.Equal(t, services.EventUnreadCount, count.Event)
	assert.Equal(t, float64(0), frameData(t, count)["count"])

	unread, err := s.NotificationService.GetUnreadCount(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}

func TestSubscribeResendsCount(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	_, err := s.NotificationService.Send(alice, services.SendOptions{
		Title:    "n",
		Message:  "m",
		Category: models.CategorySystem,
	})
	require.NoError(t, err)

	conn := dialWS(t, ts, token(t, alice))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe-notifications"}`)))

	count := readFrame(t, conn)
	assert.Equal(t, services.EventUnreadCount, count.Event)
	assert.Equal(t, float64(1), frameData(t, count)["count"])
}

func TestGetNotificationsList(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	for _, category := range []models.Category{models.CategoryTip, models.CategoryUsage, models.CategoryTip} {
		_, err := s.NotificationService.Send(alice, services.SendOptions{
			Title:    "n",
			Message:  "m",
			Category: category,
		})
		require.NoError(t, err)
	}

	conn := dialWS(t, ts, token(t, alice))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"get-notifications","data":{"type":"tip","limit":10}}`)))

	list := readFrame(t, conn)
	assert.Equal(t, services.EventNotificationsList, list.Event)
	data := frameData(t, list)
	assert.Equal(t, float64(2), data["total"])
	notifications := data["notifications"].([]interface{})
	assert.Len(t, notifications, 2)
}

func TestMalformedMessageIsIgnored(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	conn := dialWS(t, ts, token(t, alice))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"no-such-event"}`)))

	// The connection survives and still answers protocol messages.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe-notifications"}`)))
	count := readFrame(t, conn)
	assert.Equal(t, services.EventUnreadCount, count.Event)
	assert.Equal(t, 1, s.Hub.ConnectedUsers())
}

func TestDisconnectUnregisters(t *testing.T) {
	s, ts := setupTestServer(t)
	alice := uint(1)

	conn := dialWS(t, ts, token(t, alice))
	readFrame(t, conn)
	readFrame(t, conn)
	require.Eventually(t, func() bool {
		return s.Hub.IsConnected(alice)
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return !s.Hub.IsConnected(alice)
	}, time.Second, 10*time.Millisecond, "disconnect removes the handle from the registry")
}

func TestBroadcastReachesAllUsers(t *testing.T) {
	s, ts := setupTestServer(t)

	connAlice := dialWS(t, ts, token(t, 1))
	connBob := dialWS(t, ts, token(t, 2))
	for _, conn := range []*websocket.Conn{connAlice, connBob} {
		readFrame(t, conn)
		readFrame(t, conn)
	}

	s.NotificationService.BroadcastSystem("Maintenance", "Back soon")

	for _, conn := range []*websocket.Conn{connAlice, connBob} {
		frame := readFrame(t, conn)
		assert.Equal(t, services.EventSystemNotification, frame.Event)
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/techagentng/notify/db"
	errs "github.com/techagentng/notify/errors"
	"github.com/techagentng/notify/models"
	"github.com/techagentng/notify/server/response"
	"github.com/techagentng/notify/services"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is one client-to-server protocol message.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handleWebSocket owns the connection lifecycle: authenticate from the
// handshake, register, push the initial view, then serve protocol messages
// until the socket drops. Missing or invalid credentials reject the attempt
// before the upgrade, so a failed connection never reaches the registry.
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, found := ExtractCredential(c.Request)
		if !found {
			response.JSON(c, "missing credential", http.StatusUnauthorized, nil, errs.ErrAuthentication)
			return
		}

		userID, err := s.Verifier.Verify(credential.Token)
		if err != nil {
			response.JSON(c, "invalid credential", http.StatusUnauthorized, nil, errs.ErrAuthentication)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithField("error", err).Warn("websocket upgrade failed")
			return
		}

		client := newClient(userID, conn)
		s.Hub.Register(userID, client)
		go client.writePump()

		log.WithFields(log.Fields{
			"handle":  client.ID,
			"user_id": userID,
			"source":  credential.Source,
		}).Info("client connected")

		s.pushInitialState(client)
		s.readLoop(client)
	}
}

// pushInitialState gives a freshly connected client a consistent view
// without a second round trip: the current unread count, then a bounded
// page of unread notifications, most recent first.
func (s *Server) pushInitialState(client *Client) {
	count, err := s.NotificationService.GetUnreadCount(client.UserID)
	if err != nil {
		log.WithFields(log.Fields{"user_id": client.UserID, "error": err}).
			Warn("unable to compute initial unread count")
		return
	}
	s.pushToClient(client, services.EventUnreadCount, services.CountPayload{Count: count})

	unread := false
	notifications, _, err := s.NotificationService.GetUserNotifications(client.UserID, db.Filters{
		Read:  &unread,
		Limit: s.Config.InitialPageSize,
	})
	if err != nil {
		log.WithFields(log.Fields{"user_id": client.UserID, "error": err}).
			Warn("unable to load initial notifications")
		return
	}
	s.pushToClient(client, services.EventInitialNotifications, services.NotificationsPayload{
		Notifications: notifications,
	})
}

// readLoop serves the client's protocol messages. A malformed message is
// ignored, not fatal to the connection. When the read side ends for any
// reason the connection is unregistered and closed.
func (s *Server) readLoop(client *Client) {
	defer func() {
		s.Hub.Unregister(client.UserID, client)
		client.close()
		log.WithFields(log.Fields{"handle": client.ID, "user_id": client.UserID}).
			Info("client disconnected")
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithFields(log.Fields{"handle": client.ID, "error": err}).Debug("read failed")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.WithField("handle", client.ID).Debug("ignoring malformed client message")
			continue
		}
		s.dispatchClientMessage(client, msg)
	}
}

func (s *Server) dispatchClientMessage(client *Client, msg clientMessage) {
	switch msg.Event {
	case services.EventSubscribe:
		s.handleSubscribe(client)
	case services.EventMarkAsRead:
		s.handleMarkOne(client, msg.Data)
	case services.EventMarkAllAsRead:
		s.handleMarkAll(client)
	case services.EventGetNotifications:
		s.handleList(client, msg.Data)
	default:
		log.WithFields(log.Fields{"handle": client.ID, "event": msg.Event}).
			Debug("ignoring unknown client event")
	}
}

// handleSubscribe re-sends the current unread count to the requesting
// connection only.
func (s *Server) handleSubscribe(client *Client) {
	count, err := s.NotificationService.GetUnreadCount(client.UserID)
	if err != nil {
		log.WithFields(log.Fields{"user_id": client.UserID, "error": err}).
			Warn("unable to compute unread count")
		return
	}
	s.pushToClient(client, services.EventUnreadCount, services.CountPayload{Count: count})
}

// handleMarkOne marks a single notification as read. The acknowledgement
// goes only to the requesting connection; the fresh unread count goes to
// all of the user's connections so other tabs stay consistent.
func (s *Server) handleMarkOne(client *Client, data json.RawMessage) {
	var req struct {
		NotificationID string `json:"notificationId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.NotificationID == "" {
		log.WithField("handle", client.ID).Debug("ignoring malformed mark-as-read message")
		return
	}

	if err := s.NotificationService.MarkAsRead(client.UserID, req.NotificationID); err != nil {
		log.WithFields(log.Fields{
			"user_id":         client.UserID,
			"notification_id": req.NotificationID,
			"error":           err,
		}).Warn("mark-as-read failed")
		return
	}

	s.pushToClient(client, services.EventMarkedAsRead, services.MarkedPayload{NotificationID: req.NotificationID})
	if _, err := s.NotificationService.PushUnreadCount(client.UserID); err != nil {
		log.WithFields(log.Fields{"user_id": client.UserID, "error": err}).
			Warn("unable to push unread count")
	}
}

func (s *Server) handleMarkAll(client *Client) {
	if _, err := s.NotificationService.MarkAllAsRead(client.UserID); err != nil {
		log.WithFields(log.Fields{"user_id": client.UserID, "error": err}).
			Warn("mark-all-as-read failed")
		return
	}

	s.pushToClient(client, services.EventAllMarkedAsRead, struct{}{})
	if _, err := s.NotificationService.PushUnreadCount(client.UserID); err != nil {
		log.WithFields(log.Fields{"user_id": client.UserID, "error": err}).
			Warn("unable to push unread count")
	}
}

func (s *Server) handleList(client *Client, data json.RawMessage) {
	var req struct {
		Type  string `json:"type"`
		Read  *bool  `json:"read"`
		Limit int    `json:"limit"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			log.WithField("handle", client.ID).Debug("ignoring malformed get-notifications message")
			return
		}
	}

	filters := db.Filters{Read: req.Read, Limit: req.Limit}
	if filters.Limit <= 0 {
		filters.Limit = s.Config.InitialPageSize
	}
	if req.Type != "" {
		category := models.Category(req.Type)
		if !category.Valid() {
			log.WithFields(log.Fields{"handle": client.ID, "type": req.Type}).
				Debug("ignoring list request with unknown category")
			return
		}
		filters.Category = &category
	}

	notifications, total, err := s.NotificationService.GetUserNotifications(client.UserID, filters)
	if err != nil {
		log.WithFields(log.Fields{"user_id": client.UserID, "error": err}).
			Warn("unable to list notifications")
		return
	}
	s.pushToClient(client, services.EventNotificationsList, services.ListPayload{
		Notifications: notifications,
		Total:         total,
	})
}

// pushToClient targets one connection. A handle that can't accept the frame
// is dropped from the registry.
func (s *Server) pushToClient(client *Client, event string, data interface{}) {
	raw, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		log.WithFields(log.Fields{"event": event, "error": err}).Error("unable to marshal push frame")
		return
	}
	s.Hub.deliver(client, raw, event)
}

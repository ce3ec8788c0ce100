package services

import "github.com/techagentng/notify/models"

// Server-to-client event names.
const (
	EventUnreadCount          = "unread-count"
	EventInitialNotifications = "initial-notifications"
	EventNewNotification      = "new-notification"
	EventNotificationsList    = "notifications-list"
	EventMarkedAsRead         = "marked-as-read"
	EventAllMarkedAsRead      = "all-marked-as-read"
	EventSystemNotification   = "system-notification"
)

// Client-to-server event names.
const (
	EventSubscribe        = "subscribe-notifications"
	EventMarkAsRead       = "mark-as-read"
	EventMarkAllAsRead    = "mark-all-as-read"
	EventGetNotifications = "get-notifications"
)

// Pusher is the narrow port through which the orchestrator reaches live
// connections. The transport gateway owns the registry; the orchestrator
// only pushes through this interface and asks whether anyone is listening.
type Pusher interface {
	PushToUser(userID uint, event string, data interface{})
	Broadcast(event string, data interface{})
	IsConnected(userID uint) bool
}

type CountPayload struct {
	Count int64 `json:"count"`
}

type NotificationPayload struct {
	Notification models.Notification `json:"notification"`
}

type NotificationsPayload struct {
	Notifications []models.Notification `json:"notifications"`
}

type ListPayload struct {
	Notifications []models.Notification `json:"notifications"`
	Total         int64                 `json:"total"`
}

type MarkedPayload struct {
	NotificationID string `json:"notificationId"`
}

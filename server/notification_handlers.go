package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/techagentng/notify/db"
	errs "github.com/techagentng/notify/errors"
	"github.com/techagentng/notify/models"
	"github.com/techagentng/notify/server/response"
	"github.com/techagentng/notify/services"
)

func userIDFromContext(c *gin.Context) (uint, bool) {
	userIDCtx, ok := c.Get("userID")
	if !ok {
		response.JSON(c, "", http.StatusInternalServerError, nil, errs.New("userID not found in context", http.StatusInternalServerError))
		return 0, false
	}
	userID, ok := userIDCtx.(uint)
	if !ok {
		response.JSON(c, "", http.StatusInternalServerError, nil, errs.New("userID is not of type uint", http.StatusInternalServerError))
		return 0, false
	}
	return userID, true
}

func (s *Server) handleGetNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			return
		}

		filters := db.Filters{}
		if categoryStr := c.Query("type"); categoryStr != "" {
			category := models.Category(categoryStr)
			if !category.Valid() {
				response.JSON(c, "unknown notification category", http.StatusBadRequest, nil, errs.ErrBadRequest)
				return
			}
			filters.Category = &category
		}
		if readStr := c.Query("read"); readStr != "" {
			read, err := strconv.ParseBool(readStr)
			if err != nil {
				response.JSON(c, "invalid read filter", http.StatusBadRequest, nil, errs.ErrBadRequest)
				return
			}
			filters.Read = &read
		}
		filters.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
		filters.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

		notifications, total, err := s.NotificationService.GetUserNotifications(userID, filters)
		if err != nil {
			response.JSON(c, "", http.StatusInternalServerError, nil, err)
			return
		}
		response.JSON(c, "Notifications retrieved successfully", http.StatusOK, gin.H{
			"notifications": notifications,
			"total":         total,
		}, nil)
	}
}

func (s *Server) handleGetUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			return
		}

		count, err := s.NotificationService.GetUnreadCount(userID)
		if err != nil {
			response.JSON(c, "", http.StatusInternalServerError, nil, err)
			return
		}
		response.JSON(c, "Unread count retrieved successfully", http.StatusOK, gin.H{"count": count}, nil)
	}
}

func (s *Server) handleGetNotificationStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			return
		}

		stats, err := s.NotificationService.GetNotificationStats(userID)
		if err != nil {
			response.JSON(c, "", http.StatusInternalServerError, nil, err)
			return
		}
		response.JSON(c, "Notification stats retrieved successfully", http.StatusOK, stats, nil)
	}
}

func (s *Server) handleMarkNotificationAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			return
		}

		notificationID := c.Param("id")
		if err := s.NotificationService.MarkAsRead(userID, notificationID); err != nil {
			if err == db.ErrNotFound {
				response.JSON(c, "notification not found", http.StatusNotFound, nil, errs.ErrNotFound)
				return
			}
			response.JSON(c, "", http.StatusInternalServerError, nil, err)
			return
		}

		s.pushCountAfterMutation(userID)
		response.JSON(c, "Notification marked as read", http.StatusOK, gin.H{"notification_id": notificationID}, nil)
	}
}

func (s *Server) handleMarkMultipleAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			return
		}

		var body struct {
			NotificationIDs []string `json:"notification_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, err)
			return
		}

		updated, err := s.NotificationService.MarkMultipleAsRead(userID, body.NotificationIDs)
		if err != nil {
			response.JSON(c, "", http.StatusInternalServerError, nil, err)
			return
		}

		s.pushCountAfterMutation(userID)
		response.JSON(c, "Notifications marked as read", http.StatusOK, gin.H{"updated": updated}, nil)
	}
}

func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			return
		}

		updated, err := s.NotificationService.MarkAllAsRead(userID)
		if err != nil {
			response.JSON(c, "", http.StatusInternalServerError, nil, err)
			return
		}

		s.pushCountAfterMutation(userID)
		response.JSON(c, "All notifications marked as read", http.StatusOK, gin.H{"updated": updated}, nil)
	}
}

func (s *Server) handleDeleteNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			return
		}

		notificationID := c.Param("id")
		if err := s.NotificationService.DeleteNotification(userID, notificationID); err != nil {
			if err == db.ErrNotFound {
				response.JSON(c, "notification not found", http.StatusNotFound, nil, errs.ErrNotFound)
				return
			}
			response.JSON(c, "", http.StatusInternalServerError, nil, err)
			return
		}

		// Deleting an unread row changes the count.
		s.pushCountAfterMutation(userID)
		response.JSON(c, "Notification deleted", http.StatusOK, gin.H{"notification_id": notificationID}, nil)
	}
}

// sendRequest is the producer-facing send payload on the internal API.
type sendRequest struct {
	UserID           uint            `json:"user_id" binding:"required"`
	Title            string          `json:"title"`
	Message          string          `json:"message" binding:"required"`
	Category         models.Category `json:"category" binding:"required"`
	Severity         models.Severity `json:"severity"`
	ActionURL        string          `json:"action_url"`
	ActionButtonText string          `json:"action_button_text"`
	Callback         string          `json:"callback"`
	Metadata         models.JSONMap  `json:"metadata"`
	Email            bool            `json:"email"`
}

func (s *Server) handleInternalSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, err)
			return
		}

		notification, err := s.NotificationService.Send(req.UserID, services.SendOptions{
			Title:            req.Title,
			Message:          req.Message,
			Category:         req.Category,
			Severity:         req.Severity,
			ActionURL:        req.ActionURL,
			ActionButtonText: req.ActionButtonText,
			Callback:         req.Callback,
			Metadata:         req.Metadata,
			Email:            req.Email,
		})
		if err != nil {
			response.JSON(c, "", http.StatusInternalServerError, nil, err)
			return
		}
		response.JSON(c, "Notification sent", http.StatusCreated, notification, nil)
	}
}

func (s *Server) handleInternalBroadcast() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title   string `json:"title"`
			Message string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, err)
			return
		}

		s.NotificationService.BroadcastSystem(req.Title, req.Message)
		response.JSON(c, "System notification broadcast", http.StatusOK, nil, nil)
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"connected_users": s.Hub.ConnectedUsers(),
		})
	}
}

func (s *Server) pushCountAfterMutation(userID uint) {
	if _, err := s.NotificationService.PushUnreadCount(userID); err != nil {
		log.WithFields(log.Fields{"user_id": userID, "error": err}).
			Warn("unable to push unread count")
	}
}

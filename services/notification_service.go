package services

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/techagentng/notify/config"
	"github.com/techagentng/notify/db"
	"github.com/techagentng/notify/models"
)

// SendOptions carries everything a producer can attach to a notification.
type SendOptions struct {
	Title            string
	Message          string
	Category         models.Category
	Severity         models.Severity
	ActionURL        string
	ActionButtonText string
	Callback         string
	Metadata         models.JSONMap
	// Email requests a best-effort email copy when the user has no live
	// connection. Failures are logged, never surfaced to the producer.
	Email bool
}

// Stats summarizes a user's notifications.
type Stats struct {
	Total      int64                     `json:"total"`
	Unread     int64                     `json:"unread"`
	ByCategory map[models.Category]int64 `json:"by_category"`
}

// Mailer sends the offline email copy of a notification.
type Mailer interface {
	SendNotificationEmail(to, subject, body string) error
}

// NotificationService interface
type NotificationService interface {
	Send(userID uint, opts SendOptions) (*models.Notification, error)
	MarkAsRead(userID uint, notificationID string) error
	MarkMultipleAsRead(userID uint, notificationIDs []string) (int64, error)
	MarkAllAsRead(userID uint) (int64, error)
	GetUserNotifications(userID uint, filters db.Filters) ([]models.Notification, int64, error)
	GetUnreadCount(userID uint) (int64, error)
	GetNotificationStats(userID uint) (*Stats, error)
	DeleteNotification(userID uint, notificationID string) error
	CleanupOldNotifications(daysOld int) (int64, error)
	PushUnreadCount(userID uint) (int64, error)
	BroadcastSystem(title, message string)

	NotifySubscriptionExpiring(userID uint, daysLeft int) error
	NotifyPaymentFailed(userID uint, reason string) error
	NotifyAnalysisStarted(userID uint, analysisID, name string) error
	NotifyAnalysisCompleted(userID uint, analysisID, name string) error
	NotifyAnalysisFailed(userID uint, analysisID, name, reason string) error
	NotifyUsageThreshold(userID uint, percentUsed int) error
	NotifyNewDeviceLogin(userID uint, device, location string) error
	NotifySecurityAlert(userID uint, title, detail string) error
}

// notificationService struct
type notificationService struct {
	Config *config.Config
	repo   db.NotificationRepository
	pusher Pusher
	mailer Mailer
}

// NewNotificationService creates a new instance of NotificationService.
// mailer may be nil when no email provider is configured.
func NewNotificationService(repo db.NotificationRepository, pusher Pusher, mailer Mailer, conf *config.Config) NotificationService {
	return &notificationService{
		Config: conf,
		repo:   repo,
		pusher: pusher,
		mailer: mailer,
	}
}

// Send persists the notification and then pushes it to the user's live
// connections. The store is the source of truth: a failed insert aborts the
// pipeline before any push, and zero live connections is still a success.
func (s *notificationService) Send(userID uint, opts SendOptions) (*models.Notification, error) {
	if opts.Title == "" && opts.Message == "" {
		return nil, errors.New("notification needs a title or a message")
	}
	if !opts.Category.Valid() {
		return nil, fmt.Errorf("unknown notification category: %q", opts.Category)
	}
	severity := opts.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("unknown notification severity: %q", severity)
	}

	notification := &models.Notification{
		UserID:           userID,
		Title:            opts.Title,
		Message:          opts.Message,
		Category:         opts.Category,
		Severity:         severity,
		ActionURL:        opts.ActionURL,
		ActionButtonText: opts.ActionButtonText,
		Callback:         opts.Callback,
		Metadata:         opts.Metadata,
	}
	if err := s.repo.Insert(notification); err != nil {
		return nil, errors.Wrap(err, "send aborted")
	}

	if !s.pusher.IsConnected(userID) {
		// Durable, delivered on next connect via the initial page.
		if opts.Email {
			s.sendEmailCopy(userID, notification)
		}
		return notification, nil
	}

	// The notification body must precede the count so clients never see a
	// count they can't account for.
	s.pusher.PushToUser(userID, EventNewNotification, NotificationPayload{Notification: *notification})
	if _, err := s.PushUnreadCount(userID); err != nil {
		log.WithFields(log.Fields{"user_id": userID, "error": err}).
			Warn("unable to push unread count after send")
	}
	return notification, nil
}

func (s *notificationService) MarkAsRead(userID uint, notificationID string) error {
	return s.repo.MarkRead(userID, notificationID)
}

func (s *notificationService) MarkMultipleAsRead(userID uint, notificationIDs []string) (int64, error) {
	return s.repo.MarkManyRead(userID, notificationIDs)
}

func (s *notificationService) MarkAllAsRead(userID uint) (int64, error) {
	return s.repo.MarkAllRead(userID)
}

func (s *notificationService) GetUserNotifications(userID uint, filters db.Filters) ([]models.Notification, int64, error) {
	return s.repo.Query(userID, filters)
}

func (s *notificationService) GetUnreadCount(userID uint) (int64, error) {
	return s.repo.CountUnread(userID)
}

func (s *notificationService) GetNotificationStats(userID uint) (*Stats, error) {
	byCategory, err := s.repo.CountByCategory(userID)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnread(userID)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, n := range byCategory {
		total += n
	}
	return &Stats{Total: total, Unread: unread, ByCategory: byCategory}, nil
}

func (s *notificationService) DeleteNotification(userID uint, notificationID string) error {
	return s.repo.DeleteOne(userID, notificationID)
}

// CleanupOldNotifications removes read notifications older than the cutoff
// and returns the number of rows removed.
func (s *notificationService) CleanupOldNotifications(daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = s.Config.RetentionDays
	}
	policy := RetentionDays(daysOld)
	removed, err := s.repo.DeleteReadOlderThan(policy.Cutoff(time.Now()))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("notification retention sweep")
	}
	return removed, nil
}

// PushUnreadCount recomputes the unread count from the store and pushes it
// to every live connection of the user. The count is never cached across
// operations.
func (s *notificationService) PushUnreadCount(userID uint) (int64, error) {
	count, err := s.repo.CountUnread(userID)
	if err != nil {
		return 0, err
	}
	s.pusher.PushToUser(userID, EventUnreadCount, CountPayload{Count: count})
	return count, nil
}

// BroadcastSystem pushes an unpersisted system notice to every connection.
func (s *notificationService) BroadcastSystem(title, message string) {
	notification := models.Notification{
		Title:     title,
		Message:   message,
		Category:  models.CategorySystem,
		Severity:  models.SeverityInfo,
		CreatedAt: time.Now(),
	}
	s.pusher.Broadcast(EventSystemNotification, NotificationPayload{Notification: notification})
}

func (s *notificationService) sendEmailCopy(userID uint, n *models.Notification) {
	if s.mailer == nil {
		return
	}
	email, err := s.repo.UserEmail(userID)
	if err != nil {
		log.WithFields(log.Fields{"user_id": userID, "error": err}).
			Warn("unable to resolve email for offline copy")
		return
	}
	if err := s.mailer.SendNotificationEmail(email, n.Title, n.Message); err != nil {
		log.WithFields(log.Fields{"user_id": userID, "error": err}).
			Warn("unable to send email copy")
	}
}

// Category-specific helpers. These only fix the category, severity and
// metadata shape before calling Send.

func (s *notificationService) NotifySubscriptionExpiring(userID uint, daysLeft int) error {
	_, err := s.Send(userID, SendOptions{
		Title:            "Subscription expiring soon",
		Message:          fmt.Sprintf("Your subscription expires in %d days.", daysLeft),
		Category:         models.CategorySystem,
		Severity:         models.SeverityWarning,
		ActionURL:        "/settings/billing",
		ActionButtonText: "Renew",
		Metadata:         models.JSONMap{"days_left": daysLeft},
		Email:            true,
	})
	return err
}

func (s *notificationService) NotifyPaymentFailed(userID uint, reason string) error {
	_, err := s.Send(userID, SendOptions{
		Title:            "Payment failed",
		Message:          fmt.Sprintf("We couldn't process your payment: %s", reason),
		Category:         models.CategorySystem,
		Severity:         models.SeverityError,
		ActionURL:        "/settings/billing",
		ActionButtonText: "Update payment method",
		Metadata:         models.JSONMap{"reason": reason},
		Email:            true,
	})
	return err
}

// NotifySecurityAlert covers security events that don't fit the new-device
// shape. These always request an email copy.
func (s *notificationService) NotifySecurityAlert(userID uint, title, detail string) error {
	_, err := s.Send(userID, SendOptions{
		Title:            title,
		Message:          detail,
		Category:         models.CategorySecurity,
		Severity:         models.SeverityError,
		ActionURL:        "/settings/security",
		ActionButtonText: "Review activity",
		Email:            true,
	})
	return err
}

func (s *notificationService) NotifyAnalysisStarted(userID uint, analysisID, name string) error {
	_, err := s.Send(userID, SendOptions{
		Title:    "Analysis started",
		Message:  fmt.Sprintf("%q is now running.", name),
		Category: models.CategoryProcessing,
		Metadata: models.JSONMap{"analysis_id": analysisID},
	})
	return err
}

func (s *notificationService) NotifyAnalysisCompleted(userID uint, analysisID, name string) error {
	_, err := s.Send(userID, SendOptions{
		Title:            "Analysis completed",
		Message:          fmt.Sprintf("%q finished successfully.", name),
		Category:         models.CategoryProcessing,
		Severity:         models.SeveritySuccess,
		ActionURL:        fmt.Sprintf("/analyses/%s", analysisID),
		ActionButtonText: "View results",
		Metadata:         models.JSONMap{"analysis_id": analysisID},
	})
	return err
}

func (s *notificationService) NotifyAnalysisFailed(userID uint, analysisID, name, reason string) error {
	_, err := s.Send(userID, SendOptions{
		Title:    "Analysis failed",
		Message:  fmt.Sprintf("%q failed: %s", name, reason),
		Category: models.CategoryProcessing,
		Severity: models.SeverityError,
		Metadata: models.JSONMap{"analysis_id": analysisID, "reason": reason},
	})
	return err
}

func (s *notificationService) NotifyUsageThreshold(userID uint, percentUsed int) error {
	severity := models.SeverityWarning
	if percentUsed >= 100 {
		severity = models.SeverityError
	}
	_, err := s.Send(userID, SendOptions{
		Title:    "Usage threshold reached",
		Message:  fmt.Sprintf("You have used %d%% of your quota.", percentUsed),
		Category: models.CategoryUsage,
		Severity: severity,
		Metadata: models.JSONMap{"percent_used": percentUsed},
	})
	return err
}

func (s *notificationService) NotifyNewDeviceLogin(userID uint, device, location string) error {
	_, err := s.Send(userID, SendOptions{
		Title:            "New device login",
		Message:          fmt.Sprintf("A new login from %s (%s) was detected.", device, location),
		Category:         models.CategorySecurity,
		Severity:         models.SeverityWarning,
		ActionURL:        "/settings/security",
		ActionButtonText: "Review activity",
		Metadata:         models.JSONMap{"device": device, "location": location},
		Email:            true,
	})
	return err
}

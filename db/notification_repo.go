package db

import (
	"time"

	"github.com/pkg/errors"
	"github.com/techagentng/notify/models"
	"gorm.io/gorm"
)

// Filters narrows a notification query. Nil fields mean "don't filter".
type Filters struct {
	Category *models.Category
	Read     *bool
	Limit    int
	Offset   int
}

// NotificationRepository interface
type NotificationRepository interface {
	Insert(notification *models.Notification) error
	Query(userID uint, filters Filters) ([]models.Notification, int64, error)
	CountUnread(userID uint) (int64, error)
	MarkRead(userID uint, notificationID string) error
	MarkManyRead(userID uint, notificationIDs []string) (int64, error)
	MarkAllRead(userID uint) (int64, error)
	DeleteOne(userID uint, notificationID string) error
	DeleteReadOlderThan(cutoff time.Time) (int64, error)
	CountByCategory(userID uint) (map[models.Category]int64, error)
	UserEmail(userID uint) (string, error)
}

// ErrNotFound is returned when a user-scoped lookup matches no row.
var ErrNotFound = errors.New("notification not found")

// notificationRepo struct
type notificationRepo struct {
	DB *gorm.DB
}

// NewNotificationRepo creates a new instance of NotificationRepository
func NewNotificationRepo(db *GormDB) NotificationRepository {
	return &notificationRepo{db.DB}
}

func (r *notificationRepo) Insert(notification *models.Notification) error {
	if err := r.DB.Create(notification).Error; err != nil {
		return errors.Wrap(err, "unable to insert notification")
	}
	return nil
}

func (r *notificationRepo) Query(userID uint, filters Filters) ([]models.Notification, int64, error) {
	query := r.DB.Model(&models.Notification{}).Where("user_id = ?", userID)
	if filters.Category != nil {
		query = query.Where("category = ?", *filters.Category)
	}
	if filters.Read != nil {
		query = query.Where("read = ?", *filters.Read)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "unable to count notifications")
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC").Find(&notifications).Error; err != nil {
		return nil, 0, errors.Wrap(err, "unable to query notifications")
	}
	return notifications, total, nil
}

func (r *notificationRepo) CountUnread(userID uint) (int64, error) {
	var total int64
	err := r.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "unable to count unread notifications")
	}
	return total, nil
}

func (r *notificationRepo) MarkRead(userID uint, notificationID string) error {
	result := r.DB.Model(&models.Notification{}).
		Where("user_id = ? AND id = ?", userID, notificationID).
		Update("read", true)
	if result.Error != nil {
		return errors.Wrap(result.Error, "unable to mark notification as read")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepo) MarkManyRead(userID uint, notificationIDs []string) (int64, error) {
	if len(notificationIDs) == 0 {
		return 0, nil
	}
	result := r.DB.Model(&models.Notification{}).
		Where("user_id = ? AND id IN ?", userID, notificationIDs).
		Update("read", true)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "unable to mark notifications as read")
	}
	return result.RowsAffected, nil
}

func (r *notificationRepo) MarkAllRead(userID uint) (int64, error) {
	result := r.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "unable to mark all notifications as read")
	}
	return result.RowsAffected, nil
}

func (r *notificationRepo) DeleteOne(userID uint, notificationID string) error {
	result := r.DB.Where("user_id = ? AND id = ?", userID, notificationID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "unable to delete notification")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReadOlderThan removes already-read notifications created before the
// cutoff. This is the retention sweep and the only operation not scoped by
// user id.
func (r *notificationRepo) DeleteReadOlderThan(cutoff time.Time) (int64, error) {
	result := r.DB.Where("read = ? AND created_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "unable to delete old notifications")
	}
	return result.RowsAffected, nil
}

func (r *notificationRepo) CountByCategory(userID uint) (map[models.Category]int64, error) {
	type row struct {
		Category models.Category
		Total    int64
	}
	var rows []row
	err := r.DB.Model(&models.Notification{}).
		Select("category, count(*) as total").
		Where("user_id = ?", userID).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "unable to count notifications by category")
	}

	counts := make(map[models.Category]int64, len(rows))
	for _, r := range rows {
		counts[r.Category] = r.Total
	}
	return counts, nil
}

func (r *notificationRepo) UserEmail(userID uint) (string, error) {
	var user models.User
	if err := r.DB.Select("email").Where("id = ?", userID).First(&user).Error; err != nil {
		return "", errors.Wrap(err, "unable to look up user email")
	}
	return user.Email, nil
}

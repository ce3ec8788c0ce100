package services

import (
	"time"

	"github.com/techagentng/notify/models"
)

// RetentionPolicy decides which notifications the periodic sweep may purge.
// Only rows the user has already read are ever eligible.
type RetentionPolicy struct {
	MaxAge time.Duration
}

// RetentionDays builds a policy keeping read notifications for the given
// number of days.
func RetentionDays(days int) RetentionPolicy {
	return RetentionPolicy{MaxAge: time.Duration(days) * 24 * time.Hour}
}

// Cutoff returns the creation-time boundary: rows created before it are old
// enough to purge.
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.MaxAge)
}

// ShouldPurge reports whether the sweep may remove the notification.
func (p RetentionPolicy) ShouldPurge(n *models.Notification, now time.Time) bool {
	return n.Read && n.CreatedAt.Before(p.Cutoff(now))
}

package models

import "time"

// User is the slice of the account table this service reads. Account
// management lives elsewhere; we only resolve ids to email addresses for
// the offline email copy.
type User struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	Email         string         `json:"email" gorm:"unique;not null"`
	Fullname      string         `json:"fullname"`
	Notifications []Notification `json:"-" gorm:"foreignKey:UserID"`
	CreatedAt     time.Time      `json:"created_at"`
}

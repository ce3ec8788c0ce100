package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Category classifies a notification by the part of the product that produced it.
type Category string

const (
	CategorySystem     Category = "system"
	CategoryProcessing Category = "processing"
	CategoryUsage      Category = "usage"
	CategoryUpdate     Category = "update"
	CategoryTip        Category = "tip"
	CategorySecurity   Category = "security"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySystem, CategoryProcessing, CategoryUsage, CategoryUpdate, CategoryTip, CategorySecurity:
		return true
	}
	return false
}

// Severity indicates how prominently a client should render a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// JSONMap is a free-form metadata bag stored as a JSON column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", value)
	}
	return json.Unmarshal(data, m)
}

// Notification represents a single user-facing notification. Rows are
// append-only except for the read flag; all access is scoped by UserID.
type Notification struct {
	ID               string   `json:"id" gorm:"primaryKey"`
	UserID           uint     `json:"user_id" gorm:"index;not null"`
	Title            string   `json:"title"`
	Message          string   `json:"message"`
	Category         Category `json:"category" gorm:"index"`
	Severity         Severity `json:"severity"`
	ActionURL        string   `json:"action_url,omitempty"`
	ActionButtonText string   `json:"action_button_text,omitempty"`
	Callback         string   `json:"callback,omitempty"`
	Read             bool     `json:"read" gorm:"default:false;index"`
	Metadata         JSONMap  `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt        time.Time `json:"created_at"`
}

// BeforeCreate assigns the notification ID and defaults the severity.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	return nil
}

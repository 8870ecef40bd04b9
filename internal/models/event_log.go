package models

import "time"

// EventLog is the persisted form of a domain event consumed from the
// event topic by cmd/eventworker.
type EventLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"size:64;not null;index" json:"type"`
	Key       string    `gorm:"size:64;index" json:"key"`
	Payload   string    `gorm:"type:text" json:"payload"`
	EventTime time.Time `json:"eventTime"`
	CreatedAt time.Time `json:"createdAt"`
}

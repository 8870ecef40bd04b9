package models

import (
	"time"

	"gorm.io/gorm"
)

// enum
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusOffline   MessageStatus = "offline"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Rank orders statuses for the forward-only transition rule. `sent` and
// `offline` share a rank: both mean "persisted, no delivery ack yet".
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSending:
		return 0
	case MessageStatusSent, MessageStatusOffline:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return -1
	}
}

// ReceiptKind distinguishes delivery acks from read acks.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

/** --------------------ENTITIES-------------------- */
// Message represents a chat message
type Message struct {
	gorm.Model

	SenderID  uint `gorm:"not null;index" json:"senderId"`
	ChannelID uint `gorm:"not null;index" json:"channelId"`

	Text     *string `json:"text,omitempty"`     // optional
	URL      *string `json:"url,omitempty"`      // optional
	FileName *string `json:"fileName,omitempty"` // optional

	Status MessageStatus `gorm:"type:varchar(16);not null;default:'sending';index" json:"status"`

	// ClientKey dedupes client retries of the same send. Stored as NULL
	// when the client sends without a key: unique indexes ignore NULL, so
	// keyless sends never collide with each other.
	ClientKey *string `gorm:"uniqueIndex;size:64" json:"clientKey,omitempty"`

	Sender   User    `gorm:"foreignKey:SenderID" json:"-"`
	Channel  Channel `gorm:"foreignKey:ChannelID" json:"-"`
	Receipts []MessageReceipt `gorm:"foreignKey:MessageID" json:"receipts,omitempty"`
}

// MessageReceipt is one recipient acknowledgement. The composite unique
// index makes repeated acks from the same recipient idempotent inserts.
type MessageReceipt struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	MessageID uint        `gorm:"not null;uniqueIndex:idx_receipt_once,priority:1" json:"messageId"`
	UserID    uint        `gorm:"not null;uniqueIndex:idx_receipt_once,priority:2" json:"userId"`
	Kind      ReceiptKind `gorm:"type:varchar(12);not null;uniqueIndex:idx_receipt_once,priority:3" json:"kind"`
	CreatedAt time.Time   `json:"createdAt"`
}

/** -------------------- DTOs -------------------- */
// Request
type SendMessageRequest struct {
	ChannelID uint    `json:"channelId" binding:"required"`
	Text      *string `json:"text,omitempty"`
	URL       *string `json:"url,omitempty"`
	FileName  *string `json:"fileName,omitempty"`
	ClientKey string  `json:"clientKey,omitempty"`
}

// Response
type MessageResponse struct {
	ID        uint          `json:"id"`
	ChannelID uint          `json:"channelId"`
	SenderID  uint          `json:"senderId"`
	Text      *string       `json:"text,omitempty"`
	URL       *string       `json:"url,omitempty"`
	FileName  *string       `json:"fileName,omitempty"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (m *Message) ToResponse() MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		URL:       m.URL,
		FileName:  m.FileName,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}

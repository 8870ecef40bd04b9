package models

import "gorm.io/gorm"

/** --------------------ENTITIES-------------------- */
// Channel is a chat room. Direct chats are two-member channels.
type Channel struct {
	gorm.Model

	Name    string `gorm:"not null" json:"name"`
	OwnerID uint   `gorm:"not null" json:"ownerId"`

	Members []User `gorm:"many2many:channel_members;" json:"members,omitempty"`
}

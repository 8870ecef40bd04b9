package models

import "gorm.io/gorm"

// User mirrors the identity provider's stable user id. Profile fields are
// owned by the identity collaborator; this row only anchors foreign keys.
type User struct {
	gorm.Model

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`

	Channels []Channel `gorm:"many2many:channel_members;" json:"-"`
}

package delivery

import (
	"context"
	"errors"
	"fmt"

	"chat-realtime/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMessageNotFound = errors.New("message not found")

// Repository is the persistence surface the tracker and reconciler need.
// The store owns durability; everything here must leave no partial state
// visible on failure.
type Repository interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, messageID uint) (*models.Message, error)
	MarkSent(ctx context.Context, messageID uint) error
	SetOffline(ctx context.Context, messageID uint) error

	// AddReceipt inserts one acknowledgement; reports false when the
	// recipient already acked (idempotent).
	AddReceipt(ctx context.Context, messageID, userID uint, kind models.ReceiptKind) (bool, error)

	// AdvanceStatus moves the message status forward, never backward.
	// Reports whether a transition happened.
	AdvanceStatus(ctx context.Context, messageID uint, status models.MessageStatus) (bool, error)

	// MarkReadTx records a read (and implied delivery) receipt and advances
	// the status to read, atomically for this one message.
	MarkReadTx(ctx context.Context, messageID, readerID uint) (bool, error)

	ChannelMemberIDs(ctx context.Context, channelID uint) ([]uint, error)
	IsChannelMember(ctx context.Context, channelID, userID uint) (bool, error)

	// UnreadInChannel lists messages in the channel not sent by readerID
	// and not yet in their read receipts.
	UnreadInChannel(ctx context.Context, channelID, readerID uint) ([]models.Message, error)

	// UndeliveredTo lists messages addressed to userID (member of the
	// channel, not the sender, status still sent/offline) lacking a
	// delivered receipt from them.
	UndeliveredTo(ctx context.Context, userID uint) ([]models.Message, error)
}

// GormRepository implements Repository against the MySQL store.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ClientKey != nil {
		// Client retries reuse the key; return the already-stored row.
		var existing models.Message
		err := r.db.WithContext(ctx).Where("client_key = ?", *msg.ClientKey).First(&existing).Error
		if err == nil {
			*msg = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check client key: %w", err)
		}
	}

	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *GormRepository) GetMessage(ctx context.Context, messageID uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).First(&msg, messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	return &msg, nil
}

func (r *GormRepository) MarkSent(ctx context.Context, messageID uint) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status = ?", messageID, models.MessageStatusSending).
		Update("status", models.MessageStatusSent)
	if result.Error != nil {
		return fmt.Errorf("failed to mark message %d sent: %w", messageID, result.Error)
	}
	return nil
}

func (r *GormRepository) SetOffline(ctx context.Context, messageID uint) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status IN ?", messageID, []models.MessageStatus{models.MessageStatusSending, models.MessageStatusSent}).
		Update("status", models.MessageStatusOffline)
	if result.Error != nil {
		return fmt.Errorf("failed to mark message %d offline: %w", messageID, result.Error)
	}
	return nil
}

func (r *GormRepository) AddReceipt(ctx context.Context, messageID, userID uint, kind models.ReceiptKind) (bool, error) {
	return addReceipt(r.db.WithContext(ctx), messageID, userID, kind)
}

func addReceipt(db *gorm.DB, messageID, userID uint, kind models.ReceiptKind) (bool, error) {
	receipt := models.MessageReceipt{
		MessageID: messageID,
		UserID:    userID,
		Kind:      kind,
	}
	// The composite unique index absorbs duplicate acks.
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
	if result.Error != nil {
		return false, fmt.Errorf("failed to add %s receipt: %w", kind, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRepository) AdvanceStatus(ctx context.Context, messageID uint, status models.MessageStatus) (bool, error) {
	return advanceStatus(r.db.WithContext(ctx), messageID, status)
}

func advanceStatus(db *gorm.DB, messageID uint, status models.MessageStatus) (bool, error) {
	// Only rows currently ranked below the target transition.
	var below []models.MessageStatus
	for _, s := range []models.MessageStatus{
		models.MessageStatusSending,
		models.MessageStatusSent,
		models.MessageStatusOffline,
		models.MessageStatusDelivered,
	} {
		if s.Rank() < status.Rank() {
			below = append(below, s)
		}
	}

	result := db.Model(&models.Message{}).
		Where("id = ? AND status IN ?", messageID, below).
		Update("status", status)
	if result.Error != nil {
		return false, fmt.Errorf("failed to advance message %d to %s: %w", messageID, status, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRepository) MarkReadTx(ctx context.Context, messageID, readerID uint) (bool, error) {
	var inserted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = addReceipt(tx, messageID, readerID, models.ReceiptRead)
		if err != nil {
			return err
		}
		// Read implies delivered even if delivery was never acked.
		if _, err := addReceipt(tx, messageID, readerID, models.ReceiptDelivered); err != nil {
			return err
		}
		if _, err := advanceStatus(tx, messageID, models.MessageStatusRead); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (r *GormRepository) ChannelMemberIDs(ctx context.Context, channelID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Table("channel_members").
		Where("channel_id = ?", channelID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load members of channel %d: %w", channelID, err)
	}
	return ids, nil
}

func (r *GormRepository) IsChannelMember(ctx context.Context, channelID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("channel_members").
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

func (r *GormRepository) UnreadInChannel(ctx context.Context, channelID, readerID uint) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND sender_id <> ?", channelID, readerID).
		Where("id NOT IN (?)", r.db.Model(&models.MessageReceipt{}).
			Select("message_id").
			Where("user_id = ? AND kind = ?", readerID, models.ReceiptRead)).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load unread messages: %w", err)
	}
	return msgs, nil
}

func (r *GormRepository) UndeliveredTo(ctx context.Context, userID uint) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("channel_id IN (?)", r.db.Table("channel_members").
			Select("channel_id").
			Where("user_id = ?", userID)).
		Where("sender_id <> ?", userID).
		Where("status IN ?", []models.MessageStatus{models.MessageStatusSent, models.MessageStatusOffline}).
		Where("id NOT IN (?)", r.db.Model(&models.MessageReceipt{}).
			Select("message_id").
			Where("user_id = ? AND kind = ?", userID, models.ReceiptDelivered)).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load undelivered messages: %w", err)
	}
	return msgs, nil
}

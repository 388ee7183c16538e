package service

import (
	"time"

	"github.com/kamilllllllllllllllll/lightning-server/internal/models"

	"gorm.io/gorm"
)

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// MessageDTO 是对外输出的消息数据，也是实时广播的载荷。
type MessageDTO struct {
	Type          string    `json:"type"`
	ID            uint      `json:"id"`
	ChannelID     uint      `json:"channel_id"`
	SenderID      uint      `json:"sender_id"`
	DisplayName   string    `json:"display_name"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	AttachmentIDs []uint    `json:"attachment_ids,omitempty"`
}

// Create 持久化消息及其附件关联，两步在同一事务内完成。
// 附件 id 指向不存在的行会触发外键失败并整体回滚。
func (s *MessageService) Create(channelID, senderID uint, content string, attachmentIDs []uint) (*MessageDTO, error) {
	msg := models.Message{ChannelID: channelID, SenderID: senderID, Content: content}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		for _, aid := range attachmentIDs {
			var count int64
			if err := tx.Model(&models.Attachment{}).Where("id = ?", aid).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrAttachmentNotFound
			}
			if err := tx.Create(&models.MessageAttachment{MessageID: msg.ID, AttachmentID: aid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var sender models.User
	if err := s.db.First(&sender, senderID).Error; err != nil {
		return nil, err
	}
	return &MessageDTO{
		Type:          "message:new",
		ID:            msg.ID,
		ChannelID:     msg.ChannelID,
		SenderID:      msg.SenderID,
		DisplayName:   sender.DisplayName,
		Content:       msg.Content,
		CreatedAt:     msg.CreatedAt,
		AttachmentIDs: attachmentIDs,
	}, nil
}

// ListByChannel 按时间倒序分页查询频道消息，before 为游标，
// created_at 相同的记录按 id 倒序对齐插入顺序。
func (s *MessageService) ListByChannel(channelID uint, limit int, before *time.Time) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.Where("channel_id = ?", channelID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var msgs []models.Message
	if err := q.Order("created_at desc, id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	names, err := s.resolveDisplayNames(msgs)
	if err != nil {
		return nil, err
	}
	attachments, err := s.resolveAttachments(msgs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			Type:          "message:new",
			ID:            m.ID,
			ChannelID:     m.ChannelID,
			SenderID:      m.SenderID,
			DisplayName:   names[m.SenderID],
			Content:       m.Content,
			CreatedAt:     m.CreatedAt,
			AttachmentIDs: attachments[m.ID],
		})
	}
	return out, nil
}

// resolveDisplayNames 批量获取消息涉及的发送者昵称。
func (s *MessageService) resolveDisplayNames(msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		userIDs = append(userIDs, m.SenderID)
	}

	names := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.Select("id", "display_name").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			names[u.ID] = u.DisplayName
		}
	}
	return names, nil
}

// resolveAttachments 批量获取消息的附件关联，未排序，调用方需要顺序时自行排序。
func (s *MessageService) resolveAttachments(msgs []models.Message) (map[uint][]uint, error) {
	if len(msgs) == 0 {
		return map[uint][]uint{}, nil
	}
	msgIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		msgIDs = append(msgIDs, m.ID)
	}
	var rows []models.MessageAttachment
	if err := s.db.Where("message_id IN ?", msgIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint][]uint, len(rows))
	for _, r := range rows {
		out[r.MessageID] = append(out[r.MessageID], r.AttachmentID)
	}
	return out, nil
}

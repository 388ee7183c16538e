package service

import (
	"errors"

	"github.com/kamilllllllllllllllll/lightning-server/internal/models"

	"gorm.io/gorm"
)

// ChannelService 封装频道相关的业务逻辑，成员关系在创建时固定。
type ChannelService struct {
	db *gorm.DB
}

func NewChannelService(db *gorm.DB) *ChannelService {
	return &ChannelService{db: db}
}

// ChannelDTO 是对外输出的频道数据，Online 由上层按需填充。
type ChannelDTO struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
	Members int    `json:"members"`
	Online  int    `json:"online"`
}

// MemberDTO 是频道成员的对外视图。
type MemberDTO struct {
	ID          uint   `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Create 创建频道并写入全部成员行，两步在同一事务内完成，
// 任何一行失败都会整体回滚。成员数超过两人即视为群聊。
func (s *ChannelService) Create(name string, memberIDs []uint) (*ChannelDTO, error) {
	seen := make(map[uint]struct{}, len(memberIDs))
	members := make([]uint, 0, len(memberIDs))
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	channel := models.Channel{Name: name, IsGroup: len(members) > 2}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&channel).Error; err != nil {
			return err
		}
		for _, uid := range members {
			if err := tx.Create(&models.ChannelMember{ChannelID: channel.ID, UserID: uid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ChannelDTO{ID: channel.ID, Name: channel.Name, IsGroup: channel.IsGroup, Members: len(members)}, nil
}

// ListForUser 返回用户所属的全部频道。
func (s *ChannelService) ListForUser(userID uint) ([]ChannelDTO, error) {
	var channels []models.Channel
	err := s.db.
		Joins("JOIN channel_members ON channel_members.channel_id = channels.id").
		Where("channel_members.user_id = ?", userID).
		Order("channels.id desc").
		Find(&channels).Error
	if err != nil {
		return nil, err
	}
	out := make([]ChannelDTO, 0, len(channels))
	for _, ch := range channels {
		var count int64
		if err := s.db.Model(&models.ChannelMember{}).Where("channel_id = ?", ch.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		out = append(out, ChannelDTO{ID: ch.ID, Name: ch.Name, IsGroup: ch.IsGroup, Members: int(count)})
	}
	return out, nil
}

// Members 返回频道的成员列表，频道不存在时返回 ErrChannelNotFound。
func (s *ChannelService) Members(channelID uint) ([]MemberDTO, error) {
	var channel models.Channel
	if err := s.db.First(&channel, channelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	var users []models.User
	err := s.db.
		Joins("JOIN channel_members ON channel_members.user_id = users.id").
		Where("channel_members.channel_id = ?", channelID).
		Order("users.id").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	out := make([]MemberDTO, 0, len(users))
	for _, u := range users {
		out = append(out, MemberDTO{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName})
	}
	return out, nil
}

// IsMember 检查用户是否为频道成员。
func (s *ChannelService) IsMember(channelID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&count).Error
	return count > 0, err
}

// RequireMember 校验频道存在且用户是其成员，供消息读写路径做权限判定。
func (s *ChannelService) RequireMember(channelID, userID uint) error {
	if _, err := s.Exists(channelID); err != nil {
		return err
	}
	ok, err := s.IsMember(channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// Exists 检查频道是否存在。
func (s *ChannelService) Exists(channelID uint) (*models.Channel, error) {
	var channel models.Channel
	if err := s.db.First(&channel, channelID).Error; err != nil {
		return nil, ErrChannelNotFound
	}
	return &channel, nil
}

package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string `gorm:"size:64;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Channel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	IsGroup   bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChannelMember struct {
	ID        uint `gorm:"primaryKey"`
	ChannelID uint `gorm:"uniqueIndex:idx_channel_member;not null"`
	UserID    uint `gorm:"uniqueIndex:idx_channel_member;index;not null"`
	CreatedAt time.Time
}

type Message struct {
	ID        uint      `gorm:"primaryKey"`
	ChannelID uint      `gorm:"index:idx_msg_channel;not null"`
	SenderID  uint      `gorm:"index;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_msg_channel"`
}

type Attachment struct {
	ID          uint   `gorm:"primaryKey"`
	FileName    string `gorm:"size:255;not null"`
	ContentType string `gorm:"size:128"`
	Size        int64  `gorm:"not null"`
	StorageKey  string `gorm:"uniqueIndex;size:128;not null"`
	CreatedAt   time.Time
}

type MessageAttachment struct {
	ID           uint `gorm:"primaryKey"`
	MessageID    uint `gorm:"uniqueIndex:idx_msg_attachment;not null"`
	AttachmentID uint `gorm:"uniqueIndex:idx_msg_attachment;not null"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	TokenHash string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

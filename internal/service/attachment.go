package service

import (
	"errors"
	"io"
	"os"

	"github.com/kamilllllllllllllllll/lightning-server/internal/files"
	"github.com/kamilllllllllllllllll/lightning-server/internal/models"

	"gorm.io/gorm"
)

// AttachmentService 负责上传文件的落盘与元数据登记。
// 附件独立于消息创建，发送消息时再建立关联。
type AttachmentService struct {
	db    *gorm.DB
	store *files.Store
}

func NewAttachmentService(db *gorm.DB, store *files.Store) *AttachmentService {
	return &AttachmentService{db: db, store: store}
}

// AttachmentDTO 是对外输出的附件数据。
type AttachmentDTO struct {
	ID          uint   `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// SaveUpload 写入文件流并登记附件行，登记失败时清理已写入的文件。
func (s *AttachmentService) SaveUpload(r io.Reader, fileName, contentType string) (*AttachmentDTO, error) {
	key, size, err := s.store.Save(r)
	if err != nil {
		return nil, err
	}
	att := models.Attachment{FileName: fileName, ContentType: contentType, Size: size, StorageKey: key}
	if err := s.db.Create(&att).Error; err != nil {
		_ = s.store.Remove(key)
		return nil, err
	}
	return &AttachmentDTO{
		ID:          att.ID,
		FileName:    att.FileName,
		ContentType: att.ContentType,
		Size:        att.Size,
		URL:         "/api/v1/uploads/" + att.StorageKey,
	}, nil
}

// Open 按存储 key 取回附件内容，缺失行或缺失文件都返回 ErrAttachmentNotFound。
func (s *AttachmentService) Open(storageKey string) (*models.Attachment, io.ReadCloser, error) {
	var att models.Attachment
	if err := s.db.Where("storage_key = ?", storageKey).First(&att).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrAttachmentNotFound
		}
		return nil, nil, err
	}
	rc, err := s.store.Open(att.StorageKey)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrAttachmentNotFound
		}
		return nil, nil, err
	}
	return &att, rc, nil
}

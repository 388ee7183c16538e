package files

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store 是本地磁盘文件仓库，按随机 key 存储上传内容。
// key 即稳定的取回定位符，不暴露原始文件名。
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Save 写入上传流并返回生成的 key 与实际字节数。
func (s *Store) Save(r io.Reader) (string, int64, error) {
	key := uuid.NewString()
	f, err := os.Create(filepath.Join(s.dir, key))
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(filepath.Join(s.dir, key))
		return "", 0, err
	}
	return key, n, nil
}

// Open 按 key 打开文件，key 会被净化以防路径穿越。
func (s *Store) Open(key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dir, filepath.Base(key)))
}

// Remove 删除 key 对应的文件，文件不存在不视为错误。
func (s *Store) Remove(key string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(key)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/heartrisk/internal/model"
)

// SessionStore はセッションの永続化先。プロセス再起動後も有効なトークンを復元するために使用する。
type SessionStore interface {
	// Load は保存済みのセッションを返す。保存されていない場合は(nil, nil)を返す。
	Load() (*model.Session, error)
	Save(sess *model.Session) error
	Clear() error
}

// FileStore はセッションをJSONファイルに保存する。ファイルは0600で作成する。
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore はFileStoreを生成する。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load はファイルからセッションを読み込む。
func (s *FileStore) Load() (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, nil
	}
	return tr.toSession(data), nil
}

// Save はセッションをファイルに書き込む。一時ファイルに書いてからリネームする。
func (s *FileStore) Save(sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(fromSession(sess))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear はセッションファイルを削除する。存在しない場合もエラーにしない。
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// MemoryStore はプロセス内にのみセッションを保持する。
type MemoryStore struct {
	mu   sync.Mutex
	sess *model.Session
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess, nil
}

func (s *MemoryStore) Save(sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
	return nil
}

var (
	_ SessionStore = (*FileStore)(nil)
	_ SessionStore = (*MemoryStore)(nil)
)

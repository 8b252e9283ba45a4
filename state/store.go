package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"perpguard/utils"
)

// Store JSON 状态文件
type Store struct {
	path string
}

// NewStore 创建状态存储
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path 状态文件路径
func (s *Store) Path() string {
	return s.path
}

// Load 读取状态；文件不存在时返回空状态且不写盘，文件损坏时返回错误
func (s *Store) Load() (*RuntimeState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取状态文件失败: %w", err)
	}

	// 旧版本文件缺少的字段保持默认值
	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("状态文件 %s 已损坏: %w", s.path, err)
	}
	if st.PendingAction == "" {
		st.PendingAction = PendingNone
	}
	if st.CloseAttemptCount < 0 {
		return nil, fmt.Errorf("状态文件 %s 无效: close_attempt_count=%d", s.path, st.CloseAttemptCount)
	}
	if st.OpenPosition != nil && !st.OpenPosition.Side.Valid() {
		return nil, fmt.Errorf("状态文件 %s 无效: 持仓方向 %q", s.path, st.OpenPosition.Side)
	}
	return st, nil
}

// Save 原子写入：写临时文件并 fsync 后 rename 覆盖
func (s *Store) Save(st *RuntimeState) error {
	if st.Version == 0 {
		st.Version = CurrentVersion
	}
	st.UpdatedAt = utils.NowUTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建状态目录失败: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("创建临时状态文件失败: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("写入临时状态文件失败: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("同步临时状态文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("关闭临时状态文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("替换状态文件失败: %w", err)
	}
	return nil
}

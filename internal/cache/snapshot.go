package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrCorruptIndex 表示快照文件存在但无法解析。启动时遇到该错误必须终止，
// 以免以空索引继续运行并把现有正文文件当作孤儿删除。
var ErrCorruptIndex = errors.New("cache index snapshot is corrupt")

// readSnapshot 读取快照；文件不存在或内容为空时返回空切片。
func readSnapshot(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index snapshot: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: %s: snapshot is not a record array", ErrCorruptIndex, path)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, err)
	}
	for i, entry := range entries {
		if entry.Key == "" || entry.Path == "" {
			return nil, fmt.Errorf("%w: %s: record %d missing url or path", ErrCorruptIndex, path, i)
		}
		// 与 Store 生成的路径保持同一形式，Reclaim 按字符串比对引用。
		entries[i].Path = filepath.Clean(entry.Path)
	}
	return entries, nil
}

// writeSnapshot 以临时文件 + rename 的方式整体重写快照，避免崩溃后留下半截文件。
func writeSnapshot(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// sortEntries 按创建时间、再按 key 排序，保证快照输出稳定。
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

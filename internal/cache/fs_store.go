package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{basePath: abs}, nil
}

type fileStore struct {
	basePath string
}

func (s *fileStore) Dir() string {
	return s.basePath
}

func (s *fileStore) Put(ctx context.Context, body io.Reader) (string, int64, error) {
	tempFile, err := os.CreateTemp(s.basePath, ".put-*")
	if err != nil {
		return "", 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", 0, err
	}

	filePath := s.newArtifactPath()
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return "", 0, err
	}
	return filePath, written, nil
}

func (s *fileStore) Remove(path string) error {
	if !s.contains(path) {
		return fmt.Errorf("%w: %s", ErrOutsideStore, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Exists(path string) bool {
	if !s.contains(path) {
		return false
	}
	return regularFileExists(path)
}

func (s *fileStore) TempFile(pattern string) (*os.File, error) {
	return os.CreateTemp(s.basePath, ".part-"+pattern)
}

func (s *fileStore) Reclaim(referenced map[string]struct{}) ([]string, error) {
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("scan storage path: %w", err)
	}

	keep := make(map[string]struct{}, len(referenced))
	for path := range referenced {
		keep[filepath.Clean(path)] = struct{}{}
	}

	var removed []string
	for _, item := range items {
		if !item.Type().IsRegular() {
			continue
		}
		full := filepath.Join(s.basePath, item.Name())
		if _, ok := keep[full]; ok {
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove orphan %s: %w", full, err)
		}
		removed = append(removed, full)
	}
	return removed, nil
}

// newArtifactPath 生成 <uuid>.cache 形式的唯一文件名。
func (s *fileStore) newArtifactPath() string {
	return filepath.Join(s.basePath, uuid.NewString()+ArtifactSuffix)
}

// contains 判断 path 是否直接位于缓存目录下，缓存目录采用扁平布局。
func (s *fileStore) contains(path string) bool {
	if path == "" || !filepath.IsAbs(path) {
		return false
	}
	return filepath.Dir(filepath.Clean(path)) == s.basePath
}

func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

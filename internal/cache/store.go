package cache

import (
	"context"
	"errors"
	"io"
	"os"
)

// ArtifactSuffix 是缓存正文文件的固定后缀。
const ArtifactSuffix = ".cache"

// Store 负责管理缓存正文目录。磁盘布局遵循：
//
//	<StoragePath>/<uuid>.cache    # 一个条目对应一个正文文件
//	<StoragePath>/.put-*          # 写入中的临时文件
//	<StoragePath>/.part-*         # 下载引擎的分段暂存文件
//
// 文件名在每次写入时随机生成，不同写入者永远不会落到同一个目标文件。
type Store interface {
	// Put 将 body 写入新的唯一文件并返回其绝对路径。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, body io.Reader) (string, int64, error)

	// Remove 删除正文文件，文件不存在不视为错误；目录外路径返回 ErrOutsideStore。
	Remove(path string) error

	// Exists 报告 path 是否为目录内存在的普通文件。
	Exists(path string) bool

	// TempFile 在目录内创建暂存文件，启动时未被引用的暂存文件会被回收。
	TempFile(pattern string) (*os.File, error)

	// Reclaim 删除 referenced 之外的所有普通文件，返回被删除的路径。
	Reclaim(referenced map[string]struct{}) ([]string, error)

	// Dir 返回目录的绝对路径。
	Dir() string
}

// ErrOutsideStore 表示路径不在缓存目录内，拒绝操作。
var ErrOutsideStore = errors.New("path outside artifact store")

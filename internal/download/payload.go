package download

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

// Payload 是下载完成后的正文，读取位置从文件开头开始。Close 会删除暂存文件。
type Payload struct {
	file *os.File
	size int64
}

// NewPayload 把已写好的暂存文件包装为 Payload，并将读取位置重置到开头。
func NewPayload(file *os.File, size int64) (*Payload, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &Payload{file: file, size: size}, nil
}

func (p *Payload) Read(b []byte) (int, error) {
	if p.file == nil {
		return 0, os.ErrClosed
	}
	return p.file.Read(b)
}

// Size 返回正文字节数。
func (p *Payload) Size() int64 {
	return p.size
}

// Close 关闭并删除暂存文件，可重复调用。
func (p *Payload) Close() error {
	if p == nil || p.file == nil {
		return nil
	}
	name := p.file.Name()
	closeErr := p.file.Close()
	p.file = nil
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}

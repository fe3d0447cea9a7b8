package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if strings.TrimSpace(g.IndexPath) == "" {
		return newFieldError("Global.IndexPath", "不能为空")
	}
	if g.DefaultKeep.DurationValue() <= 0 {
		return newFieldError("Global.DefaultKeep", "必须大于 0")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("Global.SweepInterval", "必须大于 0")
	}
	if g.BatchConcurrency <= 0 {
		return newFieldError("Global.BatchConcurrency", "必须大于 0")
	}

	d := c.Download
	if d.Segments <= 0 || d.Segments > 64 {
		return newFieldError("Download.Segments", "必须在 1-64")
	}
	if d.BufferSize <= 0 {
		return newFieldError("Download.BufferSize", "必须大于 0")
	}
	if d.ProgressInterval.DurationValue() <= 0 {
		return newFieldError("Download.ProgressInterval", "必须大于 0")
	}
	if d.MaxRetries < 0 {
		return newFieldError("Download.MaxRetries", "不能为负数")
	}
	if d.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Download.InitialBackoff", "必须大于 0")
	}
	if d.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Download.UpstreamTimeout", "必须大于 0")
	}

	return nil
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：日志、HTTP 监听与缓存目录。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	// StoragePath 是缓存正文目录，IndexPath 是索引快照文件。
	StoragePath string `mapstructure:"StoragePath"`
	IndexPath   string `mapstructure:"IndexPath"`
	// DefaultKeep 是未显式指定保留时长时每个条目的存活时间。
	DefaultKeep      Duration `mapstructure:"DefaultKeep"`
	SweepInterval    Duration `mapstructure:"SweepInterval"`
	BatchConcurrency int      `mapstructure:"BatchConcurrency"`
}

// DownloadConfig 控制下载引擎的分段、重试与进度日志节奏。
type DownloadConfig struct {
	Segments         int      `mapstructure:"Segments"`
	BufferSize       int      `mapstructure:"BufferSize"`
	ProgressInterval Duration `mapstructure:"ProgressInterval"`
	MaxRetries       int      `mapstructure:"MaxRetries"`
	InitialBackoff   Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	UserAgent        string   `mapstructure:"UserAgent"`
}

// Config 是 TOML 文件映射的整体结构，所有键均位于顶层。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Download DownloadConfig `mapstructure:",squash"`
}

package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/any-cache/internal/version"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 ANY_CACHE_LOGLEVEL。
const EnvPrefix = "ANY_CACHE"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyDownloadDefaults(&cfg.Download)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	absIndex, err := filepath.Abs(cfg.Global.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("无法解析索引文件路径: %w", err)
	}
	cfg.Global.IndexPath = absIndex

	if filepath.Dir(absIndex) == absStorage {
		return nil, newFieldError("Global.IndexPath", "不能位于 StoragePath 目录内")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./cache")
	v.SetDefault("IndexPath", "./cache-record.json")
	v.SetDefault("DefaultKeep", "1h")
	v.SetDefault("SweepInterval", "1s")
	v.SetDefault("BatchConcurrency", 4)
	v.SetDefault("Segments", 5)
	v.SetDefault("BufferSize", 4096)
	v.SetDefault("ProgressInterval", "3s")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "10m")
	v.SetDefault("UserAgent", "")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.DefaultKeep.DurationValue() == 0 {
		g.DefaultKeep = Duration(time.Hour)
	}
	if g.SweepInterval.DurationValue() == 0 {
		g.SweepInterval = Duration(time.Second)
	}
	if g.BatchConcurrency == 0 {
		g.BatchConcurrency = 4
	}
}

func applyDownloadDefaults(d *DownloadConfig) {
	if d.Segments == 0 {
		d.Segments = 5
	}
	if d.BufferSize == 0 {
		d.BufferSize = 4096
	}
	if d.ProgressInterval.DurationValue() == 0 {
		d.ProgressInterval = Duration(3 * time.Second)
	}
	if d.InitialBackoff.DurationValue() == 0 {
		d.InitialBackoff = Duration(time.Second)
	}
	if d.UpstreamTimeout.DurationValue() == 0 {
		d.UpstreamTimeout = Duration(10 * time.Minute)
	}
	if strings.TrimSpace(d.UserAgent) == "" {
		d.UserAgent = "any-cache/" + version.Version
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

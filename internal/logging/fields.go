package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供下载请求的 url/referer 字段，供协调器与下载日志复用。
func FetchFields(action, url, referer string) logrus.Fields {
	fields := logrus.Fields{
		"action": action,
		"url":    url,
	}
	if referer != "" {
		fields["referer"] = referer
	}
	return fields
}

// EntryFields 描述单个缓存条目，expires_at 采用 RFC3339 便于检索。
func EntryFields(action, key, path string, expiresAt time.Time) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"url":        key,
		"path":       path,
		"expires_at": expiresAt.Format(time.RFC3339),
	}
}

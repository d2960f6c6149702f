package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求分类/缓存命中状态字段，供代理请求日志复用。
func RequestFields(category, key string, cacheHit, offline bool) logrus.Fields {
	return logrus.Fields{
		"category":  category,
		"key":       key,
		"cache_hit": cacheHit,
		"offline":   offline,
	}
}

// SyncFields 汇总一次后台同步的统计字段。
func SyncFields(generation string, total, refreshed, failed int) logrus.Fields {
	return logrus.Fields{
		"action":     "sync",
		"generation": generation,
		"total":      total,
		"refreshed":  refreshed,
		"failed":     failed,
	}
}

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

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述代理进程的全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	AppName         string   `mapstructure:"AppName"`
	StaticVersion   int      `mapstructure:"StaticVersion"`
	DataVersion     int      `mapstructure:"DataVersion"`
	SyncInterval    Duration `mapstructure:"SyncInterval"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// StaticGeneration 返回当前静态资源缓存代的名称，例如 scorehub-static-v3。
func (g GlobalConfig) StaticGeneration() string {
	return fmt.Sprintf("%s-static-v%d", g.AppName, g.StaticVersion)
}

// DataGeneration 返回当前数据缓存代的名称，例如 scorehub-data-v3。
func (g GlobalConfig) DataGeneration() string {
	return fmt.Sprintf("%s-data-v%d", g.AppName, g.DataVersion)
}

// UpstreamConfig 决定代理如何访问仪表盘后端。
type UpstreamConfig struct {
	BaseURL string `mapstructure:"BaseURL"`
}

// ClassifierConfig 描述请求分类规则：数据路径前缀、静态路径前缀、
// 以及允许镜像的第三方静态资源域名白名单。
type ClassifierConfig struct {
	DataPaths     []string `mapstructure:"DataPaths"`
	StaticPaths   []string `mapstructure:"StaticPaths"`
	StaticOrigins []string `mapstructure:"StaticOrigins"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global     GlobalConfig     `mapstructure:",squash"`
	Upstream   UpstreamConfig   `mapstructure:"Upstream"`
	Classifier ClassifierConfig `mapstructure:"Classifier"`
	Manifest   []string         `mapstructure:"Manifest"`
}

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
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyClassifierDefaults(&cfg.Classifier)
	applyManifestDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("AppName", "scorehub")
	v.SetDefault("StaticVersion", 1)
	v.SetDefault("DataVersion", 1)
	v.SetDefault("SyncInterval", "5m")
	v.SetDefault("UpstreamTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.AppName == "" {
		g.AppName = "scorehub"
	}
	if g.StaticVersion == 0 {
		g.StaticVersion = 1
	}
	if g.DataVersion == 0 {
		g.DataVersion = 1
	}
	if g.SyncInterval.DurationValue() == 0 {
		g.SyncInterval = Duration(5 * time.Minute)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

// applyClassifierDefaults 补全默认的分类规则。静态白名单覆盖常见的
// UI 库与字体 CDN，数据路径默认匹配仪表盘后端的 JSON 接口。
func applyClassifierDefaults(c *ClassifierConfig) {
	if len(c.DataPaths) == 0 {
		c.DataPaths = []string{"/data/", "/api/"}
	}
	if len(c.StaticPaths) == 0 {
		c.StaticPaths = []string{"/static/", "/assets/", "/css/", "/js/", "/fonts/"}
	}
	if len(c.StaticOrigins) == 0 {
		c.StaticOrigins = []string{
			"cdn.jsdelivr.net",
			"cdnjs.cloudflare.com",
			"fonts.googleapis.com",
			"fonts.gstatic.com",
		}
	}
	for i, origin := range c.StaticOrigins {
		c.StaticOrigins[i] = strings.ToLower(strings.TrimSpace(origin))
	}
}

// applyManifestDefaults 确保根文档始终位于预热清单中，离线导航回退
// 依赖它在静态缓存代里可命中。
func applyManifestDefaults(cfg *Config) {
	for _, entry := range cfg.Manifest {
		if entry == "/" {
			return
		}
	}
	cfg.Manifest = append([]string{"/"}, cfg.Manifest...)
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

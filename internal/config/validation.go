package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
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
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateAppName(g.AppName); err != nil {
		return fmt.Errorf("Global.AppName: %w", err)
	}
	if g.StaticVersion <= 0 {
		return newFieldError("Global.StaticVersion", "必须大于 0")
	}
	if g.DataVersion <= 0 {
		return newFieldError("Global.DataVersion", "必须大于 0")
	}
	if g.SyncInterval.DurationValue() <= 0 {
		return newFieldError("Global.SyncInterval", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if err := validateUpstream(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("Upstream.BaseURL: %w", err)
	}

	for i, entry := range c.Manifest {
		if err := validateManifestEntry(entry); err != nil {
			return fmt.Errorf("%s: %w", manifestField(i), err)
		}
	}

	for _, origin := range c.Classifier.StaticOrigins {
		if origin == "" || strings.ContainsAny(origin, "/ ") {
			return newFieldError("Classifier.StaticOrigins", "仅允许纯域名，不含路径或空格")
		}
	}

	return nil
}

// validateAppName 限制生成的缓存代名称只含合法的目录字符。
func validateAppName(name string) error {
	if name == "" {
		return errors.New("不能为空")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return fmt.Errorf("仅允许小写字母、数字与连字符: %s", name)
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// validateManifestEntry 接受上游相对路径或 /ext/<origin>/<path> 形式的
// 第三方镜像路径，拒绝绝对 URL，清单统一走分类器的寻址规则。
func validateManifestEntry(entry string) error {
	if entry == "" {
		return errors.New("不能为空")
	}
	if !strings.HasPrefix(entry, "/") {
		return fmt.Errorf("必须以 / 开头: %s", entry)
	}
	if strings.Contains(entry, "://") {
		return fmt.Errorf("不允许绝对 URL，请使用 /ext/<origin>/<path>: %s", entry)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions credentials 文件对组或其他用户可读
var ErrInsecurePermissions = errors.New("credentials file has insecure permissions")

// Credentials 从 credentials.toml 读取的 provider 密钥。
//
//	[llm]
//	api_key = "fallback"
//
//	[anthropic]
//	api_key = "sk-ant-..."
type Credentials struct {
	fallback  string
	providers map[string]string
}

// LoadCredentials 读取 credentials 文件，非 Windows 平台要求权限为 0400
func LoadCredentials(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat credentials file: %w", err)
		}
		if mode := info.Mode().Perm(); mode != 0o400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)", ErrInsecurePermissions, path, mode)
		}
	}

	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	creds := &Credentials{providers: make(map[string]string)}
	for section, value := range raw {
		table, ok := value.(map[string]any)
		if !ok {
			continue
		}
		key, _ := table["api_key"].(string)
		if key == "" {
			continue
		}
		if section == "llm" {
			creds.fallback = key
			continue
		}
		creds.providers[strings.ToLower(section)] = key
	}
	return creds, nil
}

// APIKey 返回 provider 的密钥。
// 优先级: [provider] → [llm] → 环境变量 <PROVIDER>_API_KEY。c 可以为 nil。
func (c *Credentials) APIKey(provider string, lookupEnv func(string) (string, bool)) string {
	if c != nil {
		if key := c.providers[strings.ToLower(provider)]; key != "" {
			return key
		}
		if c.fallback != "" {
			return c.fallback
		}
	}
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	v, _ := lookupEnv(EnvVarForProvider(provider))
	return v
}

// Providers 返回文件中出现的 provider 名称
func (c *Credentials) Providers() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.providers))
	for name := range c.providers {
		out = append(out, name)
	}
	return out
}

// EnvVarForProvider 返回 provider 密钥对应的环境变量名
func EnvVarForProvider(provider string) string {
	switch strings.ToLower(provider) {
	case "google", "gemini":
		return "GOOGLE_API_KEY"
	case "anthropic", "claude":
		return "ANTHROPIC_API_KEY"
	default:
		return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	}
}

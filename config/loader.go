// =============================================================================
// 📦 TaskFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("taskflow.yaml").
//	    WithEnvPrefix("TASKFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → credentials.toml → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/taskflow/llm/factory"
)

// Config 是 TaskFlow 的完整配置结构
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`
	Pipeline     PipelineConfig     `yaml:"pipeline" env:"PIPELINE"`
	LLM          LLMConfig          `yaml:"llm" env:"LLM"`
	Cache        CacheConfig        `yaml:"cache" env:"CACHE"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Database     DatabaseConfig     `yaml:"database" env:"DATABASE"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 同时接受的最大连接数，0 表示不限制
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`

	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`

	// 为空时不启用 API Key 认证
	APIKeys          []string  `yaml:"api_keys" env:"API_KEYS"`
	AllowQueryAPIKey bool      `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	JWT              JWTConfig `yaml:"jwt" env:"JWT"`

	// 两者都设置时 API 服务以 HTTPS 监听
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// JWTConfig JWT 认证配置。Secret 与 PublicKey 都为空时不启用。
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"SECRET"`
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了任一验签密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// OrchestratorConfig 调度与编排配置
type OrchestratorConfig struct {
	// 调度节拍
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// 单个任务的最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 终态任务保留时长，0 表示一直保留
	TaskRetention time.Duration `yaml:"task_retention" env:"TASK_RETENTION"`

	SynthesisProvider string   `yaml:"synthesis_provider" env:"SYNTHESIS_PROVIDER"`
	FanOutAgents      []string `yaml:"fanout_agents" env:"FANOUT_AGENTS"`

	PlannerProvider  string `yaml:"planner_provider" env:"PLANNER_PROVIDER"`
	ExecutorProvider string `yaml:"executor_provider" env:"EXECUTOR_PROVIDER"`
	VerifierProvider string `yaml:"verifier_provider" env:"VERIFIER_PROVIDER"`
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	// 是否注册内置流水线
	RegisterDefaults bool `yaml:"register_defaults" env:"REGISTER_DEFAULTS"`
	// YAML 流水线定义文件，可多个
	DefinitionFiles []string `yaml:"definition_files" env:"DEFINITION_FILES"`
}

// LLMConfig Provider 配置
type LLMConfig struct {
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	// 未单独配置 timeout 的 provider 使用该值
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// credentials.toml 路径，为空时不读取
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
	// 各 provider 配置只能来自 YAML；API Key 可由 credentials 或 <PROVIDER>_API_KEY 补齐
	Providers map[string]factory.ProviderConfig `yaml:"providers" env:"-"`
}

// CacheConfig 响应缓存配置
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	LocalMaxSize int           `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	// 需要 redis.enabled
	RedisTTL  time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 任务历史归档数据库配置
type DatabaseConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 时为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "TASKFLOW",
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := l.resolveAPIKeys(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// resolveAPIKeys 为未在 YAML 中给出 api_key 的 provider 补齐密钥
func (l *Loader) resolveAPIKeys(cfg *Config) error {
	var creds *Credentials
	if cfg.LLM.CredentialsFile != "" {
		c, err := LoadCredentials(cfg.LLM.CredentialsFile)
		if err != nil {
			return err
		}
		creds = c
	}

	for name, pc := range cfg.LLM.Providers {
		if pc.Timeout == 0 {
			pc.Timeout = cfg.LLM.Timeout
		}
		if pc.APIKey == "" {
			pc.APIKey = creds.APIKey(name, l.lookupEnv)
		}
		cfg.LLM.Providers[name] = pc
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键名为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 按字段类型解析字符串
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，汇总全部错误
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("invalid HTTP port"))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("invalid metrics port"))
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, errors.New("metrics port must differ from HTTP port"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
	}
	if c.Orchestrator.TickInterval <= 0 {
		errs = append(errs, errors.New("orchestrator.tick_interval must be positive"))
	}
	if c.Orchestrator.MaxRetries < 0 {
		errs = append(errs, errors.New("orchestrator.max_retries must not be negative"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
		}
	}
	if c.LLM.DefaultProvider != "" && len(c.LLM.Providers) > 0 {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default provider %q is not configured", c.LLM.DefaultProvider))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// RegistryConfig 转换为 provider 工厂的注册表配置
func (c *LLMConfig) RegistryConfig() factory.RegistryConfig {
	providers := make(map[string]factory.ProviderConfig, len(c.Providers))
	for name, pc := range c.Providers {
		providers[name] = pc
	}
	return factory.RegistryConfig{Default: c.DefaultProvider, Providers: providers}
}

// TLSEnabled 是否为 API 服务配置了证书
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Consul   ConsulConfig   `json:"consul"`
	Jaeger   JaegerConfig   `json:"jaeger"`
	Log      LogConfig      `json:"log"`
	Auth     AuthConfig     `json:"auth"`
	Sync     SyncConfig     `json:"sync"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name     string `json:"name"`      // 服务名称
	Host     string `json:"host"`      // 服务地址
	GRPCPort int    `json:"grpc_port"` // gRPC端口（health check 用）
	HTTPPort int    `json:"http_port"` // HTTP端口（业务 API）
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `json:"driver"`   // 数据库驱动
	Host     string `json:"host"`     // 数据库地址
	Port     int    `json:"port"`     // 数据库端口
	User     string `json:"user"`     // 用户名
	Password string `json:"password"` // 密码
	Database string `json:"database"` // 数据库名
	MaxIdle  int    `json:"max_idle"` // 最大空闲连接
	MaxOpen  int    `json:"max_open"` // 最大打开连接
}

// ConsulConfig Consul配置
type ConsulConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// JaegerConfig Jaeger配置
type JaegerConfig struct {
	Endpoint string  `json:"endpoint"`
	Sampler  float64 `json:"sampler"` // 采样率 0.0-1.0
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, file
	Path   string `json:"path"`   // 日志文件路径
}

// AuthConfig HTTP 接口鉴权配置（HS256 JWT）。
type AuthConfig struct {
	Enabled     bool                `json:"enabled"`
	JWTSecret   string              `json:"jwt_secret"`
	Issuer      string              `json:"issuer"`
	Audience    string              `json:"audience"`
	PublicPaths []string            `json:"public_paths"` // 前缀匹配，免鉴权
	RBAC        map[string][]string `json:"rbac"`         // path 前缀 -> 要求角色
}

// SyncConfig 同步引擎配置。
type SyncConfig struct {
	ConnectorTimeoutSeconds int     `json:"connector_timeout_seconds"` // 单次 feed 拉取超时
	RetryAttempts           int     `json:"retry_attempts"`            // 连接类错误重试次数
	RetryBackoffMillis      int     `json:"retry_backoff_millis"`      // 重试初始退避
	RollbackWindowSeconds   int     `json:"rollback_window_seconds"`   // 回滚时间窗口 ±w
	APIPageSize             int     `json:"api_page_size"`             // API 拉取分页大小
	APIPagesPerSecond       int     `json:"api_pages_per_second"`      // API 拉取限速（页/秒）
	GuardRatio              float64 `json:"guard_ratio"`               // 扫描量骤降阈值（相对近期均值）
	GuardDepth              int     `json:"guard_depth"`               // 参与均值计算的历史 run 数
	GuardMinAverage         int     `json:"guard_min_average"`         // 均值低于该值时不启用保护
	PlaceholderBaseURL      string  `json:"placeholder_base_url"`      // 无图车辆的占位图服务
	NotifyWebhookURL        string  `json:"notify_webhook_url"`        // 售出/降价事件回调地址，空则只记日志
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// LoadConfig 加载配置。文件不存在时退回默认配置；
// 文件中省略的字段同样取默认值（先填默认再覆盖）。
func LoadConfig(configPath string) (*Config, error) {
	var err error
	configOnce.Do(func() {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			logrus.Warnf("Config file not found: %s, using default config", configPath)
			globalConfig = defaultConfig()
			return
		}

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file: %w", readErr)
			return
		}

		merged := defaultConfig()
		if unmarshalErr := json.Unmarshal(data, merged); unmarshalErr != nil {
			err = fmt.Errorf("failed to parse config file: %w", unmarshalErr)
			return
		}
		globalConfig = merged
	})

	if err != nil {
		return nil, err
	}

	return globalConfig, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	if globalConfig == nil {
		return defaultConfig()
	}
	return globalConfig
}

// defaultConfig 默认配置（开发环境）
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:     "sync-service",
			Host:     "0.0.0.0",
			GRPCPort: 50051,
			HTTPPort: 8080,
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Password: "root",
			Database: "lotlinkdrive",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		Consul: ConsulConfig{
			Host: "localhost",
			Port: 8500,
		},
		Jaeger: JaegerConfig{
			Endpoint: "http://localhost:14268/api/traces",
			Sampler:  1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			Path:   "logs/app.log",
		},
		Auth: AuthConfig{
			Enabled:     false,
			PublicPaths: []string{"/healthz"},
		},
		Sync: SyncConfig{
			ConnectorTimeoutSeconds: 60,
			RetryAttempts:           3,
			RetryBackoffMillis:      500,
			RollbackWindowSeconds:   5,
			APIPageSize:             100,
			APIPagesPerSecond:       5,
			GuardRatio:              0.5,
			GuardDepth:              5,
			GuardMinAverage:         20,
			PlaceholderBaseURL:      "https://cdn.lotlinkdrive.com/placeholders",
		},
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 环境变量前缀
const EnvPrefix = "BOTHOST_"

// RegistryConfig bot 元数据存储配置
type RegistryConfig struct {
	Driver        string `yaml:"driver" json:"driver"`                 // sqlite | badger | file
	Path          string `yaml:"path" json:"path"`                     // 为空时按 driver 落在 data_dir 下
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"` // 仅 badger：32 字节 hex/base64
}

// RuntimeConfig 被托管进程的运行参数
type RuntimeConfig struct {
	Command           string        `yaml:"command" json:"command"` // 解释器，默认 node
	Args              []string      `yaml:"args" json:"args"`       // 放在入口文件之前
	Env               []string      `yaml:"env" json:"env"`         // KEY=VALUE，追加到继承的环境变量
	LogCapacity       int           `yaml:"log_capacity" json:"log_capacity"`
	CrashRestartDelay time.Duration `yaml:"crash_restart_delay" json:"crash_restart_delay"`
	StopGracePeriod   time.Duration `yaml:"stop_grace_period" json:"stop_grace_period"`
	RestartSettle     time.Duration `yaml:"restart_settle" json:"restart_settle"`
	NpmInstall        bool          `yaml:"npm_install" json:"npm_install"`
	InstallTimeout    time.Duration `yaml:"install_timeout" json:"install_timeout"`
}

// BotLogConfig 每个 bot 的日志归档（lumberjack）
type BotLogConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int `yaml:"max_backups" json:"max_backups"`
}

// Config 应用配置
type Config struct {
	Listen      string         `yaml:"listen" json:"listen"`
	DebugListen string         `yaml:"debug_listen" json:"debug_listen"` // expvar + pprof，为空不启动
	DataDir     string         `yaml:"data_dir" json:"data_dir"`
	BotsDir     string         `yaml:"bots_dir" json:"bots_dir"`
	UploadsDir  string         `yaml:"uploads_dir" json:"uploads_dir"`
	LogsDir     string         `yaml:"logs_dir" json:"logs_dir"`
	MaxUploadMB int64          `yaml:"max_upload_mb" json:"max_upload_mb"`
	LogLevel    string         `yaml:"log_level" json:"log_level"`
	LogFile     string         `yaml:"log_file" json:"log_file"`
	Registry    RegistryConfig `yaml:"registry" json:"registry"`
	Runtime     RuntimeConfig  `yaml:"runtime" json:"runtime"`
	BotLog      BotLogConfig   `yaml:"bot_log" json:"bot_log"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Listen:      ":3000",
		DataDir:     "data",
		MaxUploadMB: 50,
		LogLevel:    "info",
		Registry:    RegistryConfig{Driver: "sqlite"},
		Runtime: RuntimeConfig{
			Command:           "node",
			LogCapacity:       1000,
			CrashRestartDelay: 5 * time.Second,
			StopGracePeriod:   5 * time.Second,
			RestartSettle:     time.Second,
			NpmInstall:        true,
			InstallTimeout:    5 * time.Minute,
		},
		BotLog: BotLogConfig{MaxSizeMB: 10, MaxBackups: 3},
	}
}

// Load 加载配置（优先级：环境变量 > 配置文件 > 默认值）。path 为空时只用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		// JSON 里的 duration 只能写纳秒数
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Listen = getEnv("LISTEN", c.Listen)
	c.DebugListen = getEnv("DEBUG_LISTEN", c.DebugListen)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.BotsDir = getEnv("BOTS_DIR", c.BotsDir)
	c.UploadsDir = getEnv("UPLOADS_DIR", c.UploadsDir)
	c.LogsDir = getEnv("LOGS_DIR", c.LogsDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.Registry.Driver = getEnv("REGISTRY_DRIVER", c.Registry.Driver)
	c.Registry.Path = getEnv("REGISTRY_PATH", c.Registry.Path)
	c.Registry.EncryptionKey = getEnv("REGISTRY_KEY", c.Registry.EncryptionKey)
	c.Runtime.Command = getEnv("RUNTIME_COMMAND", c.Runtime.Command)

	var err error
	if c.MaxUploadMB, err = parseIntEnv("MAX_UPLOAD_MB", c.MaxUploadMB); err != nil {
		return err
	}
	if c.Runtime.NpmInstall, err = parseBoolEnv("NPM_INSTALL", c.Runtime.NpmInstall); err != nil {
		return err
	}
	if c.Runtime.CrashRestartDelay, err = parseDurationEnv("CRASH_RESTART_DELAY", c.Runtime.CrashRestartDelay); err != nil {
		return err
	}
	if c.Runtime.StopGracePeriod, err = parseDurationEnv("STOP_GRACE_PERIOD", c.Runtime.StopGracePeriod); err != nil {
		return err
	}
	return nil
}

// fillPaths 派生目录：未显式配置的都落在 DataDir 下
func (c *Config) fillPaths() {
	if c.BotsDir == "" {
		c.BotsDir = filepath.Join(c.DataDir, "bots")
	}
	if c.UploadsDir == "" {
		c.UploadsDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.LogsDir == "" {
		c.LogsDir = filepath.Join(c.DataDir, "logs")
	}
	if c.Registry.Path == "" {
		switch c.Registry.Driver {
		case "badger":
			c.Registry.Path = filepath.Join(c.DataDir, "registry")
		case "file":
			c.Registry.Path = filepath.Join(c.DataDir, "bots.json")
		default:
			c.Registry.Path = filepath.Join(c.DataDir, "bothost.db")
		}
	}
}

// MaxUploadBytes 上传大小上限（字节）
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen 未配置")
	}
	switch c.Registry.Driver {
	case "sqlite", "badger", "file":
	default:
		return fmt.Errorf("不支持的 registry driver: %q (支持 sqlite, badger, file)", c.Registry.Driver)
	}
	if strings.TrimSpace(c.Runtime.Command) == "" {
		return fmt.Errorf("runtime.command 不能为空")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb 必须大于 0")
	}
	if c.Runtime.LogCapacity <= 0 {
		return fmt.Errorf("runtime.log_capacity 必须大于 0")
	}
	if c.Runtime.CrashRestartDelay < 0 || c.Runtime.StopGracePeriod < 0 || c.Runtime.RestartSettle < 0 {
		return fmt.Errorf("runtime 时间参数不能为负数")
	}
	return nil
}

// getEnv 读取 BOTHOST_ 前缀的环境变量
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int64) (int64, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s%s 不是整数: %w", EnvPrefix, key, err)
	}
	return n, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s%s 不是布尔值: %w", EnvPrefix, key, err)
	}
	return b, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s 不是合法时长: %w", EnvPrefix, key, err)
	}
	return d, nil
}

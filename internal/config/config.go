// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Relay         RelayConfig         `mapstructure:"relay"`
	Chat          ChatConfig          `mapstructure:"chat"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// RelayConfig 存储聊天补全中继服务相关的配置。
// 中继的鉴权使用用户会话的 Bearer token，因此这里没有独立的 API Key。
type RelayConfig struct {
	URL            string `mapstructure:"url"`
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	SystemPrompt   string `mapstructure:"system_prompt"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ChatConfig 存储消息投递与重试相关的配置。
type ChatConfig struct {
	// MaxRetries 是单次重试调用中允许的尝试次数上限，达到后进入终态失败。
	MaxRetries int `mapstructure:"max_retries"`
	// BaseDelayMs/CapDelayMs 控制指数退避：delay = min(base * 2^attempt, cap)。
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	CapDelayMs  int `mapstructure:"cap_delay_ms"`
	// RetryFreshContext 为 true 时重试会用当前会话状态重建 prompt 上下文；
	// 为 false 时仅使用不晚于失败消息的历史。
	RetryFreshContext bool `mapstructure:"retry_fresh_context"`
	// HistoryLimit 限制发送给中继的历史消息条数。
	HistoryLimit int `mapstructure:"history_limit"`
	// ProbeIntervalSeconds 是中继连通性探测的间隔。
	ProbeIntervalSeconds int `mapstructure:"probe_interval_seconds"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 部分键提供默认值，缺省配置下也能按预期语义运行
	viper.SetDefault("chat.max_retries", 4)
	viper.SetDefault("chat.base_delay_ms", 2000)
	viper.SetDefault("chat.cap_delay_ms", 30000)
	viper.SetDefault("chat.retry_fresh_context", true)
	viper.SetDefault("chat.history_limit", 20)
	viper.SetDefault("chat.probe_interval_seconds", 30)
	viper.SetDefault("relay.timeout_seconds", 60)

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

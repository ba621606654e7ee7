// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Providers     ProvidersConfig     `yaml:"providers" mapstructure:"providers"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// ProvidersConfig 外部生成服务配置
type ProvidersConfig struct {
	LLM   LLMConfig   `yaml:"llm" mapstructure:"llm"`
	Image ImageConfig `yaml:"image" mapstructure:"image"`
	Video VideoConfig `yaml:"video" mapstructure:"video"`
	TTS   TTSConfig   `yaml:"tts" mapstructure:"tts"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig 单个 LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ImageConfig 文生图提供商配置
type ImageConfig struct {
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Model   string        `yaml:"model" mapstructure:"model"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// VideoConfig 图生视频提供商配置
type VideoConfig struct {
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	Model      string        `yaml:"model" mapstructure:"model"`
	Resolution string        `yaml:"resolution" mapstructure:"resolution"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// TTSConfig 语音合成提供商配置
type TTSConfig struct {
	APIKey   string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL  string        `yaml:"base_url" mapstructure:"base_url"`
	AppID    string        `yaml:"app_id" mapstructure:"app_id"`
	Encoding string        `yaml:"encoding" mapstructure:"encoding"` // mp3 | wav | pcm | opus
	Rate     int           `yaml:"rate" mapstructure:"rate"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`

	NarratorVoiceType       string `yaml:"narrator_voice_type" mapstructure:"narrator_voice_type"`
	DialogueVoiceType       string `yaml:"dialogue_voice_type" mapstructure:"dialogue_voice_type"`
	DialogueMaleVoiceType   string `yaml:"dialogue_male_voice_type" mapstructure:"dialogue_male_voice_type"`
	DialogueFemaleVoiceType string `yaml:"dialogue_female_voice_type" mapstructure:"dialogue_female_voice_type"`
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	UploadsDir    string `yaml:"uploads_dir" mapstructure:"uploads_dir"`
	UploadsPrefix string `yaml:"uploads_prefix" mapstructure:"uploads_prefix"`

	MaxImageBytes int64 `yaml:"max_image_bytes" mapstructure:"max_image_bytes"`
	MaxVideoBytes int64 `yaml:"max_video_bytes" mapstructure:"max_video_bytes"`
	MaxAudioBytes int64 `yaml:"max_audio_bytes" mapstructure:"max_audio_bytes"`

	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	PollCeiling     time.Duration `yaml:"poll_ceiling" mapstructure:"poll_ceiling"`
	DownloadTimeout time.Duration `yaml:"download_timeout" mapstructure:"download_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	FFmpegPath string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobe    string `yaml:"ffprobe_path" mapstructure:"ffprobe_path"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	StreamMaxLen  int64  `yaml:"stream_max_len" mapstructure:"stream_max_len"`
	ConsumerGroup string `yaml:"consumer_group" mapstructure:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name" mapstructure:"consumer_name"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

package config

import (
	"fmt"
	"os"

	"psymed-emergency/pkg/config"

	"github.com/joho/godotenv"
)

// Config 紧急警报服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 紧急警报特定配置
	Emergency struct {
		// 摇晃检测配置
		Shake struct {
			ThresholdGravity float64 // 摇晃阈值（g），默认 2.7
			SlopMS           int64   // 去抖窗口（毫秒），默认 500
			TopicPattern     string  // 加速度数据主题模板，如 "motion/%s/accel"
		}

		CooldownMinutes int    // 两次警报之间的冷却时间（分钟），默认 5
		PrefsKeyPrefix  string // 偏好设置缓存键前缀，如 "emergency:prefs:"
	}

	// 后端 REST API 配置（专业人员档案查询）
	Backend struct {
		BaseURL        string
		TimeoutSeconds int
	}

	// SendGrid 邮件通道配置
	// 注意：API Key 和发件人地址只能通过环境变量注入，禁止写入源码
	SendGrid struct {
		BaseURL        string
		APIKey         string
		FromEmail      string
		FromName       string
		ReplyToName    string
		TimeoutSeconds int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	if port := os.Getenv("DB_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Database.Port)
	}
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "psymed")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "psymed-emergency")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 摇晃检测参数（与移动端保持一致）
	cfg.Emergency.Shake.ThresholdGravity = 2.7
	cfg.Emergency.Shake.SlopMS = 500
	cfg.Emergency.Shake.TopicPattern = getEnv("MOTION_TOPIC_PATTERN", "motion/%s/accel")

	cfg.Emergency.CooldownMinutes = 5
	cfg.Emergency.PrefsKeyPrefix = getEnv("PREFS_KEY_PREFIX", "emergency:prefs:")

	cfg.Backend.BaseURL = getEnv("BACKEND_BASE_URL", "http://localhost:8080")
	cfg.Backend.TimeoutSeconds = 15

	cfg.SendGrid.BaseURL = getEnv("SENDGRID_BASE_URL", "https://api.sendgrid.com")
	cfg.SendGrid.APIKey = getEnv("SENDGRID_API_KEY", "")
	cfg.SendGrid.FromEmail = getEnv("SENDGRID_FROM_EMAIL", "")
	cfg.SendGrid.FromName = getEnv("SENDGRID_FROM_NAME", "PsyMed Emergency System")
	cfg.SendGrid.ReplyToName = getEnv("SENDGRID_REPLY_TO_NAME", "PsyMed Support")
	cfg.SendGrid.TimeoutSeconds = 15

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

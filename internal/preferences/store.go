package preferences

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/go-redis/redis/v8"
)

// 偏好设置键名（固定键，安装生命周期内持久）
const (
	keyShakeEnabled  = "shake_enabled"
	keyLastTimestamp = "last_emergency_timestamp"
)

// DefaultCooldown 两次警报之间的默认冷却时间
const DefaultCooldown = 5 * time.Minute

// Store 警报偏好存储
// 持久化两项状态：摇晃触发开关（默认开启）和上一次警报的发送时间。
// 写入由 Redis 保证原子性；只通过本类型的 setter 修改。
type Store struct {
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// NewStore 创建警报偏好存储
func NewStore(redisClient *redis.Client, keyPrefix string, logger *zap.Logger) *Store {
	return &Store{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

func (s *Store) key(name string) string {
	return s.keyPrefix + name
}

// IsShakeEnabled 摇晃触发是否开启（从未设置或读取失败时返回默认值 true）
func (s *Store) IsShakeEnabled(ctx context.Context) bool {
	val, err := s.redisClient.Get(ctx, s.key(keyShakeEnabled)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Error("Failed to read shake_enabled, using default",
				zap.Error(err),
			)
		}
		return true
	}
	return val == "1"
}

// SetShakeEnabled 持久化摇晃触发开关
func (s *Store) SetShakeEnabled(ctx context.Context, enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	return s.redisClient.Set(ctx, s.key(keyShakeEnabled), val, 0).Err()
}

// GetLastAlertTimestamp 上一次警报的发送时间（从未发送时返回 nil）
func (s *Store) GetLastAlertTimestamp(ctx context.Context) (*time.Time, error) {
	val, err := s.redisClient.Get(ctx, s.key(keyLastTimestamp)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, err
	}

	ts := time.UnixMilli(ms)
	return &ts, nil
}

// SetLastAlertTimestamp 持久化警报发送时间（覆盖旧值）
func (s *Store) SetLastAlertTimestamp(ctx context.Context, ts time.Time) error {
	return s.redisClient.Set(ctx, s.key(keyLastTimestamp),
		strconv.FormatInt(ts.UnixMilli(), 10), 0).Err()
}

// CanSendAlert 冷却检查：无历史记录或距上次发送已超过冷却时间时允许发送
// 纯读取，无副作用。读取失败时放行并记录日志（存储故障不应阻断紧急警报）
func (s *Store) CanSendAlert(ctx context.Context, cooldown time.Duration) bool {
	last, err := s.GetLastAlertTimestamp(ctx)
	if err != nil {
		s.logger.Error("Failed to read last alert timestamp, allowing send",
			zap.Error(err),
		)
		return true
	}
	if last == nil {
		return true
	}
	return time.Since(*last) >= cooldown
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"psymed-emergency/internal/config"
	"psymed-emergency/internal/coordinator"
	"psymed-emergency/internal/detector"
	"psymed-emergency/internal/dispatcher"
	"psymed-emergency/internal/models"
	"psymed-emergency/internal/preferences"
	"psymed-emergency/internal/repository"
	"psymed-emergency/internal/session"
	mqttcommon "psymed-emergency/pkg/mqtt"
	rediscommon "psymed-emergency/pkg/redis"

	"go.uber.org/zap"
	_ "github.com/lib/pq"
)

// EmergencyService 紧急警报服务（整合各层）
type EmergencyService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *rediscommon.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	// 各层组件
	sessionStore    *session.Store
	prefsStore      *preferences.Store
	shakeDetector   *detector.ShakeDetector
	motionConsumer  *detector.MotionConsumer
	professionalRep *repository.ProfessionalRepository
	alertEventsRepo *repository.AlertEventsRepository
	alertDispatcher *dispatcher.AlertDispatcher
	coordinator     *coordinator.Coordinator
}

// NewEmergencyService 创建紧急警报服务
func NewEmergencyService(cfg *config.Config, logger *zap.Logger) (*EmergencyService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试数据库连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT Broker
	// 加速度数据源不可用等价于设备没有加速度计：摇晃触发降级，服务其余功能不受影响
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		logger.Warn("MQTT broker not reachable, shake detection disabled",
			zap.String("broker", cfg.MQTT.Broker),
			zap.Error(err),
		)
		mqttClient = nil
	}

	// 4. 创建 Repository 层
	professionalRepo := repository.NewProfessionalRepository(
		cfg.Backend.BaseURL,
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second,
		logger,
	)
	alertEventsRepo := repository.NewAlertEventsRepository(db, logger)

	// 5. 创建偏好设置与会话
	prefsStore := preferences.NewStore(redisClient, cfg.Emergency.PrefsKeyPrefix, logger)
	sessionStore := session.NewStore()

	// 6. 创建检测层
	shakeDetector := detector.NewShakeDetector(
		cfg.Emergency.Shake.ThresholdGravity,
		cfg.Emergency.Shake.SlopMS,
		logger,
	)
	motionConsumer := detector.NewMotionConsumer(cfg, mqttClient, shakeDetector, logger)

	// 7. 创建派发层
	sendGrid := dispatcher.NewSendGridClient(
		cfg.SendGrid.BaseURL,
		cfg.SendGrid.APIKey,
		time.Duration(cfg.SendGrid.TimeoutSeconds)*time.Second,
		logger,
	)
	alertDispatcher := dispatcher.NewAlertDispatcher(
		professionalRepo,
		sendGrid,
		cfg.SendGrid.FromEmail,
		cfg.SendGrid.FromName,
		cfg.SendGrid.ReplyToName,
		logger,
	)

	// 8. 创建协调器
	coord := coordinator.NewCoordinator(
		sessionStore,
		prefsStore,
		alertDispatcher,
		motionConsumer,
		alertEventsRepo,
		time.Duration(cfg.Emergency.CooldownMinutes)*time.Minute,
		shakeDetector.Shakes(),
		logger,
	)

	svc := &EmergencyService{
		config:          cfg,
		db:              db,
		redisClient:     redisClient,
		mqttClient:      mqttClient,
		logger:          logger,
		sessionStore:    sessionStore,
		prefsStore:      prefsStore,
		shakeDetector:   shakeDetector,
		motionConsumer:  motionConsumer,
		professionalRep: professionalRepo,
		alertEventsRepo: alertEventsRepo,
		alertDispatcher: alertDispatcher,
		coordinator:     coord,
	}

	// 会话变化时重新评估摇晃检测的启停条件（登录、登出、角色切换）
	sessionStore.OnChange(func(_ models.EmergencyContext) {
		coord.RefreshDetection(context.Background())
	})

	return svc, nil
}

// Start 启动服务
func (s *EmergencyService) Start(ctx context.Context) error {
	s.logger.Info("Starting emergency service")

	// 从存储恢复摇晃触发开关，并按当前会话评估检测启停
	s.coordinator.LoadShakeEnabledStatus(ctx)
	s.coordinator.RefreshDetection(ctx)

	// 消费摇晃事件直到上下文取消
	return s.coordinator.Run(ctx)
}

// Stop 停止服务
func (s *EmergencyService) Stop() error {
	s.logger.Info("Stopping emergency service")

	s.motionConsumer.StopListening()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// Session 会话状态容器（认证协作方通过它推送会话变化）
func (s *EmergencyService) Session() *session.Store {
	return s.sessionStore
}

// Coordinator 紧急警报协调器（展示层通过它确认、取消和订阅视图状态）
func (s *EmergencyService) Coordinator() *coordinator.Coordinator {
	return s.coordinator
}

package detector

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"psymed-emergency/internal/config"
	"psymed-emergency/internal/models"
	mqttcommon "psymed-emergency/pkg/mqtt"

	"go.uber.org/zap"
)

// MotionConsumer 加速度数据消费者
// 订阅 MQTT 主题 motion/{patient_id}/accel，解析采样后交给 ShakeDetector。
// 摇晃检测是便利功能：数据源不可用时只记录日志，不作为错误上报。
type MotionConsumer struct {
	config     *config.Config
	mqttClient *mqttcommon.Client // nil 表示 Broker 不可用（等价于设备无加速度计）
	detector   *ShakeDetector
	logger     *zap.Logger

	mu        sync.Mutex
	listening bool
	topic     string
}

// NewMotionConsumer 创建加速度数据消费者
func NewMotionConsumer(
	cfg *config.Config,
	mqttClient *mqttcommon.Client,
	det *ShakeDetector,
	logger *zap.Logger,
) *MotionConsumer {
	return &MotionConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		detector:   det,
		logger:     logger,
	}
}

// StartListening 开始订阅指定患者的加速度数据（幂等）
// 数据源不可用时记录日志并返回，不向上抛错
func (c *MotionConsumer) StartListening(patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listening {
		return
	}

	if c.mqttClient == nil {
		c.logger.Warn("Accelerometer feed not available, shake detection disabled")
		return
	}

	topic := fmt.Sprintf(c.config.Emergency.Shake.TopicPattern, patientID)
	if err := c.mqttClient.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		c.logger.Error("Failed to subscribe to motion topic",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	c.topic = topic
	c.listening = true
	c.logger.Info("Motion consumer listening",
		zap.String("topic", topic),
	)
}

// StopListening 停止订阅（幂等）
func (c *MotionConsumer) StopListening() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.listening {
		return
	}

	if err := c.mqttClient.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe from motion topic",
			zap.String("topic", c.topic),
			zap.Error(err),
		)
	}

	c.listening = false
	c.logger.Info("Motion consumer stopped",
		zap.String("topic", c.topic),
	)
}

// IsListening 是否正在订阅
func (c *MotionConsumer) IsListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// handleMessage 处理一条加速度采样消息
func (c *MotionConsumer) handleMessage(topic string, payload []byte) error {
	var sample models.AccelSample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return fmt.Errorf("failed to unmarshal accel sample: %w", err)
	}

	// 设备端未带时间戳时以接收时刻补齐
	if sample.TimestampMS == 0 {
		sample.TimestampMS = time.Now().UnixMilli()
	}

	c.detector.HandleSample(sample)
	return nil
}

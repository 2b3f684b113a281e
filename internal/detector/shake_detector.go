package detector

import (
	"math"

	"psymed-emergency/internal/models"

	"go.uber.org/zap"
)

// StandardGravity 标准重力加速度（m/s²）
const StandardGravity = 9.80665

// ShakeDetector 摇晃检测器
// 对加速度采样计算合成重力值，超过阈值且脱离去抖窗口时产生一次摇晃事件。
// 去抖窗口从上一次产生的事件起算，窗口内超阈值的采样被静默丢弃。
// 采样到达顺序与 MQTT 回调一致（串行），阈值路径本身不加锁。
type ShakeDetector struct {
	thresholdGravity float64
	slopMS           int64
	logger           *zap.Logger

	raised      bool  // 是否已产生过事件
	lastShakeMS int64 // 上一次产生事件的时间戳（毫秒）

	shakes chan models.ShakeEvent
}

// NewShakeDetector 创建摇晃检测器
func NewShakeDetector(thresholdGravity float64, slopMS int64, logger *zap.Logger) *ShakeDetector {
	return &ShakeDetector{
		thresholdGravity: thresholdGravity,
		slopMS:           slopMS,
		logger:           logger,
		shakes:           make(chan models.ShakeEvent, 8),
	}
}

// Shakes 摇晃事件输出通道（Coordinator 订阅）
func (d *ShakeDetector) Shakes() <-chan models.ShakeEvent {
	return d.shakes
}

// HandleSample 处理一次加速度采样
func (d *ShakeDetector) HandleSample(sample models.AccelSample) {
	gx := sample.X / StandardGravity
	gy := sample.Y / StandardGravity
	gz := sample.Z / StandardGravity

	gForce := math.Sqrt(gx*gx + gy*gy + gz*gz)
	if gForce <= d.thresholdGravity {
		return
	}

	// 去抖：距上一次事件不足 slop 窗口的超阈值采样直接丢弃
	if d.raised && sample.TimestampMS-d.lastShakeMS < d.slopMS {
		return
	}
	d.raised = true
	d.lastShakeMS = sample.TimestampMS

	event := models.ShakeEvent{
		GForce:       gForce,
		OccurredAtMS: sample.TimestampMS,
	}

	d.logger.Info("Shake detected",
		zap.Float64("g_force", gForce),
		zap.Int64("occurred_at", sample.TimestampMS),
	)

	// 非阻塞发送：传感器回调不能被下游阻塞
	select {
	case d.shakes <- event:
	default:
		d.logger.Debug("Shake event dropped, consumer not ready")
	}
}

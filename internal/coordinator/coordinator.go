package coordinator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"psymed-emergency/internal/models"
	"psymed-emergency/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher 警报派发接口
type Dispatcher interface {
	SendEmergencyAlert(ctx context.Context, patientID, professionalID int, patientName string) models.AlertOutcome
}

// Preferences 警报偏好接口
type Preferences interface {
	IsShakeEnabled(ctx context.Context) bool
	SetShakeEnabled(ctx context.Context, enabled bool) error
	SetLastAlertTimestamp(ctx context.Context, ts time.Time) error
	CanSendAlert(ctx context.Context, cooldown time.Duration) bool
}

// Detection 摇晃检测生命周期接口
type Detection interface {
	StartListening(patientID string)
	StopListening()
}

// AlertRecorder 警报派发记录接口
type AlertRecorder interface {
	CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

// 用户可见消息
const (
	cooldownMessage       = "Please wait a few minutes before sending another emergency alert."
	genericFailureMessage = "Failed to send emergency alert"
)

// promptState 提示框状态机
// 提示框可见性由 Coordinator 统一持有：连续摇晃的去重和冷却检查在同一处裁决
type promptState int

const (
	stateIdle promptState = iota
	statePromptOpen
	stateSending
)

// Coordinator 紧急警报协调器
// 把摇晃事件对照会话状态和偏好设置做门禁评估，驱动冷却检查与派发流程，
// 并维护对外暴露的可观察视图状态。每个活跃会话对应一个实例。
type Coordinator struct {
	session     session.Reader
	prefs       Preferences
	dispatcher  Dispatcher
	detection   Detection
	alertEvents AlertRecorder
	cooldown    time.Duration
	shakes      <-chan models.ShakeEvent
	logger      *zap.Logger

	mu          sync.Mutex
	state       promptState
	uiState     models.EmergencyUiState
	subscribers []chan models.EmergencyUiState
	prompts     chan models.ShakeEvent
}

// NewCoordinator 创建协调器
func NewCoordinator(
	sess session.Reader,
	prefs Preferences,
	disp Dispatcher,
	detection Detection,
	alertEvents AlertRecorder,
	cooldown time.Duration,
	shakes <-chan models.ShakeEvent,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		session:     sess,
		prefs:       prefs,
		dispatcher:  disp,
		detection:   detection,
		alertEvents: alertEvents,
		cooldown:    cooldown,
		shakes:      shakes,
		logger:      logger,
		uiState:     models.EmergencyUiState{ShakeEnabled: true},
		prompts:     make(chan models.ShakeEvent, 1),
	}
}

// Run 消费摇晃事件直到上下文取消（事件按产生顺序处理）
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("Emergency coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Emergency coordinator stopped")
			return nil
		case evt := <-c.shakes:
			c.HandleShake(ctx, evt)
		}
	}
}

// HandleShake 评估一次摇晃事件
// 门禁顺序：提示框未打开 → 患者角色 → 摇晃触发开启 → 患者档案可用。
// 任一门禁不通过则直接回到空闲，不弹提示
func (c *Coordinator) HandleShake(ctx context.Context, evt models.ShakeEvent) {
	c.mu.Lock()

	if c.state != stateIdle {
		c.mu.Unlock()
		c.logger.Debug("Prompt already open, ignoring shake")
		return
	}

	snap := c.session.Snapshot()
	if !snap.IsPatient() {
		c.mu.Unlock()
		c.logger.Debug("Session is not an authenticated patient, ignoring shake",
			zap.String("role", string(snap.Role)),
		)
		return
	}

	// 每次评估都重新读取持久化的开关，保证视图状态与存储一致
	enabled := c.prefs.IsShakeEnabled(ctx)
	changed := c.uiState.ShakeEnabled != enabled
	c.uiState.ShakeEnabled = enabled
	uiSnap := c.uiState

	if !enabled {
		c.mu.Unlock()
		if changed {
			c.notify(uiSnap)
		}
		c.logger.Debug("Shake alerts disabled, ignoring shake")
		return
	}

	if snap.PatientProfile == nil {
		c.mu.Unlock()
		if changed {
			c.notify(uiSnap)
		}
		c.logger.Debug("Patient profile not available, ignoring shake")
		return
	}

	c.state = statePromptOpen
	c.mu.Unlock()
	if changed {
		c.notify(uiSnap)
	}

	// 通知展示层弹出确认提示（无人消费时丢弃，提示框状态仍然打开）
	select {
	case c.prompts <- evt:
	default:
	}

	c.logger.Info("Emergency prompt opened",
		zap.Float64("g_force", evt.GForce),
		zap.Int("patient_id", snap.PatientProfile.ID),
	)
}

// SendEmergencyAlert 用户确认后执行派发，返回是否成功
// 冷却未结束时直接失败且不触网；同一实例同时只允许一次在途派发
func (c *Coordinator) SendEmergencyAlert(ctx context.Context, patientID, professionalID int, patientName string) bool {
	c.mu.Lock()

	if c.state == stateSending {
		c.mu.Unlock()
		c.logger.Warn("Alert dispatch already in flight, ignoring request")
		return false
	}

	if !c.prefs.CanSendAlert(ctx, c.cooldown) {
		c.uiState.ErrorMessage = cooldownMessage
		uiSnap := c.uiState
		c.mu.Unlock()
		c.notify(uiSnap)
		c.logger.Info("Alert blocked by cooldown",
			zap.Int("patient_id", patientID),
		)
		return false
	}

	prevState := c.state
	c.state = stateSending
	c.uiState.IsSending = true
	c.uiState.ErrorMessage = ""
	uiSnap := c.uiState
	c.mu.Unlock()
	c.notify(uiSnap)

	triggeredAt := time.Now()
	outcome := c.dispatch(ctx, patientID, professionalID, patientName)
	c.recordAlertEvent(ctx, patientID, professionalID, patientName, triggeredAt, outcome)

	if outcome.Success {
		if err := c.prefs.SetLastAlertTimestamp(ctx, time.Now()); err != nil {
			c.logger.Error("Failed to persist last alert timestamp",
				zap.Error(err),
			)
		}

		c.mu.Lock()
		c.state = stateIdle // 发送成功，提示框关闭
		c.uiState.IsSending = false
		uiSnap = c.uiState
		c.mu.Unlock()
		c.notify(uiSnap)

		c.logger.Info("Emergency alert dispatched",
			zap.Int("patient_id", patientID),
			zap.Int("professional_id", professionalID),
		)
		return true
	}

	c.mu.Lock()
	c.state = prevState // 发送失败，提示框保持打开以便重试或取消
	c.uiState.IsSending = false
	c.uiState.ErrorMessage = outcome.Message
	uiSnap = c.uiState
	c.mu.Unlock()
	c.notify(uiSnap)

	return false
}

// dispatch 执行派发，派发路径上的任何 panic 都转换为失败结果，不向展示层传播
func (c *Coordinator) dispatch(ctx context.Context, patientID, professionalID int, patientName string) (outcome models.AlertOutcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in alert dispatch path",
				zap.Any("panic", r),
			)
			outcome = models.ErrorOutcome(genericFailureMessage)
		}
	}()

	return c.dispatcher.SendEmergencyAlert(ctx, patientID, professionalID, patientName)
}

// recordAlertEvent 把一次派发尝试写入审计记录（写入失败只记日志，不影响派发结果）
func (c *Coordinator) recordAlertEvent(ctx context.Context, patientID, professionalID int, patientName string, triggeredAt time.Time, outcome models.AlertOutcome) {
	if c.alertEvents == nil {
		return
	}

	status := models.AlertOutcomeFailed
	if outcome.Success {
		status = models.AlertOutcomeSent
	}

	event := &models.AlertEvent{
		EventID:        uuid.New().String(),
		PatientID:      patientID,
		ProfessionalID: professionalID,
		PatientName:    patientName,
		Outcome:        status,
		Message:        outcome.Message,
		TriggeredAt:    triggeredAt,
		CreatedAt:      time.Now(),
	}

	if err := c.alertEvents.CreateAlertEvent(ctx, event); err != nil {
		c.logger.Error("Failed to record alert event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}

// LoadShakeEnabledStatus 从存储读取摇晃触发开关并同步到视图状态
func (c *Coordinator) LoadShakeEnabledStatus(ctx context.Context) {
	enabled := c.prefs.IsShakeEnabled(ctx)

	c.mu.Lock()
	c.uiState.ShakeEnabled = enabled
	uiSnap := c.uiState
	c.mu.Unlock()
	c.notify(uiSnap)
}

// ToggleShakeEnabled 翻转摇晃触发开关（同步持久化；对下一次评估的摇晃生效）
func (c *Coordinator) ToggleShakeEnabled(ctx context.Context) error {
	c.mu.Lock()
	newValue := !c.uiState.ShakeEnabled
	c.mu.Unlock()

	if err := c.prefs.SetShakeEnabled(ctx, newValue); err != nil {
		c.logger.Error("Failed to persist shake_enabled",
			zap.Bool("enabled", newValue),
			zap.Error(err),
		)
		return err
	}

	c.mu.Lock()
	c.uiState.ShakeEnabled = newValue
	uiSnap := c.uiState
	c.mu.Unlock()
	c.notify(uiSnap)

	c.RefreshDetection(ctx)
	return nil
}

// ClearError 清除视图状态中的错误信息
func (c *Coordinator) ClearError() {
	c.mu.Lock()
	c.uiState.ErrorMessage = ""
	uiSnap := c.uiState
	c.mu.Unlock()
	c.notify(uiSnap)
}

// DismissPrompt 用户取消提示框（派发中不可取消，在途调用运行到完成）
func (c *Coordinator) DismissPrompt() {
	c.mu.Lock()
	if c.state == statePromptOpen {
		c.state = stateIdle
	}
	c.mu.Unlock()
}

// RefreshDetection 重新评估摇晃检测的启停条件
// 条件：已认证 ∧ 患者角色 ∧ 摇晃触发开启 ∧ 患者档案可用。
// 认证、角色或开关变化时都应调用
func (c *Coordinator) RefreshDetection(ctx context.Context) {
	snap := c.session.Snapshot()
	enabled := c.prefs.IsShakeEnabled(ctx)

	c.mu.Lock()
	changed := c.uiState.ShakeEnabled != enabled
	c.uiState.ShakeEnabled = enabled
	uiSnap := c.uiState
	c.mu.Unlock()
	if changed {
		c.notify(uiSnap)
	}

	if snap.IsPatient() && enabled && snap.PatientProfile != nil {
		c.detection.StartListening(strconv.Itoa(snap.PatientProfile.ID))
	} else {
		c.detection.StopListening()
	}
}

// UIState 当前视图状态快照
func (c *Coordinator) UIState() models.EmergencyUiState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uiState
}

// SubscribeUIState 订阅视图状态变化（每次更新推送一个快照）
func (c *Coordinator) SubscribeUIState() <-chan models.EmergencyUiState {
	ch := make(chan models.EmergencyUiState, 16)

	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()

	return ch
}

// Prompts 提示框打开事件（展示层订阅后弹出确认对话框）
func (c *Coordinator) Prompts() <-chan models.ShakeEvent {
	return c.prompts
}

// notify 向所有订阅者推送视图状态快照（非阻塞，消费不及时的订阅者丢失中间快照）
func (c *Coordinator) notify(uiSnap models.EmergencyUiState) {
	c.mu.Lock()
	subscribers := make([]chan models.EmergencyUiState, len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- uiSnap:
		default:
		}
	}
}

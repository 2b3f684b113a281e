package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"psymed-emergency/internal/models"
	"psymed-emergency/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDispatcher 可阻塞的派发桩
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   int
	outcome models.AlertOutcome
	block   chan struct{} // 非 nil 时派发阻塞直到通道关闭
	panics  bool
}

func (f *fakeDispatcher) SendEmergencyAlert(ctx context.Context, patientID, professionalID int, patientName string) models.AlertOutcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.panics {
		panic("dispatch exploded")
	}
	if f.block != nil {
		<-f.block
	}
	return f.outcome
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePrefs 内存偏好桩
type fakePrefs struct {
	mu            sync.Mutex
	shakeEnabled  bool
	lastAlert     *time.Time
	setEnabledErr error
}

func (f *fakePrefs) IsShakeEnabled(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shakeEnabled
}

func (f *fakePrefs) SetShakeEnabled(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setEnabledErr != nil {
		return f.setEnabledErr
	}
	f.shakeEnabled = enabled
	return nil
}

func (f *fakePrefs) SetLastAlertTimestamp(ctx context.Context, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAlert = &ts
	return nil
}

func (f *fakePrefs) CanSendAlert(ctx context.Context, cooldown time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastAlert == nil {
		return true
	}
	return time.Since(*f.lastAlert) >= cooldown
}

func (f *fakePrefs) lastAlertAt() *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAlert
}

// fakeDetection 检测生命周期桩
type fakeDetection struct {
	mu        sync.Mutex
	listening bool
	patientID string
}

func (f *fakeDetection) StartListening(patientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening = true
	f.patientID = patientID
}

func (f *fakeDetection) StopListening() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening = false
}

func (f *fakeDetection) isListening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

// fakeRecorder 审计记录桩
type fakeRecorder struct {
	mu     sync.Mutex
	events []*models.AlertEvent
}

func (f *fakeRecorder) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRecorder) recorded() []*models.AlertEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func patientContext() models.EmergencyContext {
	return models.EmergencyContext{
		IsAuthenticated: true,
		Role:            models.RolePatient,
		PatientProfile: &models.PatientProfile{
			ID:             42,
			ProfessionalID: 7,
			FullName:       "Jane Doe",
		},
	}
}

type testEnv struct {
	coordinator *Coordinator
	session     *session.Store
	prefs       *fakePrefs
	dispatcher  *fakeDispatcher
	detection   *fakeDetection
	recorder    *fakeRecorder
	shakes      chan models.ShakeEvent
}

func setupCoordinator(t *testing.T) *testEnv {
	env := &testEnv{
		session:    session.NewStore(),
		prefs:      &fakePrefs{shakeEnabled: true},
		dispatcher: &fakeDispatcher{outcome: models.SuccessOutcome("ok")},
		detection:  &fakeDetection{},
		recorder:   &fakeRecorder{},
		shakes:     make(chan models.ShakeEvent, 8),
	}

	env.coordinator = NewCoordinator(
		env.session,
		env.prefs,
		env.dispatcher,
		env.detection,
		env.recorder,
		5*time.Minute,
		env.shakes,
		zap.NewNop(),
	)

	return env
}

func shake() models.ShakeEvent {
	return models.ShakeEvent{GForce: 3.0, OccurredAtMS: time.Now().UnixMilli()}
}

func promptOpened(t *testing.T, c *Coordinator) bool {
	select {
	case <-c.Prompts():
		return true
	default:
		return false
	}
}

// ============================================
// 摇晃门禁
// ============================================

func TestHandleShake_PatientOpensPrompt(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())

	env.coordinator.HandleShake(context.Background(), shake())

	assert.True(t, promptOpened(t, env.coordinator))
}

func TestHandleShake_DuplicatePromptSuppressed(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	ctx := context.Background()

	env.coordinator.HandleShake(ctx, shake())
	require.True(t, promptOpened(t, env.coordinator))

	// 提示框已打开，后续摇晃被丢弃而不是排队
	env.coordinator.HandleShake(ctx, shake())
	env.coordinator.HandleShake(ctx, shake())
	assert.False(t, promptOpened(t, env.coordinator))
}

func TestHandleShake_ProfessionalIgnored(t *testing.T) {
	env := setupCoordinator(t)
	// 专业人员会话：即使开关开启且档案存在也不弹提示
	env.session.Set(models.EmergencyContext{
		IsAuthenticated: true,
		Role:            models.RoleProfessional,
		PatientProfile:  &models.PatientProfile{ID: 42, ProfessionalID: 7},
	})

	env.coordinator.HandleShake(context.Background(), shake())

	assert.False(t, promptOpened(t, env.coordinator))
}

func TestHandleShake_UnauthenticatedIgnored(t *testing.T) {
	env := setupCoordinator(t)

	env.coordinator.HandleShake(context.Background(), shake())

	assert.False(t, promptOpened(t, env.coordinator))
}

func TestHandleShake_DisabledIgnored(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	env.prefs.shakeEnabled = false

	env.coordinator.HandleShake(context.Background(), shake())

	assert.False(t, promptOpened(t, env.coordinator))
	// 视图状态与持久化开关保持一致
	assert.False(t, env.coordinator.UIState().ShakeEnabled)
}

func TestHandleShake_MissingProfileIgnored(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(models.EmergencyContext{
		IsAuthenticated: true,
		Role:            models.RolePatient,
	})

	env.coordinator.HandleShake(context.Background(), shake())

	assert.False(t, promptOpened(t, env.coordinator))
}

// ============================================
// 派发流程
// ============================================

func TestSendEmergencyAlert_Success(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	ctx := context.Background()

	env.coordinator.HandleShake(ctx, shake())
	require.True(t, promptOpened(t, env.coordinator))

	ok := env.coordinator.SendEmergencyAlert(ctx, 42, 7, "Jane Doe")

	assert.True(t, ok)
	assert.Equal(t, 1, env.dispatcher.callCount())

	state := env.coordinator.UIState()
	assert.False(t, state.IsSending)
	assert.Empty(t, state.ErrorMessage)

	// 成功后记录发送时间
	require.NotNil(t, env.prefs.lastAlertAt())

	// 审计记录
	events := env.recorder.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.AlertOutcomeSent, events[0].Outcome)
	assert.Equal(t, 42, events[0].PatientID)

	// 提示框已关闭：下一次摇晃重新弹出
	env.coordinator.HandleShake(ctx, shake())
	assert.True(t, promptOpened(t, env.coordinator))
}

func TestSendEmergencyAlert_ErrorKeepsPromptOpen(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	env.dispatcher.outcome = models.ErrorOutcome("SendGrid authentication failed: bad key")
	ctx := context.Background()

	env.coordinator.HandleShake(ctx, shake())
	require.True(t, promptOpened(t, env.coordinator))

	ok := env.coordinator.SendEmergencyAlert(ctx, 42, 7, "Jane Doe")

	assert.False(t, ok)

	state := env.coordinator.UIState()
	assert.False(t, state.IsSending)
	assert.Contains(t, state.ErrorMessage, "bad key")

	// 失败不得推进发送时间
	assert.Nil(t, env.prefs.lastAlertAt())

	events := env.recorder.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.AlertOutcomeFailed, events[0].Outcome)

	// 提示框保持打开：后续摇晃仍被丢弃
	env.coordinator.HandleShake(ctx, shake())
	assert.False(t, promptOpened(t, env.coordinator))
}

func TestSendEmergencyAlert_CooldownBlocks(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())

	// 4 分钟前发送过，5 分钟冷却未结束
	last := time.Now().Add(-4 * time.Minute)
	env.prefs.lastAlert = &last

	ok := env.coordinator.SendEmergencyAlert(context.Background(), 42, 7, "Jane Doe")

	assert.False(t, ok)
	// 冷却期间不触网
	assert.Equal(t, 0, env.dispatcher.callCount())
	assert.Equal(t, cooldownMessage, env.coordinator.UIState().ErrorMessage)
}

func TestSendEmergencyAlert_AtMostOneInFlight(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	env.dispatcher.block = make(chan struct{})
	ctx := context.Background()

	results := make(chan bool, 1)
	go func() {
		results <- env.coordinator.SendEmergencyAlert(ctx, 42, 7, "Jane Doe")
	}()

	// 等待第一次派发进入在途状态
	require.Eventually(t, func() bool {
		return env.coordinator.UIState().IsSending
	}, time.Second, 5*time.Millisecond)

	// 在途期间的第二次请求被拒绝
	ok := env.coordinator.SendEmergencyAlert(ctx, 42, 7, "Jane Doe")
	assert.False(t, ok)
	assert.Equal(t, 1, env.dispatcher.callCount())

	close(env.dispatcher.block)
	assert.True(t, <-results)
	assert.False(t, env.coordinator.UIState().IsSending)
}

func TestSendEmergencyAlert_PanicConvertedToError(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	env.dispatcher.panics = true

	ok := env.coordinator.SendEmergencyAlert(context.Background(), 42, 7, "Jane Doe")

	assert.False(t, ok)
	state := env.coordinator.UIState()
	assert.False(t, state.IsSending)
	assert.Equal(t, genericFailureMessage, state.ErrorMessage)
}

// ============================================
// 开关与生命周期
// ============================================

func TestToggleShakeEnabled_RoundTrip(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	ctx := context.Background()

	require.NoError(t, env.coordinator.ToggleShakeEnabled(ctx))
	assert.False(t, env.prefs.IsShakeEnabled(ctx))
	assert.False(t, env.coordinator.UIState().ShakeEnabled)
	// 开关关闭后停止监听
	assert.False(t, env.detection.isListening())

	require.NoError(t, env.coordinator.ToggleShakeEnabled(ctx))
	assert.True(t, env.prefs.IsShakeEnabled(ctx))
	assert.True(t, env.coordinator.UIState().ShakeEnabled)
	assert.True(t, env.detection.isListening())
}

func TestToggleShakeEnabled_PersistFailureKeepsState(t *testing.T) {
	env := setupCoordinator(t)
	env.prefs.setEnabledErr = assert.AnError

	err := env.coordinator.ToggleShakeEnabled(context.Background())

	assert.Error(t, err)
	// 持久化失败时视图状态不变，避免与存储漂移
	assert.True(t, env.coordinator.UIState().ShakeEnabled)
}

func TestRefreshDetection_StartsForPatient(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())

	env.coordinator.RefreshDetection(context.Background())

	assert.True(t, env.detection.isListening())
	assert.Equal(t, "42", env.detection.patientID)
}

func TestRefreshDetection_StopsWhenLoggedOut(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	ctx := context.Background()

	env.coordinator.RefreshDetection(ctx)
	require.True(t, env.detection.isListening())

	env.session.Clear()
	env.coordinator.RefreshDetection(ctx)
	assert.False(t, env.detection.isListening())
}

func TestLoadShakeEnabledStatus(t *testing.T) {
	env := setupCoordinator(t)
	env.prefs.shakeEnabled = false

	env.coordinator.LoadShakeEnabledStatus(context.Background())

	assert.False(t, env.coordinator.UIState().ShakeEnabled)
}

func TestClearError(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	env.dispatcher.outcome = models.ErrorOutcome("boom")

	env.coordinator.SendEmergencyAlert(context.Background(), 42, 7, "Jane Doe")
	require.NotEmpty(t, env.coordinator.UIState().ErrorMessage)

	env.coordinator.ClearError()
	assert.Empty(t, env.coordinator.UIState().ErrorMessage)
}

func TestDismissPrompt(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())
	ctx := context.Background()

	env.coordinator.HandleShake(ctx, shake())
	require.True(t, promptOpened(t, env.coordinator))

	// 取消后不触网，且下一次摇晃可以重新弹出
	env.coordinator.DismissPrompt()
	assert.Equal(t, 0, env.dispatcher.callCount())

	env.coordinator.HandleShake(ctx, shake())
	assert.True(t, promptOpened(t, env.coordinator))
}

func TestRun_ConsumesShakeEvents(t *testing.T) {
	env := setupCoordinator(t)
	env.session.Set(patientContext())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.coordinator.Run(ctx)
		close(done)
	}()

	env.shakes <- shake()

	require.Eventually(t, func() bool {
		return promptOpened(t, env.coordinator)
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

package models

import (
	"time"
)

// AlertOutcome 一次警报派发的结果（瞬态，同步返回给调用方）
type AlertOutcome struct {
	Success bool
	Message string
}

// SuccessOutcome 构建成功结果
func SuccessOutcome(message string) AlertOutcome {
	return AlertOutcome{Success: true, Message: message}
}

// ErrorOutcome 构建失败结果
func ErrorOutcome(message string) AlertOutcome {
	return AlertOutcome{Success: false, Message: message}
}

// 警报派发结果状态（对应 emergency_alert_events.outcome）
const (
	AlertOutcomeSent   = "sent"
	AlertOutcomeFailed = "failed"
)

// AlertEvent 警报派发记录（对应 emergency_alert_events 表）
type AlertEvent struct {
	EventID        string    `json:"event_id" db:"event_id"`
	PatientID      int       `json:"patient_id" db:"patient_id"`
	ProfessionalID int       `json:"professional_id" db:"professional_id"`
	PatientName    string    `json:"patient_name" db:"patient_name"`
	Outcome        string    `json:"outcome" db:"outcome"` // sent, failed
	Message        string    `json:"message" db:"message"`
	TriggeredAt    time.Time `json:"triggered_at" db:"triggered_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// EmergencyUiState 对外暴露的可观察视图状态
type EmergencyUiState struct {
	IsSending    bool   `json:"is_sending"`
	ErrorMessage string `json:"error_message"` // 空字符串表示无错误
	ShakeEnabled bool   `json:"shake_enabled"`
}

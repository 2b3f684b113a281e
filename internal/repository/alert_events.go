package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"psymed-emergency/internal/models"

	"go.uber.org/zap"
)

// AlertEventsRepository 警报派发记录仓库
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建警报派发记录仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlertEvent 写入一条警报派发记录
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		INSERT INTO emergency_alert_events (
			event_id,
			patient_id,
			professional_id,
			patient_name,
			outcome,
			message,
			triggered_at,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.PatientID,
		event.ProfessionalID,
		event.PatientName,
		event.Outcome,
		event.Message,
		event.TriggeredAt,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	return nil
}

// GetRecentAlertEvent 查询指定患者最近一次成功派发的记录（不存在时返回 nil）
func (r *AlertEventsRepository) GetRecentAlertEvent(ctx context.Context, patientID int, within time.Duration) (*models.AlertEvent, error) {
	query := `
		SELECT
			event_id,
			patient_id,
			professional_id,
			patient_name,
			outcome,
			message,
			triggered_at,
			created_at
		FROM emergency_alert_events
		WHERE patient_id = $1
		  AND outcome = 'sent'
		  AND triggered_at >= $2
		ORDER BY triggered_at DESC
		LIMIT 1
	`

	since := time.Now().Add(-within)

	var event models.AlertEvent
	err := r.db.QueryRowContext(ctx, query, patientID, since).Scan(
		&event.EventID,
		&event.PatientID,
		&event.ProfessionalID,
		&event.PatientName,
		&event.Outcome,
		&event.Message,
		&event.TriggeredAt,
		&event.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recent alert event: %w", err)
	}

	return &event, nil
}

// ListAlertEvents 查询指定患者的派发记录（按触发时间倒序）
func (r *AlertEventsRepository) ListAlertEvents(ctx context.Context, patientID int, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			event_id,
			patient_id,
			professional_id,
			patient_name,
			outcome,
			message,
			triggered_at,
			created_at
		FROM emergency_alert_events
		WHERE patient_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		var event models.AlertEvent
		if err := rows.Scan(
			&event.EventID,
			&event.PatientID,
			&event.ProfessionalID,
			&event.PatientName,
			&event.Outcome,
			&event.Message,
			&event.TriggeredAt,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}

	return events, nil
}

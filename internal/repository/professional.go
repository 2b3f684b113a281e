package repository

import (
	"context"
	"fmt"
	"time"

	"psymed-emergency/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ProfessionalRepository 专业人员档案仓库（后端 REST API）
// 只做邮箱/姓名解析，单次请求不重试（重试由用户在提示框中手动发起）
type ProfessionalRepository struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewProfessionalRepository 创建专业人员档案仓库
func NewProfessionalRepository(baseURL string, timeout time.Duration, logger *zap.Logger) *ProfessionalRepository {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &ProfessionalRepository{
		httpClient: client,
		logger:     logger,
	}
}

// GetProfessionalProfile 根据 ID 查询专业人员档案
func (r *ProfessionalRepository) GetProfessionalProfile(ctx context.Context, professionalID int) (*models.ProfessionalProfile, error) {
	var profile models.ProfessionalProfile

	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetResult(&profile).
		Get(fmt.Sprintf("/api/v1/professional-profiles/%d", professionalID))

	if err != nil {
		r.logger.Error("Failed to call professional-profiles endpoint",
			zap.Int("professional_id", professionalID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get professional profile: %w", err)
	}

	if resp.IsError() {
		r.logger.Error("Professional-profiles endpoint returned error",
			zap.Int("professional_id", professionalID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, fmt.Errorf("professional profile not found (status: %d)", resp.StatusCode())
	}

	return &profile, nil
}

package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// EmailAddress 邮件地址
type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Personalization 收件人及主题
type Personalization struct {
	To      []EmailAddress `json:"to"`
	Subject string         `json:"subject"`
}

// Content 邮件内容（text/plain 或 text/html）
type Content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// MailRequest SendGrid v3 Mail Send 请求体
type MailRequest struct {
	Personalizations []Personalization `json:"personalizations"`
	From             EmailAddress      `json:"from"`
	ReplyTo          EmailAddress      `json:"reply_to"`
	Subject          string            `json:"subject"`
	Content          []Content         `json:"content"`
}

// sendGridErrorBody SendGrid 错误响应体
type sendGridErrorBody struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// SendError 通知通道拒绝或网络层失败
// StatusCode 为 0 表示网络层失败（连接不上通道），区别于通道返回的拒绝码
type SendError struct {
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("notification channel unreachable: %s", e.Message)
	}
	return fmt.Sprintf("notification channel rejected request (status %d): %s", e.StatusCode, e.Message)
}

// IsAuthFailure 是否为认证失败（API Key 配置问题）
func (e *SendError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsConnectivity 是否为网络连接失败
func (e *SendError) IsConnectivity() bool {
	return e.StatusCode == 0
}

// SendGridClient SendGrid v3 Mail Send 客户端
// 单次请求不重试（派发不幂等，重复投递由冷却机制防护）
type SendGridClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewSendGridClient 创建 SendGrid 客户端
// apiKey 通过配置注入，禁止硬编码在源码中
func NewSendGridClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *SendGridClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &SendGridClient{
		httpClient: client,
		logger:     logger,
	}
}

// Send 提交一封邮件
// 202 表示通道已接受；401 表示认证失败；其他非 202 状态为通用失败，
// 尽力从错误响应体中提取可读信息
func (c *SendGridClient) Send(ctx context.Context, mail *MailRequest) *SendError {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(mail).
		Post("/v3/mail/send")

	if err != nil {
		c.logger.Error("SendGrid request failed",
			zap.Error(err),
		)
		return &SendError{StatusCode: 0, Message: err.Error()}
	}

	c.logger.Debug("SendGrid response",
		zap.Int("status_code", resp.StatusCode()),
	)

	switch resp.StatusCode() {
	case http.StatusAccepted:
		return nil
	case http.StatusUnauthorized:
		return &SendError{
			StatusCode: http.StatusUnauthorized,
			Message:    extractErrorMessage(resp.Body(), "SendGrid API key is invalid"),
		}
	default:
		return &SendError{
			StatusCode: resp.StatusCode(),
			Message:    extractErrorMessage(resp.Body(), "Failed to send email via SendGrid"),
		}
	}
}

// extractErrorMessage 从 SendGrid 错误响应体中提取首条错误信息
func extractErrorMessage(body []byte, fallback string) string {
	if len(body) == 0 {
		return fallback
	}

	var errorBody sendGridErrorBody
	if err := json.Unmarshal(body, &errorBody); err != nil {
		return fallback
	}
	if len(errorBody.Errors) == 0 || errorBody.Errors[0].Message == "" {
		return fallback
	}

	return errorBody.Errors[0].Message
}

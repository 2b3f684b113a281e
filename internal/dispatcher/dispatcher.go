package dispatcher

import (
	"context"
	"fmt"
	"time"

	"psymed-emergency/internal/models"
	"psymed-emergency/internal/repository"

	"go.uber.org/zap"
)

// timestampLayout 邮件正文中的时间格式
const timestampLayout = "Jan 02, 2006 15:04"

// AlertDispatcher 紧急警报派发器
// 解析收件人（后端档案查询）、构建通知内容并提交到邮件通道，
// 结果归类为成功或带消息的失败。一次调用只做一次后端读取和一次通道写入，
// 不幂等：重复投递的防护依赖 Coordinator 的冷却检查。
type AlertDispatcher struct {
	professionalRepo *repository.ProfessionalRepository
	sendGrid         *SendGridClient
	fromEmail        string
	fromName         string
	replyToName      string
	logger           *zap.Logger
}

// NewAlertDispatcher 创建警报派发器
func NewAlertDispatcher(
	professionalRepo *repository.ProfessionalRepository,
	sendGrid *SendGridClient,
	fromEmail string,
	fromName string,
	replyToName string,
	logger *zap.Logger,
) *AlertDispatcher {
	return &AlertDispatcher{
		professionalRepo: professionalRepo,
		sendGrid:         sendGrid,
		fromEmail:        fromEmail,
		fromName:         fromName,
		replyToName:      replyToName,
		logger:           logger,
	}
}

// SendEmergencyAlert 派发一次紧急警报
func (d *AlertDispatcher) SendEmergencyAlert(ctx context.Context, patientID, professionalID int, patientName string) models.AlertOutcome {
	// 1. 从后端解析专业人员的邮箱地址（单次请求，不重试）
	profile, err := d.professionalRepo.GetProfessionalProfile(ctx, professionalID)
	if err != nil {
		d.logger.Error("Failed to resolve professional profile",
			zap.Int("professional_id", professionalID),
			zap.Error(err),
		)
		return models.ErrorOutcome(
			"Could not get professional email address. Please check that the professional-profiles endpoint is reachable.",
		)
	}

	if profile.Email == "" {
		return models.ErrorOutcome("Professional email not found")
	}

	professionalName := profile.FullName
	if professionalName == "" {
		professionalName = "Professional"
	}

	// 2. 构建通知内容并提交到邮件通道
	mail := d.buildMailRequest(profile.Email, professionalName, patientID, patientName, time.Now())

	d.logger.Info("Sending emergency alert email",
		zap.Int("patient_id", patientID),
		zap.Int("professional_id", professionalID),
	)

	if sendErr := d.sendGrid.Send(ctx, mail); sendErr != nil {
		d.logger.Error("Emergency alert email failed",
			zap.Int("patient_id", patientID),
			zap.Int("status_code", sendErr.StatusCode),
			zap.String("channel_message", sendErr.Message),
		)

		switch {
		case sendErr.IsConnectivity():
			return models.ErrorOutcome("Cannot reach the notification service. Please check your internet connection.")
		case sendErr.IsAuthFailure():
			return models.ErrorOutcome(fmt.Sprintf(
				"SendGrid authentication failed: %s. Please check your API key.", sendErr.Message,
			))
		default:
			return models.ErrorOutcome(fmt.Sprintf("Error sending email: %s", sendErr.Message))
		}
	}

	d.logger.Info("Emergency alert email sent",
		zap.Int("patient_id", patientID),
		zap.String("professional_name", professionalName),
	)

	return models.SuccessOutcome(fmt.Sprintf(
		"Emergency alert email sent successfully to %s", professionalName,
	))
}

// buildMailRequest 构建 SendGrid 请求体（纯文本 + HTML 双版本）
func (d *AlertDispatcher) buildMailRequest(email, professionalName string, patientID int, patientName string, at time.Time) *MailRequest {
	subject := fmt.Sprintf("EMERGENCY ALERT: %s needs immediate attention", patientName)
	formattedDate := at.Format(timestampLayout)

	return &MailRequest{
		Personalizations: []Personalization{
			{
				To: []EmailAddress{
					{Email: email, Name: professionalName},
				},
				Subject: subject,
			},
		},
		From:    EmailAddress{Email: d.fromEmail, Name: d.fromName},
		ReplyTo: EmailAddress{Email: d.fromEmail, Name: d.replyToName},
		Subject: subject,
		Content: []Content{
			{Type: "text/plain", Value: buildPlainTextBody(patientID, patientName, formattedDate)},
			{Type: "text/html", Value: buildHTMLBody(patientID, patientName, formattedDate)},
		},
	}
}

func buildPlainTextBody(patientID int, patientName, formattedDate string) string {
	return fmt.Sprintf(`EMERGENCY ALERT

Patient Name: %s
Patient ID: #%d
Time: %s

This is an automated emergency alert.
The patient has triggered an emergency alert by shaking their phone in the PsyMed mobile app.
Please contact the patient immediately.

This alert was automatically generated by the PsyMed emergency system.
If you believe this is an error, please contact the patient directly.`,
		patientName, patientID, formattedDate)
}

func buildHTMLBody(patientID int, patientName, formattedDate string) string {
	return fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<div style="background-color: #dc3545; color: white; padding: 20px; text-align: center;">
<h1 style="margin: 0; font-size: 24px;">EMERGENCY ALERT</h1>
</div>
<div style="background-color: #f8f9fa; padding: 30px; border: 1px solid #dee2e6;">
<h2 style="color: #dc3545; margin-top: 0;">Patient Emergency Alert</h2>
<p><strong>Patient Name:</strong> %s</p>
<p><strong>Patient ID:</strong> #%d</p>
<p><strong>Time:</strong> %s</p>
<p style="background-color: #fff3cd; padding: 15px; border-left: 4px solid #ffc107;">
<strong>This is an automated emergency alert.</strong><br>
The patient has triggered an emergency alert by shaking their phone in the PsyMed mobile app.
Please contact the patient immediately.
</p>
<p style="font-size: 12px; color: #6c757d; margin-top: 30px;">
This alert was automatically generated by the PsyMed emergency system.<br>
If you believe this is an error, please contact the patient directly.
</p>
</div>
</div>
</body>
</html>`,
		patientName, patientID, formattedDate)
}

package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/trustgate/internal/models"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// EmailSender delivers transactional email
type EmailSender interface {
	SendVerificationCode(ctx context.Context, to, purpose, code string, expiresAt time.Time) error
	SendNewDeviceAlert(ctx context.Context, to string, device models.DeviceFingerprint, at time.Time) error
	SendDataExportReady(ctx context.Context, to, downloadURL string, expiresAt time.Time) error
}

// sesAPI is the subset of the SES client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	client      sesAPI
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(awsCfg aws.Config, fromAddress, baseURL string, logger *slog.Logger) *AWSSESEmailService {
	return newSESEmailService(ses.NewFromConfig(awsCfg), fromAddress, baseURL, logger)
}

func newSESEmailService(client sesAPI, fromAddress, baseURL string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		client:      client,
		fromAddress: fromAddress,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
	}
}

var codeSubjects = map[string]string{
	models.CodePurposeDeviceVerification: "Confirm your new device",
	models.CodePurposeStepUpEmail:        "Confirm it's you",
	models.CodePurposeEmailChange:        "Confirm your new email address",
	models.CodePurposePasswordRecovery:   "Reset your password",
}

// SendVerificationCode emails a one-time code
func (s *AWSSESEmailService) SendVerificationCode(ctx context.Context, to, purpose, code string, expiresAt time.Time) error {
	subject, ok := codeSubjects[purpose]
	if !ok {
		subject = "Your verification code"
	}
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	text := fmt.Sprintf(`%s

Your verification code is: %s

This code expires in %d minutes. If you did not request it, you can ignore this email
and consider changing your password.
`, subject, code, minutes)

	body := fmt.Sprintf(`<p>Your verification code is:</p>
<p class="code">%s</p>
<div class="warning">This code expires in %d minutes.</div>
<p>If you did not request it, you can ignore this email and consider changing your password.</p>`,
		html.EscapeString(code), minutes)

	return s.send(ctx, to, subject, renderEmail(subject, body), text, purpose)
}

// SendNewDeviceAlert tells the user about a sign-in from an unrecognised device
func (s *AWSSESEmailService) SendNewDeviceAlert(ctx context.Context, to string, device models.DeviceFingerprint, at time.Time) error {
	subject := "New sign-in to your account"
	when := at.UTC().Format("Jan 2, 2006 15:04 MST")
	sessionsURL := s.baseURL + "/account/sessions"

	text := fmt.Sprintf(`%s

Device:  %s
Browser: %s
OS:      %s
IP:      %s
Time:    %s

If this was not you, revoke the session at %s and change your password.
`, subject, orUnknown(device.DeviceName), orUnknown(device.Browser), orUnknown(device.OS), orUnknown(device.IPAddress), when, sessionsURL)

	body := fmt.Sprintf(`<p>We noticed a sign-in from a device we have not seen before.</p>
<ul>
<li><strong>Device:</strong> %s</li>
<li><strong>Browser:</strong> %s</li>
<li><strong>OS:</strong> %s</li>
<li><strong>IP:</strong> %s</li>
<li><strong>Time:</strong> %s</li>
</ul>
<p><a href="%s" class="button">Review sessions</a></p>`,
		html.EscapeString(orUnknown(device.DeviceName)),
		html.EscapeString(orUnknown(device.Browser)),
		html.EscapeString(orUnknown(device.OS)),
		html.EscapeString(orUnknown(device.IPAddress)),
		when, html.EscapeString(sessionsURL))

	return s.send(ctx, to, subject, renderEmail(subject, body), text, "new_device_alert")
}

// SendDataExportReady sends the presigned download link for a data export
func (s *AWSSESEmailService) SendDataExportReady(ctx context.Context, to, downloadURL string, expiresAt time.Time) error {
	subject := "Your data export is ready"
	text := fmt.Sprintf(`%s

Download it here: %s

The link expires at %s.
`, subject, downloadURL, expiresAt.UTC().Format(time.RFC1123))

	body := fmt.Sprintf(`<p>The copy of your account data you requested is ready.</p>
<p><a href="%s" class="button">Download export</a></p>
<div class="warning">The link expires at %s.</div>`,
		html.EscapeString(downloadURL), expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, to, subject, renderEmail(subject, body), text, "data_export_ready")
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, htmlBody, textBody, kind string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("kind", kind),
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("kind", kind),
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

func renderEmail(title, content string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .code { font-size: 28px; letter-spacing: 6px; font-weight: bold; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>%s</h1></div>
        <div class="content">%s</div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, html.EscapeString(title), content)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// SMSSender delivers one-time codes by text message
type SMSSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// AWSSNSSMSService sends SMS through AWS SNS direct publish
type AWSSNSSMSService struct {
	client   snsAPI
	senderID string
	logger   *slog.Logger
}

// NewAWSSNSSMSService creates a new SNS-backed SMS sender
func NewAWSSNSSMSService(awsCfg aws.Config, senderID string, logger *slog.Logger) *AWSSNSSMSService {
	return &AWSSNSSMSService{client: sns.NewFromConfig(awsCfg), senderID: senderID, logger: logger}
}

// SendCode texts a verification code to an E.164 number
func (s *AWSSNSSMSService) SendCode(ctx context.Context, phone, code string) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(fmt.Sprintf("Your verification code is %s. It expires shortly; do not share it.", code)),
		MessageAttributes: attrs,
	})
	if err != nil {
		s.logger.Error("failed to send SMS via SNS",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send sms: %w", err)
	}

	s.logger.Info("sms sent",
		slog.String("phone", pkglogger.SanitizedPhone(phone)),
		slog.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

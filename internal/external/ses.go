package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"flightdeck/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient, extracted so
// tests can supply a mock.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient implements EmailProvider with AWS SES v2. Authentication comes
// from IAM; the AWS SDK supplies its own retry logic, so SES calls bypass
// BaseClient.
type SESClient struct {
	api    SESAPI
	logger *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, logger *slog.Logger) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), logger)
}

// NewSESClientWithAPI creates an SESClient on a caller-provided SES API,
// used by tests.
func NewSESClientWithAPI(api SESAPI, logger *slog.Logger) *SESClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, logger: logger}
}

// Send transmits one pre-rendered email via SES simple content.
func (s *SESClient) Send(ctx context.Context, input types.SendInput) error {
	fromAddr := input.From.Address
	if input.From.Name != "" {
		fromAddr = fmt.Sprintf("%s <%s>", input.From.Name, input.From.Address)
	}

	emailInput := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddr),
		Destination: &sestypes.Destination{
			ToAddresses: []string{input.To},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data:    aws.String(input.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sestypes.Body{},
			},
		},
	}

	if input.BodyHTML != "" {
		emailInput.Content.Simple.Body.Html = &sestypes.Content{
			Data:    aws.String(input.BodyHTML),
			Charset: aws.String("UTF-8"),
		}
	}
	if input.BodyText != "" {
		emailInput.Content.Simple.Body.Text = &sestypes.Content{
			Data:    aws.String(input.BodyText),
			Charset: aws.String("UTF-8"),
		}
	}

	result, err := s.api.SendEmail(ctx, emailInput)
	if err != nil {
		return mapSESError(err)
	}

	if result.MessageId != nil {
		s.logger.DebugContext(ctx, "email sent",
			"message_id", *result.MessageId,
			"to", input.To,
		)
	}
	return nil
}

// mapSESError translates SES failures into domain AppErrors.
func mapSESError(err error) error {
	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("ses rate limit exceeded: %v", err),
			err,
		)
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("ses account sending paused: %v", err),
			err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamEmail,
		fmt.Sprintf("ses error: %v", err),
		err,
	)
}

var _ EmailProvider = (*SESClient)(nil)

// internal/provider/ses.go
package provider

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/models"
)

type sesConfig struct {
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	FromEmail       string `json:"from_email"`
}

type sesAdapter struct {
	cfg    sesConfig
	client *ses.Client
}

func newSESAdapter(raw json.RawMessage) (Adapter, error) {
	var cfg sesConfig
	if err := decodeConfig(models.ProviderSES, raw, &cfg); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, errors.NewAdapterConfigInvalidError(string(models.ProviderSES), err.Error())
	}

	return &sesAdapter{
		cfg:    cfg,
		client: ses.NewFromConfig(awsCfg),
	}, nil
}

func (a *sesAdapter) Kind() models.ProviderKind { return models.ProviderSES }

func (a *sesAdapter) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = a.cfg.FromEmail
	}

	// attachments force the raw API; the structured one cannot carry them
	if len(msg.Attachments) > 0 {
		out, err := a.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
			Source:       aws.String(from),
			Destinations: msg.To,
			RawMessage:   &types.RawMessage{Data: buildMIME(from, "", msg)},
		})
		if err != nil {
			return nil, a.classify(err)
		}
		return &SendResult{ProviderMessageID: aws.ToString(out.MessageId)}, nil
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: msg.To,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML)},
				Text: &types.Content{Data: aws.String(msg.Text)},
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := a.client.SendEmail(ctx, input)
	if err != nil {
		return nil, a.classify(err)
	}

	return &SendResult{ProviderMessageID: aws.ToString(out.MessageId)}, nil
}

func (a *sesAdapter) Verify(ctx context.Context) (*VerifyResult, error) {
	_, err := a.client.GetSendQuota(ctx, &ses.GetSendQuotaInput{})
	if err != nil {
		return &VerifyResult{OK: false, Detail: err.Error()}, nil
	}
	return &VerifyResult{OK: true, Detail: "send quota readable"}, nil
}

func (a *sesAdapter) classify(err error) error {
	var rejected *types.MessageRejected
	if stderrors.As(err, &rejected) {
		return errors.NewProviderRejectedError("ses", rejected.ErrorMessage())
	}
	var unverified *types.MailFromDomainNotVerifiedException
	if stderrors.As(err, &unverified) {
		return errors.NewProviderRejectedError("ses", unverified.ErrorMessage())
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "TooManyRequestsException":
			return errors.NewProviderRateLimitedError("ses")
		case "InvalidClientTokenId", "SignatureDoesNotMatch", "UnrecognizedClientException":
			return errors.NewProviderAuthError("ses", err)
		}
		return errors.NewProviderUnknownError("ses", apiErr.ErrorCode()+": "+apiErr.ErrorMessage())
	}

	return classifyTransportError("ses", err)
}

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/programme-lv/evalcore/api"
)

// SQSAPI is the part of the SQS client the dispatcher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS sends job requests to one queue and reads job results from another.
type SQS struct {
	client    SQSAPI
	jobsURL   string
	resultURL string
	log       *slog.Logger
}

func NewSQS(client SQSAPI, jobsURL, resultURL string, log *slog.Logger) *SQS {
	return &SQS{
		client:    client,
		jobsURL:   jobsURL,
		resultURL: resultURL,
		log:       log.With("component", "sqs"),
	}
}

// NewSQSFromEnv builds the client from the default AWS configuration
// chain.
func NewSQSFromEnv(ctx context.Context, region, jobsURL, resultURL string, log *slog.Logger) (*SQS, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewSQS(sqs.NewFromConfig(cfg), jobsURL, resultURL, log), nil
}

func (s *SQS) Dispatch(ctx context.Context, req api.JobRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal job request: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.jobsURL),
		MessageBody: aws.String(string(b)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"object": {DataType: aws.String("String"), StringValue: aws.String(string(req.Object))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send job %s: %w", req.MsgID, err)
	}
	return nil
}

// ConsumeResults long-polls the result queue until ctx is done. A message
// is deleted once handle accepts it; rejected messages are redelivered by
// SQS after their visibility timeout.
func (s *SQS) ConsumeResults(ctx context.Context, handle func(context.Context, api.JobResult) error) error {
	for {
		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.resultURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     5,
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.log.Warn("failed to receive results", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			s.consume(ctx, msg, handle)
		}
	}
}

func (s *SQS) consume(ctx context.Context, msg types.Message, handle func(context.Context, api.JobResult) error) {
	var res api.JobResult
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &res); err != nil {
		s.log.Error("dropping malformed result", "message_id", aws.ToString(msg.MessageId), "error", err)
		s.delete(ctx, msg)
		return
	}
	if err := handle(ctx, res); err != nil {
		s.log.Error("failed to record result", "msg_id", res.MsgID, "object", res.Object, "object_id", res.ObjectID, "error", err)
		return
	}
	s.delete(ctx, msg)
}

func (s *SQS) delete(ctx context.Context, msg types.Message) {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.resultURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		s.log.Warn("failed to delete message", "message_id", aws.ToString(msg.MessageId), "error", err)
	}
}

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/evalcore/api"
)

const defaultRequestTimeout = 10 * time.Second

// Client implements Notifier over a NATS connection.
type Client struct {
	nc *nats.Conn
}

func NewClient(nc *nats.Conn) *Client {
	return &Client{nc: nc}
}

func (c *Client) Reinitialize(ctx context.Context) error {
	return c.request(ctx, Subject(Scoring, api.ReinitializeMsg), api.NewReinitialize())
}

func (c *Client) DatasetUpdated(ctx context.Context, taskID int64) error {
	return c.send(Subject(Scoring, api.DatasetUpdatedMsg), api.NewDatasetUpdated(taskID))
}

func (c *Client) SearchJobsNotDone(ctx context.Context, target Target) error {
	return c.send(Subject(target, api.SearchJobsNotDoneMsg), api.NewSearchJobsNotDone())
}

func (c *Client) NewEvaluation(ctx context.Context, submissionID, datasetID int64) error {
	return c.send(Subject(Scoring, api.NewEvaluationMsg), api.NewNewEvaluation(submissionID, datasetID))
}

// PublishResult hands a finished job back to the evaluation service.
func (c *Client) PublishResult(ctx context.Context, res api.JobResult) error {
	return c.send(Subject(Evaluation, api.JobResultMsg), res)
}

func (c *Client) send(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := c.nc.Publish(subject, b); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	resp, err := c.nc.RequestWithContext(ctx, subject, b)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", subject, err)
	}
	return decodeReply(resp.Data)
}

func decodeReply(data []byte) error {
	var reply api.Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	if reply.Error != nil {
		return errors.New(*reply.Error)
	}
	return nil
}

package api

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MsgType identifies the payload of a message exchanged between services.
type MsgType string

const (
	ReinitializeMsg      MsgType = "reinitialize"
	DatasetUpdatedMsg    MsgType = "dataset_updated"
	NewEvaluationMsg     MsgType = "new_evaluation"
	SearchJobsNotDoneMsg MsgType = "search_jobs_not_done"
	JobRequestMsg        MsgType = "job_request"
	JobResultMsg         MsgType = "job_result"
	ReplyMsg             MsgType = "reply"
)

// Compilation and evaluation text stored for contestants is trimmed to
// this rectangle.
const (
	MaxTextHeight = 40
	MaxTextWidth  = 80
)

// Header is the common header of every message.
type Header struct {
	MsgID   string  `json:"msg_id"`
	MsgType MsgType `json:"msg_type"`
}

// Reinitialize asks the scoring service to drop its cached scorers.
type Reinitialize struct {
	Header
}

// DatasetUpdated tells the scoring service a task has a new active dataset.
type DatasetUpdated struct {
	Header
	TaskID int64 `json:"task_id"`
}

// NewEvaluation tells the scoring service a result is ready to be scored.
type NewEvaluation struct {
	Header
	SubmissionID int64 `json:"submission_id"`
	DatasetID    int64 `json:"dataset_id"`
}

// SearchJobsNotDone asks a service to rescan for pending work.
type SearchJobsNotDone struct {
	Header
}

// ObjectKind is what a job was built from.
type ObjectKind string

const (
	SubmissionObject ObjectKind = "submission"
	UserTestObject   ObjectKind = "user_test"
)

// JobRequest carries a job to a worker. The same envelope comes back as
// a JobResult once the worker filled in the job's outputs.
type JobRequest struct {
	Header
	Object    ObjectKind      `json:"object"`
	ObjectID  int64           `json:"object_id"`
	DatasetID int64           `json:"dataset_id"`
	Job       json.RawMessage `json:"job"`
}

type JobResult struct {
	Header
	Object    ObjectKind      `json:"object"`
	ObjectID  int64           `json:"object_id"`
	DatasetID int64           `json:"dataset_id"`
	Job       json.RawMessage `json:"job"`
}

// Reply answers a request/reply call. Error is nil on success.
type Reply struct {
	Header
	Error *string `json:"error"`
}

func NewHeader(msgType MsgType) Header {
	return Header{
		MsgID:   uuid.NewString(),
		MsgType: msgType,
	}
}

func NewReinitialize() Reinitialize {
	return Reinitialize{Header: NewHeader(ReinitializeMsg)}
}

func NewDatasetUpdated(taskID int64) DatasetUpdated {
	return DatasetUpdated{
		Header: NewHeader(DatasetUpdatedMsg),
		TaskID: taskID,
	}
}

func NewNewEvaluation(submissionID, datasetID int64) NewEvaluation {
	return NewEvaluation{
		Header:       NewHeader(NewEvaluationMsg),
		SubmissionID: submissionID,
		DatasetID:    datasetID,
	}
}

func NewSearchJobsNotDone() SearchJobsNotDone {
	return SearchJobsNotDone{Header: NewHeader(SearchJobsNotDoneMsg)}
}

func NewJobRequest(object ObjectKind, objectID, datasetID int64, job json.RawMessage) JobRequest {
	return JobRequest{
		Header:    NewHeader(JobRequestMsg),
		Object:    object,
		ObjectID:  objectID,
		DatasetID: datasetID,
		Job:       job,
	}
}

// Result wraps the finished job into a result answering the request.
func (r JobRequest) Result(job json.RawMessage) JobResult {
	return JobResult{
		Header:    Header{MsgID: r.MsgID, MsgType: JobResultMsg},
		Object:    r.Object,
		ObjectID:  r.ObjectID,
		DatasetID: r.DatasetID,
		Job:       job,
	}
}

func NewReply(requestID string, err error) Reply {
	r := Reply{Header: Header{MsgID: requestID, MsgType: ReplyMsg}}
	if err != nil {
		msg := err.Error()
		r.Error = &msg
	}
	return r
}

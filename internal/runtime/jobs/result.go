package jobs

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/jobflow/internal/runtime/ids"
	"github.com/drblury/jobflow/internal/runtime/jsoncodec"
)

// ResultStatus is the outcome reported for a settled job.
type ResultStatus string

const (
	StatusCompleted ResultStatus = "completed"
	StatusFailed    ResultStatus = "failed"
	StatusIncident  ResultStatus = "incident"
)

// Result is published on ResultTopic when a worker settles a job.
type Result struct {
	Key          string         `json:"key"`
	Type         string         `json:"type"`
	Worker       string         `json:"worker,omitempty"`
	Status       ResultStatus   `json:"status"`
	Retries      int            `json:"retries"`
	Variables    map[string]any `json:"variables,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	SettledAt    time.Time      `json:"settledAt"`
}

// ResultTopic names the topic that receives results for jobs of jobType.
func ResultTopic(jobType string) string {
	return jobType + ".results"
}

// ToMessage encodes the result as a Watermill message.
func (r Result) ToMessage() (*message.Message, error) {
	payload, err := jsoncodec.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result of job %s: %w", r.Key, err)
	}
	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set(MetadataJobKey, r.Key)
	msg.Metadata.Set(MetadataJobType, r.Type)
	if r.Worker != "" {
		msg.Metadata.Set(MetadataWorker, r.Worker)
	}
	return msg, nil
}

// DecodeResult reads a result message.
func DecodeResult(msg *message.Message) (Result, error) {
	var r Result
	if err := jsoncodec.UnmarshalPreservingNumbers(msg.Payload, &r); err != nil {
		return Result{}, fmt.Errorf("decode result %s: %w", msg.UUID, err)
	}
	return r, nil
}

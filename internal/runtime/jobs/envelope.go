package jobs

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/jobflow/internal/runtime/jsoncodec"
)

// Metadata keys carried on every job message. They are reserved and should
// not be used for custom headers.
const (
	MetadataJobKey        = "jobflow_job_key"
	MetadataJobType       = "jobflow_job_type"
	MetadataRetries       = "jobflow_retries"
	MetadataExpiresAt     = "jobflow_expires_at"
	MetadataCorrelationID = "correlation_id"
	MetadataWorker        = "jobflow_worker"
)

// Envelope is the wire form of a queued job.
type Envelope struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Retries int    `json:"retries"`

	BusinessKey                 string `json:"businessKey,omitempty"`
	ProcessDefinitionID         string `json:"processDefinitionId,omitempty"`
	ProcessDefinitionKey        string `json:"processDefinitionKey,omitempty"`
	ProcessDefinitionVersionTag string `json:"processDefinitionVersionTag,omitempty"`
	TenantID                    string `json:"tenantId,omitempty"`

	Variables           map[string]any    `json:"variables,omitempty"`
	LocalVariables      map[string]any    `json:"localVariables,omitempty"`
	ExtensionProperties map[string]string `json:"extensionProperties,omitempty"`
	CustomHeaders       map[string]string `json:"customHeaders,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the job outlived its time to live.
func (e Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// NewEnvelope builds the envelope of a job created on topic. A ttl of zero
// or less means the job never expires.
func NewEnvelope(key, topic string, job NewJob, now time.Time, ttl time.Duration) Envelope {
	retries := job.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	env := Envelope{
		Key:                         key,
		Type:                        topic,
		Retries:                     retries,
		BusinessKey:                 job.BusinessKey,
		ProcessDefinitionID:         job.ProcessDefinitionID,
		ProcessDefinitionKey:        job.ProcessDefinitionKey,
		ProcessDefinitionVersionTag: job.ProcessDefinitionVersionTag,
		TenantID:                    job.TenantID,
		Variables:                   job.Variables,
		LocalVariables:              job.LocalVariables,
		ExtensionProperties:         job.ExtensionProperties,
		CustomHeaders:               job.CustomHeaders,
		CreatedAt:                   now.UTC(),
	}
	if ttl > 0 {
		expires := now.Add(ttl).UTC()
		env.ExpiresAt = &expires
	}
	return env
}

// ToMessage encodes the envelope as a Watermill message keyed by the job key.
func (e Envelope) ToMessage() (*message.Message, error) {
	payload, err := jsoncodec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", e.Key, err)
	}

	msg := message.NewMessage(e.Key, payload)
	msg.Metadata.Set(MetadataJobKey, e.Key)
	msg.Metadata.Set(MetadataJobType, e.Type)
	msg.Metadata.Set(MetadataRetries, strconv.Itoa(e.Retries))
	if e.ExpiresAt != nil {
		msg.Metadata.Set(MetadataExpiresAt, e.ExpiresAt.Format(time.RFC3339Nano))
	}
	return msg, nil
}

// DecodeEnvelope reads the envelope carried by msg. Jobs published without
// a key fall back to the message UUID.
func DecodeEnvelope(msg *message.Message) (Envelope, error) {
	var env Envelope
	if err := jsoncodec.UnmarshalPreservingNumbers(msg.Payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode job %s: %w", msg.UUID, err)
	}
	if env.Key == "" {
		env.Key = msg.UUID
	}
	return env, nil
}

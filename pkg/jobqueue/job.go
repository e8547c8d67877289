// Package jobqueue defines the reflection job contract and the queue
// interfaces that carry it from the dispatcher to the reflection workers.
//
// Delivery is at-least-once. Consumers must treat jobs idempotently by
// session id; the archive rejects a second session summary for the same
// session, so redelivery never produces duplicates.
package jobqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/papercomputeco/reverie/pkg/memory"
)

const (
	// SchemaVersionV1 is the first version of the reflection job payload.
	SchemaVersionV1 = 1

	// JobTypeReflectSession identifies a session reflection job.
	JobTypeReflectSession = "reverie.reflect.session"
)

// ReflectionJob is the versioned payload submitted for every ended session
// with at least one turn. All timestamps are UTC.
type ReflectionJob struct {
	SchemaVersion    int              `json:"schema_version"`
	JobType          string           `json:"job_type"`
	SessionID        string           `json:"session_id"`
	AgentID          string           `json:"agent_id"`
	ReflectorAgentID string           `json:"reflector_agent_id"`
	EndReason        memory.EndReason `json:"end_reason"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          time.Time        `json:"ended_at"`
	Turns            []JobTurn        `json:"turns"`
}

// JobTurn is the wire form of a memory.Turn.
type JobTurn struct {
	UserMessage   string    `json:"user_message"`
	AgentResponse string    `json:"agent_response"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewReflectionJob builds the job payload for an ended session. The session
// end is the last recorded activity.
func NewReflectionJob(s memory.Session, reason memory.EndReason, reflectorAgentID string) *ReflectionJob {
	turns := make([]JobTurn, 0, len(s.Turns))
	for _, t := range s.Turns {
		turns = append(turns, JobTurn{
			UserMessage:   t.UserText,
			AgentResponse: t.AgentText,
			Timestamp:     t.Timestamp.UTC(),
		})
	}

	return &ReflectionJob{
		SchemaVersion:    SchemaVersionV1,
		JobType:          JobTypeReflectSession,
		SessionID:        s.SessionID,
		AgentID:          s.AgentID,
		ReflectorAgentID: reflectorAgentID,
		EndReason:        reason,
		StartedAt:        s.StartedAt.UTC(),
		EndedAt:          s.LastActivity.UTC(),
		Turns:            turns,
	}
}

// Validate checks that the job can be processed by this version of the
// worker.
func (j *ReflectionJob) Validate() error {
	if j == nil {
		return ErrNilJob
	}
	if j.SchemaVersion != SchemaVersionV1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedSchema, j.SchemaVersion)
	}
	if j.JobType != JobTypeReflectSession {
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, j.JobType)
	}
	if j.SessionID == "" || j.AgentID == "" {
		return fmt.Errorf("%w: missing session or agent id", ErrInvalidJob)
	}
	return nil
}

// MemoryTurns converts the wire turns back into memory turns.
func (j *ReflectionJob) MemoryTurns() []memory.Turn {
	turns := make([]memory.Turn, 0, len(j.Turns))
	for _, t := range j.Turns {
		turns = append(turns, memory.Turn{
			UserText:  t.UserMessage,
			AgentText: t.AgentResponse,
			Timestamp: t.Timestamp,
		})
	}
	return turns
}

// Encode marshals a job for transport.
func Encode(j *ReflectionJob) ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// Decode unmarshals and validates a job received from transport.
func Decode(data []byte) (*ReflectionJob, error) {
	var j ReflectionJob
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

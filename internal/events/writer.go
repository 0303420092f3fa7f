// Package events records the marketplace audit trail. Every workflow
// transaction appends exactly one event per state change it makes, so
// the log replays the full history of a project: who bid, who was
// chosen, what was delivered and how review went.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// The closed vocabulary of audit event types. One constant per state
// change a workflow operation can commit.
const (
	ProjectCreated   = "project.created"
	ProjectUpdated   = "project.updated"
	ProjectCompleted = "project.completed"

	RequestCreated  = "request.created"
	RequestAccepted = "request.accepted"
	RequestRejected = "request.rejected"

	TaskCreated = "task.created"
	TaskUpdated = "task.updated"

	SubmissionCreated  = "submission.created"
	SubmissionAccepted = "submission.accepted"
	SubmissionRejected = "submission.rejected"

	UserCreated        = "user.created"
	UserProfileUpdated = "user.profile_updated"
	UserRoleChanged    = "user.role_changed"
)

// Writer appends audit events inside the caller's transaction so an
// event is recorded exactly when the state change it describes commits,
// and never when it rolls back.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event. projectID and entityID may be empty for
// events outside a project (user lifecycle); they are stored as NULL.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

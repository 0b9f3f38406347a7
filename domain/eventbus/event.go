// Package eventbus implements the project-scoped pub/sub channel (spec
// component A): bounded per-subscriber queues, drop-oldest on overflow, and
// FIFO delivery per subscriber. Grounded on the teacher's
// domain/events callback-based Service, reshaped around channels so
// publishers never block on a slow subscriber.
package eventbus

import "time"

// Type is the discriminant of an Event's payload.
type Type string

const (
	TypeMessageStart         Type = "messageStart"
	TypePartDelta            Type = "partDelta"
	TypePartComplete         Type = "partComplete"
	TypeMessageComplete      Type = "messageComplete"
	TypeToolCallStart        Type = "toolCallStart"
	TypeToolCallResult       Type = "toolCallResult"
	TypeTaskStatusChanged    Type = "taskStatusChanged"
	TypePlanUpdated          Type = "planUpdated"
	TypeProjectStatusChanged Type = "projectStatusChanged"
	TypeAgentStatus          Type = "agentStatus"
	TypeLogEntry             Type = "logEntry"
	TypeArtifactCreated      Type = "artifactCreated"
	TypeArtifactUpdated      Type = "artifactUpdated"
)

// Event is a typed record published on the bus. Data shape depends on Type;
// field names within Data must stay camelCase on the wire (§6).
type Event struct {
	Type      Type      `json:"type"`
	ProjectID string    `json:"projectId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// LogLevel of a synthetic logEntry event.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntryData is the payload of a logEntry event, including the
// subscriber-lag warning emitted on queue overflow.
type LogEntryData struct {
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}

// ProjectStatusChangedData is the payload of a projectStatusChanged event.
type ProjectStatusChangedData struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// TaskStatusChangedData is the payload of a taskStatusChanged event.
type TaskStatusChangedData struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// PlanUpdatedData is the payload of a planUpdated event.
type PlanUpdatedData struct {
	Version           int      `json:"version"`
	PreservedTaskIDs  []string `json:"preservedTaskIds"`
	RegeneratedTaskIDs []string `json:"regeneratedTaskIds"`
}

// ArtifactEventData is the payload of an artifactCreated or
// artifactUpdated event: the written version's metadata, mirroring
// filestore.Artifact without importing it (eventbus stays dependency-free
// of the workspace package).
type ArtifactEventData struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

func newEvent(projectID string, typ Type, data any) Event {
	return Event{Type: typ, ProjectID: projectID, Timestamp: time.Now().UTC(), Data: data}
}

func subscriberLagEvent(projectID string) Event {
	return newEvent(projectID, TypeLogEntry, LogEntryData{
		Level:   LogLevelWarn,
		Message: "subscriber lag",
	})
}

func closedEvent(projectID string) Event {
	return newEvent(projectID, TypeProjectStatusChanged, ProjectStatusChangedData{Status: "closed"})
}

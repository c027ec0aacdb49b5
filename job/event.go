package job

import "encoding/json"

// EventType discriminates progress events on the SSE stream.
type EventType string

const (
	EventJobCreated  EventType = "job_created"
	EventGenerating  EventType = "generating"
	EventGenerated   EventType = "generated"
	EventScaffolding EventType = "scaffolding"
	EventWriting     EventType = "writing"
	EventInstalling  EventType = "installing"
	EventBuilding    EventType = "building"
	EventDeploying   EventType = "deploying"
	EventDeployed    EventType = "deployed"
	EventLog         EventType = "log"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
)

// Event is a tagged progress event. The Type discriminator is inlined into
// the serialized JSON object; unset fields are omitted.
type Event struct {
	Type        EventType `json:"type"`
	JobID       string    `json:"jobId,omitempty"`
	FileCount   int       `json:"fileCount,omitempty"`
	Phase       string    `json:"phase,omitempty"`
	Message     string    `json:"message,omitempty"`
	PreviewURL  string    `json:"previewUrl,omitempty"`
	DeployedURL string    `json:"deployedUrl,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics is the usage summary attached to the terminal complete event.
type Metrics struct {
	PromptTokens      int     `json:"promptTokens"`
	CompletionTokens  int     `json:"completionTokens"`
	TotalTokens       int     `json:"totalTokens"`
	Cost              float64 `json:"cost"`
	LLMLatencyMs      int64   `json:"llmLatencyMs"`
	InstallDurationMs int64   `json:"installDurationMs"`
	BuildDurationMs   int64   `json:"buildDurationMs"`
	DeployDurationMs  int64   `json:"deployDurationMs"`
	TotalDurationMs   int64   `json:"totalDurationMs"`
	FileCount         int     `json:"fileCount"`
	LinesOfCode       int     `json:"linesOfCode"`
}

// Marshal serializes the event for the wire. Marshalling an Event cannot
// fail; the method exists so callers do not repeat the error branch.
func (e Event) Marshal() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"error","message":"event marshal failed"}`)
	}
	return data
}

package api

import "encoding/json"

// SubmitTaskRequest is the POST /tasks body.
type SubmitTaskRequest struct {
	Capability string          `json:"capability"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   string          `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	TimeoutMS  int64           `json:"timeout_ms,omitempty"`
}

// SubmitTaskResponse acknowledges an async submission.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	PluginsLoaded int    `json:"plugins_loaded"`
}

// InvalidateRequest is the POST /cache/invalidate body.
type InvalidateRequest struct {
	Pattern string `json:"pattern"`
}

// InvalidateResponse reports how many keys matched.
type InvalidateResponse struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

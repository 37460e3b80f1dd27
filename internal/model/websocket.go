package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the envelope clients send (ping/pong only).
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage streams progress to job subscribers.
type WSProgressMessage struct {
	Type         string    `json:"type"`
	JobID        string    `json:"jobId"`
	Progress     int       `json:"progress"`
	Status       JobStatus `json:"status"`
	CurrentStage string    `json:"currentStage,omitempty"`
}

// WSCompleteMessage announces a finished render.
type WSCompleteMessage struct {
	Type       string  `json:"type"`
	JobID      string  `json:"jobId"`
	OutputPath string  `json:"outputPath"`
	OutputURL  *string `json:"outputUrl,omitempty"`
}

// WSErrorMessage announces a failed render.
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

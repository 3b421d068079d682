package model

type BatchMode string

const (
	BatchModeParallel   BatchMode = "parallel"
	BatchModeWindow     BatchMode = "window"
	BatchModeSequential BatchMode = "sequential"
)

type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label,omitempty"`
}

type BatchState struct {
	ID           string        `json:"id"`
	Mode         BatchMode     `json:"mode"`
	Window       int           `json:"window,omitempty"`
	Running      bool          `json:"running"`
	Runs         []SequenceRun `json:"runs"`
	Progress     Progress      `json:"progress"`
	StartedAtMs  int64         `json:"startedAtMs,omitempty"`
	FinishedAtMs int64         `json:"finishedAtMs,omitempty"`
}

package model

type Stage string

const (
	StageRegister   Stage = "register"
	StageLogin      Stage = "login"
	StageAddBank    Stage = "addBank"
	StageCheckPromo Stage = "checkPromo"
)

// Stages 按执行顺序列出全部阶段。
var Stages = []Stage{StageRegister, StageLogin, StageAddBank, StageCheckPromo}

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusPartial || s == RunStatusFailed
}

// StepResult 记录单个阶段的结果。
// Success=true 且 Verified=false 表示“动作自称成功但无法独立确认”，
// 下游阶段需要保守对待这种结果。
type StepResult struct {
	Stage    Stage  `json:"stage"`
	Success  bool   `json:"success"`
	Verified bool   `json:"verified"`
	Skipped  bool   `json:"skipped,omitempty"`
	Reason   string `json:"reason,omitempty"`
	AtMs     int64  `json:"atMs,omitempty"`
}

type SequenceRun struct {
	ID           string       `json:"id"`
	BatchID      string       `json:"batchId"`
	SiteID       string       `json:"siteId"`
	SiteName     string       `json:"siteName,omitempty"`
	Status       RunStatus    `json:"status"`
	Stage        Stage        `json:"stage,omitempty"`
	Steps        []StepResult `json:"steps"`
	StartedAtMs  int64        `json:"startedAtMs,omitempty"`
	FinishedAtMs int64        `json:"finishedAtMs,omitempty"`
}

// Step 返回指定阶段的结果；未记录时第二个返回值为 false。
func (r SequenceRun) Step(stage Stage) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Stage == stage {
			return s, true
		}
	}
	return StepResult{}, false
}

package notify

import (
	"context"

	"sequence_engine/internal/model"
)

type BatchFinishedEvent struct {
	At        int64               `json:"atMs"`
	BatchID   string              `json:"batchId"`
	Mode      string              `json:"mode,omitempty"`
	Succeeded int                 `json:"succeeded"`
	Partial   int                 `json:"partial"`
	Failed    int                 `json:"failed"`
	Runs      []model.SequenceRun `json:"runs,omitempty"`
}

type Notifier interface {
	NotifyBatchFinished(ctx context.Context, evt BatchFinishedEvent)
}

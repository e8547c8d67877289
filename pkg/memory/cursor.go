package memory

import "time"

// Epoch is the default high-water mark of a cursor that was never persisted.
var Epoch = time.Unix(0, 0).UTC()

// RollupCursor records how far the rollups of TargetKind have progressed for
// an agent. Source summaries with a period end strictly after HighWaterMark
// have not been rolled up yet.
type RollupCursor struct {
	AgentID       string    `json:"agent_id"`
	TargetKind    Kind      `json:"target_kind"`
	HighWaterMark time.Time `json:"high_water_mark"`
}

// NewRollupCursor returns a cursor positioned at Epoch.
func NewRollupCursor(agentID string, target Kind) RollupCursor {
	return RollupCursor{
		AgentID:       agentID,
		TargetKind:    target,
		HighWaterMark: Epoch,
	}
}

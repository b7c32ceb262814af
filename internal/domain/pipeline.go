package domain

// PipelineState tracks a post through the processing state machine.
type PipelineState string

const (
	StateReceived           PipelineState = "received"
	StateDuplicate          PipelineState = "duplicate"
	StateAdmitted           PipelineState = "admitted"
	StateAnalyzing          PipelineState = "analyzing"
	StateAnalysisFailed     PipelineState = "analysis_failed"
	StateAnalyzed           PipelineState = "analyzed"
	StateDispatching        PipelineState = "dispatching"
	StatePartiallyDelivered PipelineState = "partially_delivered"
	StateDone               PipelineState = "done"
)

// Terminal reports whether the state ends a post's pipeline.
func (s PipelineState) Terminal() bool {
	switch s {
	case StateDuplicate, StateAnalysisFailed, StatePartiallyDelivered, StateDone:
		return true
	}
	return false
}

// PipelineOutcome is the terminal record for one processed post.
type PipelineOutcome struct {
	PostKey   PostKey
	State     PipelineState
	Result    *AnalysisResult
	Deliveries []DeliveryAttempt
	Err       error
}

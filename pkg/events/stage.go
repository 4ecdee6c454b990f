package events

// Stage names a phase of the commit pipeline. Failures are classified by
// the stage they happened in; the client adds the two non-pipeline stages.
type Stage string

const (
	StageDetecting  Stage = "detecting"
	StageGenerating Stage = "generating"
	StageCommitting Stage = "committing"
	StagePushing    Stage = "pushing"
	StageTransport  Stage = "transport"
	StageCancelled  Stage = "cancelled"
)

// Exit codes per failure stage, for scripting against the client binary.
const (
	ExitSuccess    = 0
	ExitDetecting  = 10
	ExitGenerating = 11
	ExitCommitting = 12
	ExitPushing    = 13
	ExitTransport  = 14
	ExitCancelled  = 15
)

// ExitCode maps a failure stage to the client process exit status.
func (s Stage) ExitCode() int {
	switch s {
	case StageDetecting:
		return ExitDetecting
	case StageGenerating:
		return ExitGenerating
	case StageCommitting:
		return ExitCommitting
	case StagePushing:
		return ExitPushing
	case StageTransport:
		return ExitTransport
	case StageCancelled:
		return ExitCancelled
	default:
		return ExitTransport
	}
}

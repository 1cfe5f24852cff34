package conversation

// State is a step of the per-turn state machine.
//
//	START -> POLICY_CHECK -> DIRECT_TOOL | CONFIRMATION_CHECK | MODEL_CALL
//	      -> TOOL_EXECUTION (optional) -> RESPONSE_ASSEMBLY -> END
type State string

const (
	StateStart             State = "START"
	StatePolicyCheck       State = "POLICY_CHECK"
	StateDirectTool        State = "DIRECT_TOOL"
	StateConfirmationCheck State = "CONFIRMATION_CHECK"
	StateModelCall         State = "MODEL_CALL"
	StateToolExecution     State = "TOOL_EXECUTION"
	StateResponseAssembly  State = "RESPONSE_ASSEMBLY"
	StateEnd               State = "END"
)

// Paths label how a turn was answered, for metrics and the Response.
const (
	PathRateLimited  = "rate_limited"
	PathClearContext = "clear_context"
	PathCancel       = "cancel"
	PathDirectTool   = "direct_tool"
	PathConfirmation = "confirmation"
	PathModel        = "model"
)

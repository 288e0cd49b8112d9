package stream

// Kind discriminates between canonical event kinds.
type Kind int

const (
	// KindSessionStarted fires when the provider announces a new or resumed session.
	KindSessionStarted Kind = iota
	// KindAssistantText fires for assistant prose.
	KindAssistantText
	// KindToolInvoked fires when the provider begins a tool call.
	KindToolInvoked
	// KindToolResult fires when a previously invoked tool call finishes.
	KindToolResult
	// KindPermissionRequested fires when a tool call needs human approval.
	KindPermissionRequested
	// KindTurnCompleted fires when the provider finishes a turn.
	KindTurnCompleted
	// KindWarning fires for provider warnings and synthetic notices.
	KindWarning
	// KindMalformed fires for lines that could not be parsed.
	KindMalformed
)

// Event is the canonical, provider-agnostic representation of one unit of
// streamed progress. Adapters are the only place that inspect provider
// specific shapes; everything downstream switches on these variants.
type Event interface {
	Kind() Kind
}

// SessionStarted carries session metadata from the provider's init record.
type SessionStarted struct {
	SessionID string
	WorkDir   string
	Model     string
	Tools     []string
}

// Kind returns the event kind.
func (e SessionStarted) Kind() Kind { return KindSessionStarted }

// AssistantText carries assistant prose.
type AssistantText struct {
	Text string
}

// Kind returns the event kind.
func (e AssistantText) Kind() Kind { return KindAssistantText }

// ToolInvoked fires when the provider begins a tool call.
type ToolInvoked struct {
	Input map[string]interface{}
	ID    string
	Name  string
}

// Kind returns the event kind.
func (e ToolInvoked) Kind() Kind { return KindToolInvoked }

// ToolResult closes out a tool call. Summary is the first line of the raw
// result content, bounded for display.
type ToolResult struct {
	InvocationID string
	Summary      string
	IsError      bool
}

// Kind returns the event kind.
func (e ToolResult) Kind() Kind { return KindToolResult }

// PermissionRequested fires when a tool call is blocked on human approval.
type PermissionRequested struct {
	Input        map[string]interface{}
	InvocationID string
	ToolName     string
}

// Kind returns the event kind.
func (e PermissionRequested) Kind() Kind { return KindPermissionRequested }

// TurnCompleted is the terminal event of a run. CostUSD is nil for providers
// that report token usage instead of a dollar cost; Usage then carries a
// display summary of the tokens consumed.
type TurnCompleted struct {
	CostUSD *float64
	Result  string
	Usage   string
	Turns   int
	Success bool
}

// Kind returns the event kind.
func (e TurnCompleted) Kind() Kind { return KindTurnCompleted }

// Warning carries provider warnings and synthetic notices (e.g. timeouts).
type Warning struct {
	Text string
}

// Kind returns the event kind.
func (e Warning) Kind() Kind { return KindWarning }

// Malformed carries a line that could not be parsed as a provider record.
// It never aborts the stream.
type Malformed struct {
	Line string
}

// Kind returns the event kind.
func (e Malformed) Kind() Kind { return KindMalformed }

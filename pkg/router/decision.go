package router

// Kind identifies which execution path a request takes.
type Kind string

const (
	// KindFastPath answers from a canned reply with no model or tool work.
	KindFastPath Kind = "fastpath"
	// KindDirectTool runs a single named tool with bound arguments.
	KindDirectTool Kind = "tool"
	// KindBuiltIn runs a local handler that may fan out to several tools.
	KindBuiltIn Kind = "builtin"
	// KindDelegate forwards the query to the configured model adapter.
	KindDelegate Kind = "delegate"
)

// Decision is the routing outcome for one request. Classification is pure:
// the same text and rule set always produce the same decision.
type Decision struct {
	Kind Kind
	// Rule names the matched rule, or "delegate" for the fallthrough path.
	Rule string

	// Reply is the canned response for fastpath decisions.
	Reply string

	// Tool and Args carry the invocation for direct-tool decisions.
	Tool string
	Args map[string]any

	// Handler names the builtin for builtin decisions.
	Handler string

	// Query is the text forwarded on delegate decisions.
	Query string

	// Cacheable is computed at classification time. Only delegate decisions
	// whose text matches no live-state trigger are cacheable.
	Cacheable bool
}

// Package pipeline wires admission, routing, planning, dispatch, delegation
// and the truth gate into the single path every request takes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zen-systems/cmdgate/pkg/adapter"
	"github.com/zen-systems/cmdgate/pkg/cache"
	"github.com/zen-systems/cmdgate/pkg/config"
	"github.com/zen-systems/cmdgate/pkg/dispatch"
	"github.com/zen-systems/cmdgate/pkg/evidence"
	"github.com/zen-systems/cmdgate/pkg/gate"
	"github.com/zen-systems/cmdgate/pkg/planner"
	"github.com/zen-systems/cmdgate/pkg/ratelimit"
	"github.com/zen-systems/cmdgate/pkg/retrieval"
	"github.com/zen-systems/cmdgate/pkg/router"
	"github.com/zen-systems/cmdgate/pkg/schema"
)

// Pipeline handles requests end to end. Every response, whatever path it
// took, leaves through the truth gate exactly once; cached envelopes were
// gated before they were stored.
type Pipeline struct {
	cfg        *config.Config
	router     *router.Router
	planner    *planner.Planner
	dispatcher *dispatch.Dispatcher
	builtins   *dispatch.Builtins
	gate       *gate.TruthGate
	limiter    *ratelimit.Limiter
	store      cache.Store
	retriever  retrieval.Retriever
	adapters   map[string]adapter.Adapter
	aliases    *config.ModelAliases
	logger     *slog.Logger
}

// Options assembles a pipeline. Router, Planner, Dispatcher, Builtins and
// Limiter are required; Store and Retriever are optional.
type Options struct {
	Config     *config.Config
	Router     *router.Router
	Planner    *planner.Planner
	Dispatcher *dispatch.Dispatcher
	Builtins   *dispatch.Builtins
	Limiter    *ratelimit.Limiter
	Store      cache.Store
	Retriever  retrieval.Retriever
	Adapters   map[string]adapter.Adapter
	Aliases    *config.ModelAliases
	Logger     *slog.Logger
}

// New assembles a pipeline from its collaborators.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil || opts.Router == nil || opts.Planner == nil {
		return nil, fmt.Errorf("config, router and planner are required")
	}
	if opts.Dispatcher == nil || opts.Builtins == nil || opts.Limiter == nil {
		return nil, fmt.Errorf("dispatcher, builtins and limiter are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	aliases := opts.Aliases
	if aliases == nil {
		aliases = config.DefaultAliases()
	}
	return &Pipeline{
		cfg:        opts.Config,
		router:     opts.Router,
		planner:    opts.Planner,
		dispatcher: opts.Dispatcher,
		builtins:   opts.Builtins,
		gate:       gate.New(),
		limiter:    opts.Limiter,
		store:      opts.Store,
		retriever:  opts.Retriever,
		adapters:   opts.Adapters,
		aliases:    aliases,
		logger:     logger,
	}, nil
}

// Handle processes one request. A returned error means no envelope was
// produced; the caller maps its code onto the transport.
func (p *Pipeline) Handle(ctx context.Context, req schema.Request) (*schema.ResponseEnvelope, error) {
	if ok, retryAfter := p.limiter.Admit(req.ClientKey); !ok {
		return nil, rateLimited(retryAfter)
	}

	decision, err := p.router.Classify(req.Text)
	if err != nil {
		var pe *router.ParseError
		if errors.As(err, &pe) {
			return nil, &Error{Code: CodeParse, Message: pe.Reason, Err: err}
		}
		return nil, &Error{Code: CodeInternal, Message: "classification failed", Err: err}
	}

	led := evidence.NewLedger(req.ID)

	plan, err := p.planner.Plan(decision)
	if err != nil {
		var perr *planner.PlanningError
		if errors.As(err, &perr) {
			return p.planningFailure(req, decision, led, perr), nil
		}
		return nil, &Error{Code: CodeInternal, Message: "planning failed", Err: err}
	}

	switch decision.Kind {
	case router.KindFastPath:
		return p.finalize(req, decision, schema.ModeFastPath, decision.Reply, led, nil, nil), nil
	case router.KindDirectTool:
		return p.handleTool(ctx, req, decision, plan, led), nil
	case router.KindBuiltIn:
		return p.handleBuiltin(ctx, req, decision, plan, led), nil
	case router.KindDelegate:
		return p.handleDelegate(ctx, req, decision, led)
	default:
		return nil, &Error{Code: CodeInternal, Message: fmt.Sprintf("unhandled decision kind %q", decision.Kind)}
	}
}

// planningFailure reports a plan that could not be built. Nothing executed,
// so the envelope still goes through the gate with an empty ledger.
func (p *Pipeline) planningFailure(req schema.Request, decision *router.Decision, led *evidence.Ledger, perr *planner.PlanningError) *schema.ResponseEnvelope {
	text := fmt.Sprintf("Cannot run %s: %s.", perr.Tool, perr.Reason)
	if perr.Field != "" {
		text = fmt.Sprintf("Cannot run %s: the required argument %q is missing.", perr.Tool, perr.Field)
	}
	return p.finalize(req, decision, schema.ModeTool, text, led, []schema.ErrorRecord{
		{Kind: "planning", Message: perr.Error(), Tool: perr.Tool},
	}, nil)
}

func (p *Pipeline) handleTool(ctx context.Context, req schema.Request, decision *router.Decision, plan *planner.Plan, led *evidence.Ledger) *schema.ResponseEnvelope {
	results := p.dispatcher.Run(ctx, plan.Invocations, led)

	var (
		lines   []string
		errRecs []schema.ErrorRecord
	)
	for _, res := range results {
		if res.Err != nil {
			errRecs = append(errRecs, schema.ErrorRecord{
				Kind:    errorKindFor(led, res.CallID),
				Message: res.Err.Error(),
				Tool:    res.Tool,
			})
			lines = append(lines, fmt.Sprintf("%s failed: %v", res.Tool, res.Err))
			continue
		}
		lines = append(lines, res.Output)
	}

	return p.finalize(req, decision, schema.ModeTool, strings.Join(lines, "\n"), led, errRecs, nil)
}

func (p *Pipeline) handleBuiltin(ctx context.Context, req schema.Request, decision *router.Decision, plan *planner.Plan, led *evidence.Ledger) *schema.ResponseEnvelope {
	fn, ok := p.builtins.Get(plan.Handler)
	if !ok {
		return p.finalize(req, decision, schema.ModeBuiltin, fmt.Sprintf("no handler named %q", plan.Handler), led, []schema.ErrorRecord{
			{Kind: "unknown_handler", Message: "no handler named " + plan.Handler},
		}, nil)
	}

	out, err := fn(ctx, led)
	if err != nil {
		return p.finalize(req, decision, schema.ModeBuiltin, "The requested check could not be completed.", led, []schema.ErrorRecord{
			{Kind: "builtin", Message: err.Error()},
		}, nil)
	}
	return p.finalize(req, decision, schema.ModeBuiltin, out, led, nil, nil)
}

func (p *Pipeline) handleDelegate(ctx context.Context, req schema.Request, decision *router.Decision, led *evidence.Ledger) (*schema.ResponseEnvelope, error) {
	key := cache.Fingerprint(decision.Query)

	if decision.Cacheable && p.store != nil {
		entry, hit, err := p.store.Get(ctx, key)
		if err != nil {
			p.logger.Warn("cache read failed", "error", err)
		} else if hit {
			env := entry.Envelope
			env.RequestID = req.ID
			env.CacheHit = true
			return &env, nil
		}
	}

	prompt := decision.Query
	var sources []string
	if p.retriever != nil {
		chunks, err := p.retriever.Query(ctx, decision.Query, p.cfg.RoutingConfig.Retrieval.TopK)
		if err != nil {
			p.logger.Warn("retrieval failed, answering without context", "error", err)
		} else if len(chunks) > 0 {
			prompt = buildGroundedPrompt(decision.Query, chunks)
			for _, chunk := range chunks {
				sources = append(sources, chunk.SourceID)
			}
		}
	}

	target := p.cfg.RoutingConfig.Delegate
	adp, ok := p.adapters[target.Adapter]
	if !ok || adp == nil {
		return nil, &Error{Code: CodeDelegate, Message: "delegate adapter not configured: " + target.Adapter}
	}
	model := p.aliases.Resolve(target.Model)

	resp, err := p.generateWithRetry(ctx, adp, model, prompt)
	if err != nil {
		return nil, &Error{Code: CodeDelegate, Message: "model call failed", Err: err}
	}

	env := p.finalize(req, decision, schema.ModeRAG, resp.Artifact.Content, led, nil, sources)

	if decision.Cacheable && p.store != nil && !env.HasErrors() {
		if err := p.store.Put(ctx, key, env); err != nil {
			p.logger.Warn("cache write failed", "error", err)
		}
	}
	return env, nil
}

// generateWithRetry retries transient adapter failures with doubling
// backoff, bounded by the routing retry config.
func (p *Pipeline) generateWithRetry(ctx context.Context, adp adapter.Adapter, model, prompt string) (*adapter.Response, error) {
	retry := p.cfg.RoutingConfig.Retry
	backoff := time.Duration(retry.BaseBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		resp, err := adp.Generate(ctx, model, prompt)
		if err == nil {
			if resp == nil || resp.Artifact == nil {
				return nil, fmt.Errorf("adapter %s returned empty response", adp.Name())
			}
			return resp, nil
		}
		lastErr = err
		if !adapter.ShouldRetry(err, attempt, retry.MaxRetries) {
			return nil, err
		}
		p.logger.Warn("delegate call failed, retrying", "adapter", adp.Name(), "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// finalize is the single exit: it runs the truth gate over the draft and
// assembles the envelope.
func (p *Pipeline) finalize(req schema.Request, decision *router.Decision, mode schema.Mode, draft string, led *evidence.Ledger, errRecs []schema.ErrorRecord, sources []string) *schema.ResponseEnvelope {
	outcome := p.gate.Validate(draft, led)

	return &schema.ResponseEnvelope{
		RequestID:  req.ID,
		Text:       outcome.Text,
		Mode:       mode,
		Route:      decision.Rule,
		Evidence:   led.Summaries(),
		Citations:  outcome.Citations,
		Errors:     errRecs,
		Validation: outcome.Result,
		Sources:    sources,
	}
}

func buildGroundedPrompt(query string, chunks []retrieval.Chunk) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using the context below. If the context does not cover it, say so.\n\nContext:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, chunk.Text)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}

func errorKindFor(led *evidence.Ledger, callID string) string {
	for _, call := range led.Calls() {
		if call.ID == callID {
			return call.ErrorKind
		}
	}
	return dispatch.ErrKindExecution
}

// Package runner drives the agent loop: it assembles the system prompt,
// calls the configured provider, executes requested tools through the
// registry, and feeds results back until the model produces a final
// answer. Dangerous tools suspend the turn until the user confirms or
// rejects them, and a per-turn loop detector stops runaway repetition.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/openclaw/claw/internal/agent/ai"
	"github.com/openclaw/claw/internal/agent/config"
	"github.com/openclaw/claw/internal/agent/session"
	"github.com/openclaw/claw/internal/agent/skills"
	"github.com/openclaw/claw/internal/agent/tools"
	"github.com/openclaw/claw/internal/logging"
)

const (
	// maxToolRounds caps provider calls per turn. Reaching it ends the
	// turn with a summary of every call made instead of another round.
	maxToolRounds = 15

	// maxRetriesPerTool is how many times a failed tool execution is
	// retried before its failure is recorded as the result.
	maxRetriesPerTool = 1

	// summaryResultLimit caps how much of each tool result is quoted in
	// loop-abort and truncation summaries.
	summaryResultLimit = 300
)

// TurnState describes where a turn ended up.
type TurnState string

const (
	TurnActive               TurnState = "active"
	TurnAwaitingConfirmation TurnState = "awaiting_confirmation"
	TurnDone                 TurnState = "done"
)

// Event types delivered to RunRequest.OnEvent while a turn runs.
const (
	EventRound           = "round"
	EventToolCall        = "tool_call"
	EventToolResult      = "tool_result"
	EventLoopWarning     = "loop_warning"
	EventConfirmRequired = "confirm_required"
	EventFinal           = "final"
)

// TurnEvent is one progress notification from a running turn.
type TurnEvent struct {
	Type      string         `json:"type"`
	TurnID    string         `json:"turnId,omitempty"`
	Round     int            `json:"round,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Result    string         `json:"result,omitempty"`
	Text      string         `json:"text,omitempty"`
	Dangerous bool           `json:"dangerous,omitempty"`
}

// PendingCall describes the dangerous invocation a suspended turn waits on.
type PendingCall struct {
	TurnID      string         `json:"turnId"`
	Tool        string         `json:"tool"`
	Description string         `json:"description"`
	Args        map[string]any `json:"args"`
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	TurnID  string       `json:"turnId"`
	State   TurnState    `json:"state"`
	Reply   string       `json:"reply,omitempty"`
	Pending *PendingCall `json:"pending,omitempty"`
}

// RunRequest describes one user turn.
type RunRequest struct {
	SessionKey  string          // session identifier ("default" if empty)
	Prompt      string          // user prompt
	System      string          // optional system prompt override
	AutoConfirm bool            // execute dangerous tools without suspending
	OnEvent     func(TurnEvent) // optional progress callback
}

// pendingTurn is the suspended state behind a confirmation request.
type pendingTurn struct {
	tool      string
	desc      string
	args      map[string]any
	callID    string
	sessionID string
}

// executedCall records one tool execution for end-of-turn summaries.
type executedCall struct {
	Name    string
	Args    map[string]any
	Result  string
	IsError bool
}

// Runner executes user turns against one provider, tool registry and
// skill loader. Suspended turns live in an in-memory registry keyed by
// turn ID until they are confirmed or rejected.
type Runner struct {
	cfg      *config.Config
	provider ai.Provider
	registry *tools.Registry
	loader   *skills.Loader
	sessions *session.Store

	mu      sync.Mutex
	pending map[string]*pendingTurn
}

// New creates a runner. The session store may be nil, in which case turns
// run without persistence.
func New(cfg *config.Config, provider ai.Provider, registry *tools.Registry, loader *skills.Loader, store *session.Store) *Runner {
	return &Runner{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		loader:   loader,
		sessions: store,
		pending:  make(map[string]*pendingTurn),
	}
}

// Run executes one user turn to completion, suspension or failure.
// Provider errors abort the turn and surface to the caller unretried;
// tool failures are retried once and then fed back to the model as data.
func (r *Runner) Run(ctx context.Context, req *RunRequest) (*TurnResult, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("no provider configured")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if req.SessionKey == "" {
		req.SessionKey = "default"
	}

	turnID := uuid.NewString()
	logging.Debugf("[runner] turn %s start session=%s", turnID, req.SessionKey)

	var sessionID string
	var conv []ai.Message
	if r.sessions != nil {
		sess, err := r.sessions.GetOrCreate(req.SessionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to open session: %w", err)
		}
		sessionID = sess.ID

		history, err := r.sessions.GetMessages(sessionID, r.maxContext())
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		for _, m := range history {
			if m.Content == "" {
				continue
			}
			if m.Role != ai.RoleUser && m.Role != ai.RoleAssistant {
				continue
			}
			conv = append(conv, ai.Message{Role: m.Role, Content: m.Content})
		}

		err = r.sessions.AppendMessage(sessionID, session.Message{
			SessionID: sessionID,
			Role:      "user",
			Content:   req.Prompt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save message: %w", err)
		}
	}
	conv = append(conv, ai.Message{Role: ai.RoleUser, Content: req.Prompt})

	systemPrompt := req.System
	if systemPrompt == "" {
		systemPrompt = BuildSystemPrompt(r.registry, r.loader)
	}

	detector := NewLoopDetector()
	detector.Reset()

	var executed []executedCall

	for round := 1; round <= maxToolRounds; round++ {
		emit(req.OnEvent, TurnEvent{Type: EventRound, TurnID: turnID, Round: round})

		resp, err := r.provider.Call(ctx, &ai.ChatRequest{
			Messages: conv,
			Tools:    r.registry.Schemas(),
			System:   systemPrompt,
		})
		if err != nil {
			logging.Errorf("[runner] provider %s failed: %v", r.provider.ID(), err)
			return nil, fmt.Errorf("provider %s: %w", r.provider.ID(), err)
		}

		r.persist(ctx, sessionID, session.Message{
			SessionID: sessionID,
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: session.MarshalToolCalls(toSessionCalls(resp.ToolCalls)),
		})

		if len(resp.ToolCalls) == 0 {
			logging.Debugf("[runner] turn %s final after %d round(s)", turnID, round)
			emit(req.OnEvent, TurnEvent{Type: EventFinal, TurnID: turnID, Text: resp.Content})
			return &TurnResult{TurnID: turnID, State: TurnDone, Reply: resp.Content}, nil
		}

		if resp.Content != "" {
			conv = append(conv, ai.Message{Role: ai.RoleAssistant, Content: resp.Content})
		}

		var roundExec []executedCall
		var roundResults []session.ToolResult

		for _, call := range resp.ToolCalls {
			args := decodeArgs(call.Input)

			verdict := detector.Record(call.Name, args)
			if verdict.Blocked {
				logging.Warnf("[runner] turn %s loop blocked: %s", turnID, verdict.Message)
				reply := loopAbortMessage(verdict.Message, executed)
				r.persistRoundResults(ctx, sessionID, roundExec, roundResults)
				r.persist(ctx, sessionID, session.Message{
					SessionID: sessionID,
					Role:      "assistant",
					Content:   reply,
				})
				emit(req.OnEvent, TurnEvent{Type: EventFinal, TurnID: turnID, Text: reply})
				return &TurnResult{TurnID: turnID, State: TurnDone, Reply: reply}, nil
			}
			if verdict.Warning {
				logging.Warnf("[runner] turn %s loop warning: %s", turnID, verdict.Message)
				emit(req.OnEvent, TurnEvent{Type: EventLoopWarning, TurnID: turnID, Text: verdict.Message})
			}

			tool, known := r.registry.Find(call.Name)
			dangerous := known && tool.Dangerous
			emit(req.OnEvent, TurnEvent{Type: EventToolCall, TurnID: turnID, Round: round, Tool: call.Name, Args: args, Dangerous: dangerous})

			if dangerous && !req.AutoConfirm {
				// Remaining calls in this round are dropped; nothing else
				// runs until the user confirms or rejects.
				pend := &PendingCall{
					TurnID:      turnID,
					Tool:        call.Name,
					Description: tool.Description,
					Args:        args,
				}
				r.mu.Lock()
				r.pending[turnID] = &pendingTurn{
					tool:      call.Name,
					desc:      tool.Description,
					args:      args,
					callID:    call.ID,
					sessionID: sessionID,
				}
				r.mu.Unlock()

				r.persistRoundResults(ctx, sessionID, roundExec, roundResults)
				logging.Infof("[runner] turn %s awaiting confirmation for %s", turnID, call.Name)
				emit(req.OnEvent, TurnEvent{
					Type:      EventConfirmRequired,
					TurnID:    turnID,
					Tool:      call.Name,
					Args:      args,
					Text:      tool.Description,
					Dangerous: true,
				})
				return &TurnResult{TurnID: turnID, State: TurnAwaitingConfirmation, Pending: pend}, nil
			}

			res := r.executeWithRetry(ctx, call.Name, args)
			record := executedCall{Name: call.Name, Args: args, Result: res.Result, IsError: res.IsError}
			roundExec = append(roundExec, record)
			executed = append(executed, record)
			roundResults = append(roundResults, session.ToolResult{
				ToolCallID: call.ID,
				Content:    res.Result,
				IsError:    res.IsError,
			})
			emit(req.OnEvent, TurnEvent{Type: EventToolResult, TurnID: turnID, Round: round, Tool: call.Name, Result: res.Result})
		}

		// Feed the round's results back as a synthetic user message and
		// let the model judge whether the task is complete.
		feedback := renderRoundResults(roundExec)
		conv = append(conv, ai.Message{Role: ai.RoleUser, Content: feedback})
		r.persist(ctx, sessionID, session.Message{
			SessionID:   sessionID,
			Role:        "user",
			Content:     feedback,
			ToolResults: session.MarshalToolResults(roundResults),
		})
	}

	logging.Warnf("[runner] turn %s hit the %d-round cap", turnID, maxToolRounds)
	reply := truncationSummary(executed)
	r.persist(ctx, sessionID, session.Message{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   reply,
	})
	emit(req.OnEvent, TurnEvent{Type: EventFinal, TurnID: turnID, Text: reply})
	return &TurnResult{TurnID: turnID, State: TurnDone, Reply: reply}, nil
}

// Confirm executes the single pending dangerous call of a suspended turn
// and settles the turn with its result. It never re-enters the loop: the
// tool runs exactly once, unretried, and any follow-up work belongs to a
// new user turn.
func (r *Runner) Confirm(ctx context.Context, turnID string) (*TurnResult, error) {
	pend, ok := r.takePending(turnID)
	if !ok {
		return nil, fmt.Errorf("no pending turn %q", turnID)
	}

	logging.Infof("[runner] turn %s confirmed, executing %s", turnID, pend.tool)
	res := r.registry.Execute(ctx, pend.tool, pend.args)

	r.persist(ctx, pend.sessionID, session.Message{
		SessionID: pend.sessionID,
		Role:      "assistant",
		Content:   res.Result,
		ToolResults: session.MarshalToolResults([]session.ToolResult{{
			ToolCallID: pend.callID,
			Content:    res.Result,
			IsError:    res.IsError,
		}}),
	})
	return &TurnResult{TurnID: turnID, State: TurnDone, Reply: res.Result}, nil
}

// Reject discards the pending dangerous call of a suspended turn and
// settles the turn with a declined notice. The tool never runs.
func (r *Runner) Reject(turnID string) (*TurnResult, error) {
	pend, ok := r.takePending(turnID)
	if !ok {
		return nil, fmt.Errorf("no pending turn %q", turnID)
	}

	logging.Infof("[runner] turn %s rejected, %s was not run", turnID, pend.tool)
	reply := fmt.Sprintf("Declined: %s was not run.", pend.tool)
	r.persist(context.Background(), pend.sessionID, session.Message{
		SessionID: pend.sessionID,
		Role:      "assistant",
		Content:   reply,
	})
	return &TurnResult{TurnID: turnID, State: TurnDone, Reply: reply}, nil
}

// Pending returns the confirmation payload of a suspended turn, if any.
func (r *Runner) Pending(turnID string) (*PendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pend, ok := r.pending[turnID]
	if !ok {
		return nil, false
	}
	return &PendingCall{
		TurnID:      turnID,
		Tool:        pend.tool,
		Description: pend.desc,
		Args:        pend.args,
	}, true
}

// Chat sends a single prompt with no tools and no session, returning the text.
func (r *Runner) Chat(ctx context.Context, prompt string) (string, error) {
	if r.provider == nil {
		return "", fmt.Errorf("no provider configured")
	}
	resp, err := r.provider.Call(ctx, &ai.ChatRequest{
		Messages: []ai.Message{{Role: ai.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// takePending removes and returns a suspended turn. Removal happens before
// execution so a turn can never be confirmed twice.
func (r *Runner) takePending(turnID string) (*pendingTurn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pend, ok := r.pending[turnID]
	if ok {
		delete(r.pending, turnID)
	}
	return pend, ok
}

// executeWithRetry runs a tool, retrying a failed execution once. Unknown
// tool names are not retried: the result text already tells the model the
// tool does not exist, and a second lookup cannot change that.
func (r *Runner) executeWithRetry(ctx context.Context, name string, args map[string]any) tools.ExecResult {
	res := r.registry.Execute(ctx, name, args)
	if !res.IsError {
		return res
	}
	if _, known := r.registry.Find(name); !known {
		return res
	}
	for attempt := 0; attempt < maxRetriesPerTool; attempt++ {
		logging.Warnf("[runner] retrying tool %s after failure", name)
		res = r.registry.Execute(ctx, name, args)
		if !res.IsError {
			return res
		}
	}
	return res
}

// persist writes a message unless the turn was abandoned. Results from a
// cancelled turn are discarded so later turns never see partial state.
func (r *Runner) persist(ctx context.Context, sessionID string, msg session.Message) {
	if r.sessions == nil || sessionID == "" {
		return
	}
	if ctx.Err() != nil {
		logging.Debugf("[runner] turn cancelled, discarding %s message", msg.Role)
		return
	}
	if err := r.sessions.AppendMessage(sessionID, msg); err != nil {
		logging.Errorf("[runner] failed to persist %s message: %v", msg.Role, err)
	}
}

// persistRoundResults saves a partial round's tool results when a turn
// stops mid-round (loop block or confirmation suspension).
func (r *Runner) persistRoundResults(ctx context.Context, sessionID string, roundExec []executedCall, results []session.ToolResult) {
	if len(results) == 0 {
		return
	}
	r.persist(ctx, sessionID, session.Message{
		SessionID:   sessionID,
		Role:        "user",
		Content:     renderRoundResults(roundExec),
		ToolResults: session.MarshalToolResults(results),
	})
}

func (r *Runner) maxContext() int {
	if r.cfg != nil && r.cfg.MaxContext > 0 {
		return r.cfg.MaxContext
	}
	return 50
}

func emit(fn func(TurnEvent), ev TurnEvent) {
	if fn != nil {
		fn(ev)
	}
}

// decodeArgs parses a tool call's argument JSON. Anything unparseable
// degrades to an empty argument map; validation then reports the missing
// fields as a tool failure instead of crashing the loop.
func decodeArgs(input json.RawMessage) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func toSessionCalls(calls []ai.ToolCall) []session.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]session.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = session.ToolCall{ID: c.ID, Name: c.Name, Input: c.Input}
	}
	return out
}

// renderRoundResults builds the synthetic user message that feeds one
// round's tool results back to the model.
func renderRoundResults(round []executedCall) string {
	var b strings.Builder
	b.WriteString("Tool results:\n")
	for _, call := range round {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", call.Name, call.Result)
	}
	b.WriteString("\nIf the task is complete, answer the user directly without calling more tools. Otherwise continue.")
	return b.String()
}

// loopAbortMessage is the turn's final reply after the loop detector
// blocks it, summarizing everything gathered before the stop.
func loopAbortMessage(reason string, executed []executedCall) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stopping this turn: %s.\n", reason)
	if len(executed) == 0 {
		b.WriteString("\nNo tool results were gathered before stopping.")
		return b.String()
	}
	b.WriteString("\nResults gathered before stopping:\n")
	for _, call := range executed {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", call.Name, truncateForSummary(call.Result))
	}
	return b.String()
}

// truncationSummary is the turn's final reply when the round cap is hit,
// enumerating every tool call made this turn.
func truncationSummary(executed []executedCall) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reached the maximum of %d tool rounds without a final answer. Tool calls made this turn:\n", maxToolRounds)
	for i, call := range executed {
		status := "ok"
		if call.IsError {
			status = "failed"
		}
		fmt.Fprintf(&b, "%d. %s(%s) [%s]\n", i+1, call.Name, compactArgs(call.Args), status)
	}
	return b.String()
}

func truncateForSummary(s string) string {
	if len(s) <= summaryResultLimit {
		return s
	}
	return s[:summaryResultLimit] + "..."
}

// compactArgs renders an argument map as short JSON for summaries.
func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	s := string(data)
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}

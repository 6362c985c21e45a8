package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agusx1211/liteagent/internal/debug"
	"github.com/agusx1211/liteagent/pkg/logs"
)

// maxFrameSize bounds a single protocol line read from the child.
const maxFrameSize = 1024 * 1024 // 1 MB

// interruptTimeout bounds the best-effort interrupt sent when the peer's
// cancellation channel fires.
const interruptTimeout = 2 * time.Second

// PeerConfig wires a Peer to its collaborators.
type PeerConfig struct {
	// AgentType tags protocol events appended to the store.
	AgentType string

	// Store receives protocol-level events (violations, shutdown notes).
	Store *logs.Store

	// Approvals resolves can_use_tool escalations. Nil denies everything.
	Approvals ApprovalService

	// Hooks resolves hook_callback escalations. Nil installs the default
	// registry: auto_approve answers allow; tool_approval bridges to
	// Approvals.
	Hooks HookHandler

	// OnPassthrough receives every non-control line (including the terminal
	// result frame) for the binding's normalization stage. Must not block
	// for long; it runs on the read task.
	OnPassthrough func(line []byte)

	// Cancel, when it fires, makes the peer attempt a bounded-time interrupt
	// and then close the child's stdin.
	Cancel <-chan struct{}
}

type pendingResult struct {
	resp Response
	err  error
}

// Peer is the bidirectional control-protocol endpoint over a child's stdio.
//
// One goroutine owns the read side and dispatches inbound frames; each
// child-initiated request is handled on its own goroutine so a slow approval
// never blocks the stream. All writes to the child's stdin are serialized by
// a single mutex so each frame is emitted atomically.
type Peer struct {
	cfg    PeerConfig
	stdin  io.WriteCloser
	stdout io.Reader

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan pendingResult

	handlers sync.WaitGroup

	stdinOnce sync.Once
	done      chan struct{}
	readErr   error
}

// NewPeer creates a peer over the child's stdio and starts its read task.
func NewPeer(stdin io.WriteCloser, stdout io.Reader, cfg PeerConfig) *Peer {
	p := &Peer{
		cfg:     cfg,
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[string]chan pendingResult),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	if cfg.Cancel != nil {
		go p.watchCancel()
	}
	return p
}

// Initialize sends the initialize control request carrying the hook map and
// awaits the child's acknowledgement.
func (p *Peer) Initialize(ctx context.Context, hooks HookConfig) error {
	resp, err := p.sendRequest(ctx, Envelope{
		Type:    TypeControlRequest,
		Subtype: SubtypeInitialize,
		Hooks:   hooks,
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errorf(ErrMalformedFrame, "initialize rejected: %s", resp.Error)
	}
	return nil
}

// SetPermissionMode sends a set_permission_mode control request.
func (p *Peer) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	resp, err := p.sendRequest(ctx, Envelope{
		Type:    TypeControlRequest,
		Subtype: SubtypeSetPermissionMode,
		Mode:    mode,
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errorf(ErrMalformedFrame, "set_permission_mode rejected: %s", resp.Error)
	}
	return nil
}

// Interrupt sends an interrupt control request and awaits its response.
func (p *Peer) Interrupt(ctx context.Context) error {
	_, err := p.sendRequest(ctx, Envelope{
		Type:    TypeControlRequest,
		Subtype: SubtypeInterrupt,
	})
	return err
}

// SendUserMessage sends a non-control user turn.
func (p *Peer) SendUserMessage(content string) error {
	return p.writeLine(UserMessage(content))
}

// Done is closed when the read task has terminated.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns the read task's terminal error, if any. Valid after Done.
func (p *Peer) Err() error {
	return p.readErr
}

// Shutdown closes the child's stdin and waits for the read task and any
// in-flight handlers to finish, bounded by ctx.
func (p *Peer) Shutdown(ctx context.Context) error {
	p.closeStdin()

	finished := make(chan struct{})
	go func() {
		<-p.done
		p.handlers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return p.readErr
	case <-ctx.Done():
		return errorf(ErrIo, "shutdown: %v", ctx.Err())
	}
}

// sendRequest writes a control request with a fresh request id and blocks
// until the matching control_response arrives, the context expires, or the
// read task terminates.
func (p *Peer) sendRequest(ctx context.Context, env Envelope) (Response, error) {
	select {
	case <-p.done:
		return Response{}, ErrClosed
	default:
	}

	env.RequestID = uuid.NewString()
	ch := make(chan pendingResult, 1)

	p.pendingMu.Lock()
	p.pending[env.RequestID] = ch
	p.pendingMu.Unlock()

	debug.LogKV("peer", "control request", "request_id", env.RequestID, "subtype", env.Subtype)

	if err := p.writeLine(env); err != nil {
		p.unregister(env.RequestID)
		return Response{}, err
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		p.unregister(env.RequestID)
		return Response{}, errorf(ErrIo, "%s: %v", env.Subtype, ctx.Err())
	case <-p.done:
		p.unregister(env.RequestID)
		return Response{}, ErrClosed
	}
}

func (p *Peer) unregister(requestID string) {
	p.pendingMu.Lock()
	delete(p.pending, requestID)
	p.pendingMu.Unlock()
}

// writeLine marshals env and emits it atomically: one JSON object plus its
// newline terminator per critical section.
func (p *Peer) writeLine(env Envelope) error {
	line, err := EncodeLine(env)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(line); err != nil {
		return &Error{Kind: ErrIo, Detail: "write frame", Err: err}
	}
	return nil
}

func (p *Peer) closeStdin() {
	p.stdinOnce.Do(func() {
		p.stdin.Close()
	})
}

// readLoop dispatches inbound frames until the terminal result frame,
// end-of-stream, or a framing violation.
func (p *Peer) readLoop() {
	defer func() {
		p.failPending()
		close(p.done)
	}()

	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw := make([]byte, len(line))
		copy(raw, line)

		env, err := DecodeLine(raw)
		if err != nil || env.Type == "" {
			// Not a recognizable frame: let the normalization stage decide
			// what it is.
			p.passthrough(raw)
			continue
		}

		switch env.Type {
		case TypeControlRequest:
			p.dispatchRequest(env)
		case TypeControlResponse:
			p.resolveResponse(env)
		case TypeResult:
			// Terminal frame: surface it to normalization, then stop.
			p.passthrough(raw)
			debug.LogKV("peer", "result frame, read task stopping")
			return
		default:
			p.passthrough(raw)
		}
	}

	if err := scanner.Err(); err != nil {
		p.readErr = &Error{Kind: ErrMalformedFrame, Detail: "read frame", Err: err}
		if p.cfg.Store != nil {
			p.cfg.Store.AddError(logs.ErrorKindProtocol, p.readErr.Error(), p.cfg.AgentType)
		}
	}
}

func (p *Peer) passthrough(raw []byte) {
	if p.cfg.OnPassthrough != nil {
		p.cfg.OnPassthrough(raw)
	}
}

// failPending resolves every in-flight request with ConnectionClosed.
func (p *Peer) failPending() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for id, ch := range p.pending {
		ch <- pendingResult{err: ErrClosed}
		delete(p.pending, id)
	}
}

// resolveResponse completes the pending request registered under the frame's
// request id. An unmatched id is a protocol violation; it is logged and the
// stream continues.
func (p *Peer) resolveResponse(env Envelope) {
	p.pendingMu.Lock()
	ch, ok := p.pending[env.RequestID]
	if ok {
		delete(p.pending, env.RequestID)
	}
	p.pendingMu.Unlock()

	if !ok {
		debug.LogKV("peer", "unmatched control response", "request_id", env.RequestID)
		if p.cfg.Store != nil {
			p.cfg.Store.AddError(logs.ErrorKindProtocol,
				"unmatched control response: "+env.RequestID, p.cfg.AgentType)
		}
		return
	}

	var resp Response
	if env.Response != nil {
		resp = *env.Response
	}
	ch <- pendingResult{resp: resp}
}

// dispatchRequest hands a child-initiated request to the matching handler on
// its own goroutine. The read loop never blocks on a handler; handlers for
// distinct requests run concurrently and respond in completion order.
func (p *Peer) dispatchRequest(env Envelope) {
	p.handlers.Add(1)
	go func() {
		defer p.handlers.Done()

		ctx := context.Background()
		var resp Response
		switch env.Subtype {
		case SubtypeCanUseTool:
			resp = p.handleToolApproval(ctx, ApprovalRequest{
				ToolName:              env.ToolName,
				Input:                 env.Input,
				PermissionSuggestions: env.PermissionSuggestions,
				ToolUseID:             env.ToolUseID,
			})
		case SubtypeHookCallback:
			resp = p.handleHookCallback(ctx, HookCallback{
				CallbackID: env.CallbackID,
				Input:      env.Input,
				ToolUseID:  env.ToolUseID,
			})
		default:
			debug.LogKV("peer", "unknown control request subtype", "subtype", env.Subtype, "request_id", env.RequestID)
			resp = Response{Subtype: "error", Error: "unknown control request subtype: " + env.Subtype}
		}

		reply := Envelope{
			Type:      TypeControlResponse,
			RequestID: env.RequestID,
			Response:  &resp,
		}
		if err := p.writeLine(reply); err != nil {
			debug.LogKV("peer", "control response write failed", "request_id", env.RequestID, "error", err)
		}
	}()
}

func (p *Peer) handleToolApproval(ctx context.Context, req ApprovalRequest) Response {
	if p.cfg.Approvals == nil {
		return Response{Behavior: BehaviorDeny, Message: "no approval service configured"}
	}
	decision, err := p.cfg.Approvals.ApproveTool(ctx, req)
	if err != nil {
		if p.cfg.Store != nil {
			p.cfg.Store.AddError(logs.ErrorKindApproval,
				"approval handler failed for "+req.ToolName+": "+err.Error(), p.cfg.AgentType)
		}
		return Response{Subtype: "error", Error: err.Error()}
	}
	return decisionResponse(decision)
}

func (p *Peer) handleHookCallback(ctx context.Context, cb HookCallback) Response {
	if p.cfg.Hooks != nil {
		data, err := p.cfg.Hooks.HandleHook(ctx, cb)
		if err != nil {
			if p.cfg.Store != nil {
				p.cfg.Store.AddError(logs.ErrorKindApproval,
					"hook handler failed for "+cb.CallbackID+": "+err.Error(), p.cfg.AgentType)
			}
			return Response{Subtype: "error", Error: err.Error()}
		}
		return Response{Subtype: "success", Data: data}
	}

	// Default registry: the auto-approve sentinel short-circuits; the
	// tool_approval id bridges the hook payload to the approval service.
	switch cb.CallbackID {
	case CallbackAutoApprove:
		return Response{Behavior: BehaviorAllow, UpdatedInput: hookToolInput(cb.Input)}
	case CallbackToolApproval:
		return p.handleToolApproval(ctx, hookApprovalRequest(cb))
	default:
		return Response{Subtype: "error", Error: "unknown hook callback id: " + cb.CallbackID}
	}
}

// hookApprovalRequest extracts the tool escalation embedded in a PreToolUse
// hook payload.
func hookApprovalRequest(cb HookCallback) ApprovalRequest {
	var payload struct {
		ToolName  string          `json:"tool_name"`
		ToolInput json.RawMessage `json:"tool_input"`
	}
	_ = json.Unmarshal(cb.Input, &payload)
	input := payload.ToolInput
	if input == nil {
		input = cb.Input
	}
	return ApprovalRequest{
		ToolName:  payload.ToolName,
		Input:     input,
		ToolUseID: cb.ToolUseID,
	}
}

func hookToolInput(input json.RawMessage) json.RawMessage {
	var payload struct {
		ToolInput json.RawMessage `json:"tool_input"`
	}
	if json.Unmarshal(input, &payload) == nil && payload.ToolInput != nil {
		return payload.ToolInput
	}
	return input
}

func decisionResponse(decision ApprovalDecision) Response {
	return Response{
		Behavior:           decision.Behavior,
		UpdatedInput:       decision.UpdatedInput,
		UpdatedPermissions: decision.UpdatedPermissions,
		Message:            decision.Message,
		Interrupt:          decision.Interrupt,
	}
}

// watchCancel reacts to the one-shot cancellation channel: a bounded
// best-effort interrupt, then stdin is closed so the child winds down and
// the read task sees end-of-stream.
func (p *Peer) watchCancel() {
	select {
	case <-p.cfg.Cancel:
	case <-p.done:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interruptTimeout)
	defer cancel()
	if err := p.Interrupt(ctx); err != nil {
		debug.LogKV("peer", "cancel interrupt failed", "error", err)
	}
	p.closeStdin()
}

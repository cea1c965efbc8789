// Package relay correlates provider calls (code execution, AI queries) with
// the single connection that issued them. Calls run on their own goroutines,
// off the room broadcast path, and their outcome is unicast back to the
// origin connection only — or discarded if that connection is gone.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/provider"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/state"
	"github.com/google/uuid"
)

// RequestKind distinguishes what a pending entry is waiting on.
type RequestKind string

const (
	KindExecution RequestKind = "execution"
	KindAI        RequestKind = "ai"
)

// Sender is the unicast primitive the relay delivers responses through.
// The event router implements it.
type Sender interface {
	SendToConnection(connID uuid.UUID, event string, payload any) error
}

// ExecutionResponse is the payload of the run-response event.
type ExecutionResponse struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compileOutput"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// AIResponse is the payload of the ai-response event. Errors are folded
// into the response string; the client renders whatever arrives.
type AIResponse struct {
	Response string `json:"response"`
}

type pendingRequest struct {
	origin    uuid.UUID
	kind      RequestKind
	startedAt time.Time
}

type Relay struct {
	logger *slog.Logger
	state  state.Manager
	exec   provider.CodeExecutor
	ai     provider.TextGenerator
	sender Sender

	mu      sync.Mutex
	pending map[uuid.UUID]pendingRequest
}

func New(logger *slog.Logger, stateManager state.Manager, exec provider.CodeExecutor, ai provider.TextGenerator, sender Sender) *Relay {
	return &Relay{
		logger:  logger.With(slog.String("component", "request_relay")),
		state:   stateManager,
		exec:    exec,
		ai:      ai,
		sender:  sender,
		pending: make(map[uuid.UUID]pendingRequest),
	}
}

// PendingCount reports how many provider calls are currently in flight.
func (r *Relay) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// SubmitExecution runs the code-execution call for connID and unicasts a
// run-response back to it. Fire-and-forget for the caller.
func (r *Relay) SubmitExecution(connID uuid.UUID, req provider.ExecutionRequest) {
	conn, ok := r.state.GetConnection(connID)
	if !ok {
		r.logger.Warn("Execution request from unknown connection", slog.String("connID", connID.String()))
		return
	}
	correlationID := r.track(connID, KindExecution)

	go func() {
		defer r.untrack(correlationID)

		// Tie the provider call to the origin connection's lifetime: if
		// the client disconnects mid-poll, the call is cancelled instead
		// of computing a result nobody will receive.
		result, err := r.exec.Execute(conn.Transport.Context(), req)

		var payload ExecutionResponse
		switch {
		case err == nil:
			payload = ExecutionResponse{
				Stdout:        result.Stdout,
				Stderr:        result.Stderr,
				CompileOutput: result.CompileOutput,
				Status:        result.Status,
			}
		case errors.Is(err, provider.ErrTimeout):
			payload = ExecutionResponse{
				Status: "Timeout",
				Error:  "Timed out waiting for execution results.",
			}
		case errors.Is(err, context.Canceled):
			// Origin is gone; nothing to deliver.
			return
		default:
			r.logger.Warn("Execution provider failed", slog.Any("error", err))
			payload = ExecutionResponse{
				Status: "Error",
				Error:  "Code execution failed. Please try again.",
			}
		}
		r.deliver(connID, "run-response", payload)
	}()
}

// SubmitAIQuery runs the AI call for connID and unicasts an ai-response
// back to it. Provider failures become a user-visible message rather than
// an error that could disturb the connection or its room.
func (r *Relay) SubmitAIQuery(connID uuid.UUID, req provider.AIRequest) {
	conn, ok := r.state.GetConnection(connID)
	if !ok {
		r.logger.Warn("AI request from unknown connection", slog.String("connID", connID.String()))
		return
	}
	correlationID := r.track(connID, KindAI)

	go func() {
		defer r.untrack(correlationID)

		answer, err := r.ai.Generate(conn.Transport.Context(), req)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			return
		default:
			r.logger.Warn("AI provider failed", slog.Any("error", err))
			answer = "Sorry, the AI assistant is unavailable right now."
		}
		r.deliver(connID, "ai-response", AIResponse{Response: answer})
	}()
}

// Execute is the synchronous form used by the HTTP run-code route. No
// correlation is needed; the caller is blocked on the answer.
func (r *Relay) Execute(ctx context.Context, req provider.ExecutionRequest) (*provider.ExecutionResult, error) {
	return r.exec.Execute(ctx, req)
}

func (r *Relay) track(origin uuid.UUID, kind RequestKind) uuid.UUID {
	correlationID := uuid.New()
	r.mu.Lock()
	r.pending[correlationID] = pendingRequest{origin: origin, kind: kind, startedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Debug("Provider request dispatched",
		slog.String("correlationID", correlationID.String()),
		slog.String("origin", origin.String()),
		slog.String("kind", string(kind)),
	)
	return correlationID
}

func (r *Relay) untrack(correlationID uuid.UUID) {
	r.mu.Lock()
	delete(r.pending, correlationID)
	r.mu.Unlock()
}

// deliver unicasts to the origin if it is still registered; a response for
// a connection that disconnected while the provider worked is dropped.
func (r *Relay) deliver(connID uuid.UUID, event string, payload any) {
	if _, ok := r.state.GetConnection(connID); !ok {
		r.logger.Debug("Discarding provider response for departed connection",
			slog.String("connID", connID.String()),
			slog.String("event", event),
		)
		return
	}
	if err := r.sender.SendToConnection(connID, event, payload); err != nil {
		r.logger.Warn("Failed to deliver provider response", slog.Any("error", err))
	}
}

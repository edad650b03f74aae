// Package control implements the update message protocol between the
// configuration surface and a running engine.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"feedfilter/internal/engine"
	"feedfilter/internal/model"
)

var (
	// ErrUnknownAction is returned for messages with an unrecognized action.
	ErrUnknownAction = errors.New("unknown action")
	// ErrNotReady is returned when no engine is attached yet.
	ErrNotReady = errors.New("engine not ready")
)

// Message actions.
const (
	ActionUpdateFilters  = "updateFilters"
	ActionGetStats       = "getStats"
	ActionGetDiagnostics = "getDiagnostics"
	ActionToggleMarker   = "toggleMarker"
	ActionCollapseMarker = "collapseMarker"
)

// Message is one inbound update or query.
type Message struct {
	Action     string                 `json:"action"`
	Filters    []model.Rule           `json:"filters,omitempty"`
	Exceptions *model.ExemptionConfig `json:"exceptions,omitempty"`
	MarkerID   string                 `json:"markerId,omitempty"`
}

// Response acknowledges a Message. Stats fields appear at the top level.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	*model.Stats
	Diagnostics []engine.Diagnostic `json:"diagnostics,omitempty"`
	Revealed    *bool               `json:"revealed,omitempty"`
}

// Engine is the part of engine.Engine the protocol drives.
type Engine interface {
	ApplyRuleSet(ctx context.Context, rs model.RuleSet) engine.Result
	Stats() model.Stats
	Diagnose() []engine.Diagnostic
	Toggle(markerID string) (bool, error)
	Collapse(markerID string) error
}

// Handler dispatches messages to the attached engine.
type Handler struct {
	mu     sync.RWMutex
	engine Engine
	log    *slog.Logger
}

// NewHandler creates a Handler with no engine attached.
func NewHandler(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// Attach makes e the target of subsequent messages.
func (h *Handler) Attach(e Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = e
}

// Handle processes msg.
func (h *Handler) Handle(ctx context.Context, msg Message) (Response, error) {
	h.mu.RLock()
	e := h.engine
	h.mu.RUnlock()
	if e == nil {
		return Response{}, fmt.Errorf("%s: %w", msg.Action, ErrNotReady)
	}

	switch msg.Action {
	case ActionUpdateFilters:
		var ex model.ExemptionConfig
		if msg.Exceptions != nil {
			ex = *msg.Exceptions
		}
		res := e.ApplyRuleSet(ctx, model.NewRuleSet(msg.Filters, ex))
		h.log.Debug("filters updated", "rules", len(msg.Filters), "hidden", res.Hidden)
		return Response{Success: true}, nil

	case ActionGetStats:
		stats := e.Stats()
		return Response{Success: true, Stats: &stats}, nil

	case ActionGetDiagnostics:
		return Response{Success: true, Diagnostics: e.Diagnose()}, nil

	case ActionToggleMarker:
		revealed, err := e.Toggle(msg.MarkerID)
		if err != nil {
			return Response{}, err
		}
		return Response{Success: true, Revealed: &revealed}, nil

	case ActionCollapseMarker:
		if err := e.Collapse(msg.MarkerID); err != nil {
			return Response{}, err
		}
		return Response{Success: true}, nil

	default:
		return Response{}, fmt.Errorf("%q: %w", msg.Action, ErrUnknownAction)
	}
}

// HandleJSON decodes a message, handles it and encodes the response.
// Failures are reported inside the response.
func (h *Handler) HandleJSON(ctx context.Context, data []byte) []byte {
	var msg Message
	resp := Response{}
	if err := json.Unmarshal(data, &msg); err != nil {
		resp.Error = fmt.Sprintf("decode message: %v", err)
	} else if r, err := h.Handle(ctx, msg); err != nil {
		resp.Error = err.Error()
	} else {
		resp = r
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"success":false,"error":"encode response"}`)
	}
	return out
}

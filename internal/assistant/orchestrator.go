// Package assistant answers inbound chat messages: it authorizes the sender,
// intercepts chat commands, resolves the sender's persona and tools, routes
// the request to a model and runs at most one round of tool calling.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopops/internal/llm"
	"shopops/internal/logging"
	"shopops/internal/metrics"
	"shopops/internal/tools"
	"shopops/internal/types"
)

// Canned replies.
const (
	ToolUnavailableReply = "Lo siento, esa herramienta no esta disponible en este momento."
	FallbackReply        = "Lo siento, tuve un problema al procesar tu solicitud. Intenta de nuevo en unos minutos."
)

// slowTurn is how long a turn may take before it is logged as a warning.
const slowTurn = 20 * time.Second

// Options configures an Orchestrator.
type Options struct {
	// Shop names the business in the identity block.
	Shop         string
	Admins       []string
	EconomyModel string
	PremiumModel string
	Metrics      *metrics.Recorder
}

// Orchestrator handles one inbound message at a time per call; calls may run
// concurrently.
type Orchestrator struct {
	gate        *Gate
	interceptor *Interceptor
	resolver    *Resolver
	router      *Router
	model       llm.Model
	registry    *tools.Registry
	shop        string
	metrics     *metrics.Recorder
}

// New wires an orchestrator.
func New(store Store, model llm.Model, registry *tools.Registry, opts Options) *Orchestrator {
	if opts.Shop == "" {
		opts.Shop = "el taller"
	}
	resolver := NewResolver(store, registry)
	return &Orchestrator{
		gate:        NewGate(store, opts.Admins),
		interceptor: NewInterceptor(store, resolver),
		resolver:    resolver,
		router:      NewRouter(opts.EconomyModel, opts.PremiumModel),
		model:       model,
		registry:    registry,
		shop:        opts.Shop,
		metrics:     opts.Metrics,
	}
}

// Router exposes the model router so callers can pin the draw.
func (o *Orchestrator) Router() *Router {
	return o.router
}

// Handle answers in. The boolean is false when the sender is not authorized;
// no reply must be sent then. Otherwise the reply is never nil: failures come
// back as a reply with nil Text and an Error description.
func (o *Orchestrator) Handle(ctx context.Context, in types.Inbound) (reply *types.Reply, ok bool) {
	key := NormalizeSender(in.From)
	if !o.gate.Allowed(ctx, key) {
		logging.AssistantDebug("Dropping message from unauthorized sender %s", in.From)
		o.metrics.AssistantTurn("denied")
		return nil, false
	}

	if cmd, isCmd := ParseCommand(in.Text); isCmd {
		o.metrics.AssistantTurn("command")
		return o.interceptor.Run(ctx, key, cmd), true
	}

	defer func() {
		if r := recover(); r != nil {
			logging.AssistantError("Turn for %s panicked: %v", key, r)
			o.metrics.AssistantTurn("error")
			reply, ok = &types.Reply{Error: fmt.Sprintf("panic: %v", r)}, true
		}
	}()

	timer := logging.StartTimer(logging.CategoryAssistant, "turn "+key)
	defer timer.StopWithThreshold(slowTurn)

	reply, err := o.converse(ctx, key, in)
	if err != nil {
		logging.WithRequestID(logging.CategoryAssistant, key).Error("Turn failed: %v", err)
		o.metrics.AssistantTurn("error")
		return &types.Reply{Error: err.Error()}, true
	}
	outcome := "reply"
	if reply.ToolCalled != "" {
		outcome = "tool"
	}
	o.metrics.AssistantTurn(outcome)
	return reply, true
}

func (o *Orchestrator) converse(ctx context.Context, key string, in types.Inbound) (*types.Reply, error) {
	cfg, err := o.resolver.Resolve(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	turn := types.ConversationTurn{Sender: key, Text: in.Text, Attachment: in.Attachment, Config: cfg}

	model, tier := o.router.Select(cfg.Persona.IntelligenceLevel, turn.Text)
	o.metrics.ModelSelected(string(tier))
	logging.WithRequestID(logging.CategoryAssistant, key).
		WithField("tier", tier).
		Debug("Routing to %s (persona %s, level %d)", model, cfg.Persona.ID, cfg.Persona.IntelligenceLevel)

	req := llm.Request{
		Model:  model,
		System: BuildSystemPrompt(o.shop, cfg.Persona),
		Tools:  declarations(cfg.Tools),
		Text:   turn.Text,
		Inline: turn.Attachment,
	}
	resp, err := o.model.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if resp.Call == nil {
		text, err := replyText(resp.Text)
		if err != nil {
			return nil, err
		}
		return &types.Reply{Text: &text, Model: model}, nil
	}
	return o.callTool(ctx, key, req, resp.Call, cfg.Tools)
}

// callTool runs the single permitted tool round.
func (o *Orchestrator) callTool(ctx context.Context, key string, req llm.Request, call *llm.FunctionCall, enabled []types.ToolDefinition) (*types.Reply, error) {
	reply := func(text string) *types.Reply {
		return &types.Reply{Text: &text, Model: req.Model, ToolCalled: call.Name}
	}

	unavailable := func() (*types.Reply, error) {
		logging.AssistantWarn("Model for %s called unavailable tool %q", key, call.Name)
		o.metrics.ToolCalled(call.Name, tools.ErrToolNotFound)
		return reply(ToolUnavailableReply), nil
	}

	def, ok := offered(enabled, call.Name)
	if !ok {
		return unavailable()
	}
	declared, err := tools.ParseSchema(def.ParametersSchema)
	if err != nil {
		return unavailable()
	}

	result, err := o.registry.Call(ctx, call.Name, declared, call.Args)
	if errors.Is(err, tools.ErrToolNotFound) {
		return unavailable()
	}
	o.metrics.ToolCalled(call.Name, err)
	if err != nil {
		logging.AssistantWarn("Tool %s for %s failed: %v", call.Name, key, err)
		req.CallResult = map[string]any{"error": err.Error()}
	} else {
		req.CallResult = map[string]any{"result": result.Result}
	}
	req.Call = call

	follow, err := o.model.Generate(ctx, req)
	if err != nil {
		logging.AssistantWarn("Tool feedback for %s failed: %v", key, err)
		return reply(FallbackReply), nil
	}
	if follow.Call != nil {
		logging.AssistantWarn("Model for %s asked for a second tool %q, not supported", key, follow.Call.Name)
		return reply(FallbackReply), nil
	}
	text, err := replyText(follow.Text)
	if err != nil {
		logging.AssistantWarn("Tool feedback for %s unusable: %v", key, err)
		return reply(FallbackReply), nil
	}
	return reply(text), nil
}

// replyText extracts the JSON reply, accepting plain prose when the model
// ignored the contract.
func replyText(output string) (string, error) {
	text, err := llm.ParseReply(output)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, llm.ErrNoReply) && strings.TrimSpace(output) != "" {
		logging.AssistantDebug("Model answered without JSON, using raw text")
		return strings.TrimSpace(output), nil
	}
	return "", err
}

func declarations(defs []types.ToolDefinition) []llm.FunctionDeclaration {
	if len(defs) == 0 {
		return nil
	}
	out := make([]llm.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.FunctionDeclaration{Name: d.Name, Description: d.Description, Parameters: d.ParametersSchema})
	}
	return out
}

func offered(defs []types.ToolDefinition, name string) (types.ToolDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return types.ToolDefinition{}, false
}

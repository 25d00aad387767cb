// Package dispatcher is the protocol edge: it validates JSON-RPC envelopes
// and REST bindings, negotiates the A2A-Version header, enforces method
// visibility policy, and routes each method to the Task Manager, Agent
// Card provider, or Push Notification Config store. It never touches the
// event log directly.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/a2a-engine/runtime/agentcard"
	"goa.design/a2a-engine/runtime/eventstore"
	"goa.design/a2a-engine/runtime/policy"
	"goa.design/a2a-engine/runtime/pushconfig"
	"goa.design/a2a-engine/runtime/taskmanager"
	"goa.design/a2a-engine/runtime/telemetry"
	"goa.design/a2a-engine/runtime/wire"
)

// Dispatcher routes validated requests to the subsystems that implement
// them.
type Dispatcher struct {
	Tasks       *taskmanager.Manager
	Cards       agentcard.Provider
	PushConfigs pushconfig.Store
	Logger      telemetry.Logger
	Tracer      telemetry.Tracer
	Metrics     telemetry.Metrics
}

// New constructs a Dispatcher.
func New(tasks *taskmanager.Manager, cards agentcard.Provider, push pushconfig.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		Tasks:       tasks,
		Cards:       cards,
		PushConfigs: push,
		Logger:      telemetry.NewNoopLogger(),
		Tracer:      telemetry.NewNoopTracer(),
		Metrics:     telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the default no-op Logger.
func WithLogger(l telemetry.Logger) Option { return func(d *Dispatcher) { d.Logger = l } }

// WithTracer overrides the default no-op Tracer.
func WithTracer(t telemetry.Tracer) Option { return func(d *Dispatcher) { d.Tracer = t } }

// WithMetrics overrides the default no-op Metrics.
func WithMetrics(m telemetry.Metrics) Option { return func(d *Dispatcher) { d.Metrics = m } }

// Dispatch validates and routes req, returning a ready-to-encode Response.
// It never returns a Go error: every failure is represented as a Response
// carrying an ErrorObject, per JSON-RPC semantics.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, versionHeader string) *Response {
	if eo := validateEnvelope(req); eo != nil {
		return errorResponse(req.ID, eo)
	}
	if eo := negotiateVersion(versionHeader); eo != nil {
		return errorResponse(req.ID, eo)
	}
	if !knownMethods[req.Method] {
		return errorResponse(req.ID, newError(CodeMethodNotFound, "unknown method: "+req.Method))
	}
	if !policy.Allows(req.Method, policy.FromContext(ctx)) {
		return errorResponse(req.ID, newError(CodeMethodNotFound, "unknown method: "+req.Method))
	}

	ctx, span := d.Tracer.Start(ctx, telemetry.SpanDispatch(req.Method))
	defer span.End()

	result, eo := d.route(ctx, req)
	if eo != nil {
		span.RecordError(eo)
		d.Metrics.IncCounter(telemetry.MetricDispatchErrors, 1, "method", req.Method, "code", fmt.Sprintf("%d", eo.Code))
		d.Logger.Error(ctx, "dispatcher: request failed", "method", req.Method, "code", eo.Code, "message", eo.Message)
		return errorResponse(req.ID, eo)
	}
	return successResponse(req.ID, result)
}

// route dispatches a well-formed, allowed, non-streaming request to its
// handler. SendStreamingMessage and SubscribeToTask are handled by the
// transport layer directly (see Stream) since they return a live event
// sequence rather than a single result.
func (d *Dispatcher) route(ctx context.Context, req *Request) (any, *ErrorObject) {
	switch req.Method {
	case MethodSendMessage:
		return d.sendMessage(ctx, req.Params)
	case MethodGetTask:
		return d.getTask(ctx, req.Params)
	case MethodListTasks:
		return d.listTasks(ctx, req.Params)
	case MethodCancelTask:
		return d.cancelTask(ctx, req.Params)
	case MethodCreateTaskPushNotificationConfig:
		return d.createPushConfig(ctx, req.Params)
	case MethodGetTaskPushNotificationConfig:
		return d.getPushConfig(ctx, req.Params)
	case MethodListTaskPushNotificationConfig:
		return d.listPushConfig(ctx, req.Params)
	case MethodDeleteTaskPushNotificationConfig:
		return d.deletePushConfig(ctx, req.Params)
	case MethodGetExtendedAgentCard:
		return d.getExtendedCard(ctx)
	case MethodSendStreamingMessage, MethodSubscribeToTask:
		return nil, newError(CodeInvalidRequest, req.Method+" requires the streaming transport")
	default:
		return nil, newError(CodeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (d *Dispatcher) sendMessage(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p sendMessageParams
	if eo := decodeParams(params, &p); eo != nil {
		return nil, eo
	}
	resp, err := d.Tasks.SendMessage(ctx, taskmanager.SendMessageRequest{Message: p.Message})
	if err != nil {
		return nil, mapTaskError(err)
	}
	return resp, nil
}

// StartStream validates and prepares a streaming request (SendStreamingMessage
// or SubscribeToTask), returning a live Subscription the transport layer
// drains into SSE frames.
func (d *Dispatcher) StartStream(ctx context.Context, req *Request, versionHeader string) (*eventstore.Subscription, *ErrorObject) {
	if eo := validateEnvelope(req); eo != nil {
		return nil, eo
	}
	if eo := negotiateVersion(versionHeader); eo != nil {
		return nil, eo
	}
	if !knownMethods[req.Method] {
		return nil, newError(CodeMethodNotFound, "unknown method: "+req.Method)
	}
	if !policy.Allows(req.Method, policy.FromContext(ctx)) {
		return nil, newError(CodeMethodNotFound, "unknown method: "+req.Method)
	}

	switch req.Method {
	case MethodSendStreamingMessage:
		var p sendMessageParams
		if eo := decodeParams(req.Params, &p); eo != nil {
			return nil, eo
		}
		sub, err := d.Tasks.SendMessageStream(ctx, taskmanager.SendMessageRequest{Message: p.Message})
		if err != nil {
			return nil, mapTaskError(err)
		}
		return sub, nil
	case MethodSubscribeToTask:
		var p subscribeToTaskParams
		if eo := decodeParams(req.Params, &p); eo != nil {
			return nil, eo
		}
		sub, err := d.Tasks.SubscribeToTask(ctx, p.ID)
		if err != nil {
			return nil, mapTaskError(err)
		}
		return sub, nil
	default:
		return nil, newError(CodeInvalidRequest, req.Method+" is not a streaming method")
	}
}

func (d *Dispatcher) getTask(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p getTaskParams
	if eo := decodeParams(params, &p); eo != nil {
		return nil, eo
	}
	if p.ID == "" {
		return nil, newError(CodeInvalidParams, "id must not be empty")
	}
	task, err := d.Tasks.GetTask(ctx, p.ID)
	if err != nil {
		return nil, mapTaskError(err)
	}
	return task, nil
}

func (d *Dispatcher) listTasks(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p listTasksParams
	if eo := decodeParams(params, &p); eo != nil {
		return nil, eo
	}
	filter := eventstore.ListFilter{
		ContextID:            p.ContextID,
		StatusTimestampAfter: p.StatusTimestampAfter,
		PageSize:             p.PageSize,
		PageToken:            p.PageToken,
		HistoryLength:        p.HistoryLength,
		IncludeArtifacts:     p.IncludeArtifacts,
	}
	if p.Status != "" {
		filter.Status = wire.TaskState(p.Status)
		filter.HasStatus = true
	}
	result, err := d.Tasks.ListTasks(ctx, filter)
	if err != nil {
		return nil, mapTaskError(err)
	}
	return result, nil
}

func (d *Dispatcher) cancelTask(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p cancelTaskParams
	if eo := decodeParams(params, &p); eo != nil {
		return nil, eo
	}
	if p.ID == "" {
		return nil, newError(CodeInvalidParams, "id must not be empty")
	}
	task, err := d.Tasks.CancelTask(ctx, p.ID)
	if err != nil {
		return nil, mapTaskError(err)
	}
	return task, nil
}

func (d *Dispatcher) createPushConfig(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p pushConfigParams
	if eo := decodeParams(params, &p); eo != nil {
		return nil, eo
	}
	if p.TaskID == "" || p.URL == "" {
		return nil, newError(CodeInvalidParams, "taskId and url are required")
	}
	cfg, err := d.PushConfigs.Create(ctx, pushconfig.Config{
		TaskID: p.TaskID, ConfigID: p.ConfigID, URL: p.URL, Token: p.Token, Authentication: p.Authentication,
	})
	if err != nil {
		return nil, mapPushError(err)
	}
	return cfg, nil
}

func (d *Dispatcher) getPushConfig(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p pushConfigParams
	if eo := decodeParams(params, &p); eo != nil {
		return nil, eo
	}
	cfg, err := d.PushConfigs.Get(ctx, p.TaskID, p.ConfigID)
	if err != nil {
		return nil, mapPushError(err)
	}
	return cfg, nil
}

func (d *Dispatcher) listPushConfig(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p pushConfigParams
	if eo := decodeParams(params, &p); eo != nil {
		return nil, eo
	}
	cfgs, err := d.PushConfigs.List(ctx, p.TaskID)
	if err != nil {
		return nil, mapPushError(err)
	}
	return cfgs, nil
}

func (d *Dispatcher) deletePushConfig(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p pushConfigParams
	if eo := decodeParams(params, &p); eo != nil {
		return nil, eo
	}
	if err := d.PushConfigs.Delete(ctx, p.TaskID, p.ConfigID); err != nil {
		return nil, mapPushError(err)
	}
	return struct{}{}, nil
}

func (d *Dispatcher) getExtendedCard(ctx context.Context) (any, *ErrorObject) {
	card, err := d.Cards.ExtendedCard(ctx)
	if err != nil {
		if err == agentcard.ErrNotConfigured {
			return nil, newError(CodeExtendedCardNotConfigured, "extended agent card is not configured")
		}
		return nil, newError(CodeInternalError, fmt.Sprintf("load extended agent card: %v", err))
	}
	return card, nil
}

func mapTaskError(err error) *ErrorObject {
	switch {
	case errors.Is(err, taskmanager.ErrTaskNotFound):
		return newError(CodeTaskNotFound, err.Error())
	case errors.Is(err, taskmanager.ErrTaskNotCancelable):
		return newError(CodeTaskNotCancelable, err.Error())
	case errors.Is(err, taskmanager.ErrTaskTerminal):
		return newError(CodeInvalidRequest, err.Error())
	case errors.Is(err, taskmanager.ErrInvalidRequest):
		return newError(CodeInvalidParams, err.Error())
	default:
		return newError(CodeInternalError, err.Error())
	}
}

func mapPushError(err error) *ErrorObject {
	switch {
	case errors.Is(err, pushconfig.ErrNotFound):
		return newError(CodeTaskNotFound, err.Error())
	case errors.Is(err, pushconfig.ErrInvalidConfig):
		return newError(CodeInvalidParams, err.Error())
	default:
		return newError(CodeInternalError, err.Error())
	}
}

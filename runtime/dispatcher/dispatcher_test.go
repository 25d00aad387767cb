package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/a2a-engine/runtime/agentcard"
	"goa.design/a2a-engine/runtime/eventstore"
	"goa.design/a2a-engine/runtime/policy"
	"goa.design/a2a-engine/runtime/pushconfig"
	"goa.design/a2a-engine/runtime/taskmanager"
	"goa.design/a2a-engine/runtime/telemetry"
	"goa.design/a2a-engine/runtime/telemetry/telemetryfake"
	"goa.design/a2a-engine/runtime/wire"
)

type echoHandler struct{}

func (echoHandler) Execute(ctx context.Context, taskCtx *taskmanager.Context, queue *taskmanager.EventQueue) error {
	if err := queue.EnqueueStatus(ctx, wire.TaskStatus{State: wire.TaskStateCompleted}, true); err != nil {
		return err
	}
	queue.Complete()
	return nil
}

func (echoHandler) Cancel(ctx context.Context, taskCtx *taskmanager.Context, queue *taskmanager.EventQueue) error {
	return queue.EnqueueStatus(ctx, wire.TaskStatus{State: wire.TaskStateCanceled}, true)
}

func newTestDispatcher() *Dispatcher {
	mgr := taskmanager.New(eventstore.NewMemoryStore(), echoHandler{})
	return New(mgr, agentcard.NewStaticProvider(nil), pushconfig.NewMemoryStore())
}

func rpcRequest(t *testing.T, method string, params any) *Request {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	id, _ := json.Marshal("req-1")
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
}

func userMessage() *wire.Message {
	text := "hello"
	return &wire.Message{Role: wire.RoleUser, MessageID: "m1", Parts: []*wire.Part{{Text: &text}}}
}

func TestDispatchRejectsWrongJSONRPCVersion(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodGetTask, getTaskParams{ID: "x"})
	req.JSONRPC = "1.0"

	resp := d.Dispatch(context.Background(), req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatchRejectsEmptyMethod(t *testing.T) {
	d := newTestDispatcher()
	req := &Request{JSONRPC: "2.0"}

	resp := d.Dispatch(context.Background(), req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatchRejectsNonObjectParams(t *testing.T) {
	d := newTestDispatcher()
	req := &Request{JSONRPC: "2.0", Method: MethodGetTask, Params: json.RawMessage(`[1,2]`)}

	resp := d.Dispatch(context.Background(), req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatchRejectsUnknownMethod(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, "NoSuchMethod", nil)

	resp := d.Dispatch(context.Background(), req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchRejectsUnsupportedVersion(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodGetTask, getTaskParams{ID: "x"})

	resp := d.Dispatch(context.Background(), req, "9.9")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeVersionNotSupported, resp.Error.Code)
}

func TestDispatchDeniesMethodViaPolicy(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodSendMessage, sendMessageParams{Message: userMessage()})

	ctx := policy.InjectToContext(context.Background(), &policy.Policy{DenyList: []string{MethodSendMessage}})
	resp := d.Dispatch(ctx, req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchSendMessageThenGetTask(t *testing.T) {
	d := newTestDispatcher()
	sendReq := rpcRequest(t, MethodSendMessage, sendMessageParams{Message: userMessage()})

	sendResp := d.Dispatch(context.Background(), sendReq, "")
	require.Nil(t, sendResp.Error)

	resultBytes, err := json.Marshal(sendResp.Result)
	require.NoError(t, err)
	var smr wire.SendMessageResponse
	require.NoError(t, json.Unmarshal(resultBytes, &smr))
	require.NotNil(t, smr.Task)
	require.Equal(t, wire.TaskStateCompleted, smr.Task.Status.State)

	getReq := rpcRequest(t, MethodGetTask, getTaskParams{ID: smr.Task.ID})
	getResp := d.Dispatch(context.Background(), getReq, "")
	require.Nil(t, getResp.Error)
}

func TestDispatchSendMessageRejectsTerminalContinuation(t *testing.T) {
	d := newTestDispatcher()
	sendReq := rpcRequest(t, MethodSendMessage, sendMessageParams{Message: userMessage()})
	sendResp := d.Dispatch(context.Background(), sendReq, "")
	require.Nil(t, sendResp.Error)

	resultBytes, err := json.Marshal(sendResp.Result)
	require.NoError(t, err)
	var smr wire.SendMessageResponse
	require.NoError(t, json.Unmarshal(resultBytes, &smr))
	require.True(t, smr.Task.Status.State.Terminal())

	follow := userMessage()
	follow.TaskID = smr.Task.ID
	followReq := rpcRequest(t, MethodSendMessage, sendMessageParams{Message: follow})
	followResp := d.Dispatch(context.Background(), followReq, "")

	require.NotNil(t, followResp.Error)
	require.Equal(t, CodeInvalidRequest, followResp.Error.Code)
}

type failingHandler struct{}

func (failingHandler) Execute(ctx context.Context, taskCtx *taskmanager.Context, queue *taskmanager.EventQueue) error {
	queue.Complete()
	return errors.New("handler exploded")
}

func (failingHandler) Cancel(ctx context.Context, taskCtx *taskmanager.Context, queue *taskmanager.EventQueue) error {
	return queue.EnqueueStatus(ctx, wire.TaskStatus{State: wire.TaskStateCanceled}, true)
}

func TestDispatchSendMessageMapsHandlerErrorToInternalError(t *testing.T) {
	mgr := taskmanager.New(eventstore.NewMemoryStore(), failingHandler{})
	d := New(mgr, agentcard.NewStaticProvider(nil), pushconfig.NewMemoryStore())

	req := rpcRequest(t, MethodSendMessage, sendMessageParams{Message: userMessage()})
	resp := d.Dispatch(context.Background(), req, "")

	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInternalError, resp.Error.Code)
}

func TestDispatchSendMessageMapsHandlerErrorRecordsMetricsAndSpan(t *testing.T) {
	mgr := taskmanager.New(eventstore.NewMemoryStore(), failingHandler{})
	metrics := telemetryfake.NewMetrics()
	tracer := telemetryfake.NewTracer()
	d := New(mgr, agentcard.NewStaticProvider(nil), pushconfig.NewMemoryStore(),
		WithMetrics(metrics), WithTracer(tracer))

	req := rpcRequest(t, MethodSendMessage, sendMessageParams{Message: userMessage()})
	resp := d.Dispatch(context.Background(), req, "")

	require.NotNil(t, resp.Error)
	require.Equal(t, 1.0, metrics.CounterTotal(telemetry.MetricDispatchErrors))
	require.True(t, tracer.Started(telemetry.SpanDispatch(MethodSendMessage)))
}

func TestDispatchSendMessageSuccessDoesNotRecordErrorMetric(t *testing.T) {
	metrics := telemetryfake.NewMetrics()
	mgr := taskmanager.New(eventstore.NewMemoryStore(), echoHandler{})
	d := New(mgr, agentcard.NewStaticProvider(nil), pushconfig.NewMemoryStore(), WithMetrics(metrics))

	req := rpcRequest(t, MethodSendMessage, sendMessageParams{Message: userMessage()})
	resp := d.Dispatch(context.Background(), req, "")

	require.Nil(t, resp.Error)
	require.Equal(t, 0.0, metrics.CounterTotal(telemetry.MetricDispatchErrors))
}

func TestDispatchGetTaskNotFound(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodGetTask, getTaskParams{ID: "missing"})

	resp := d.Dispatch(context.Background(), req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeTaskNotFound, resp.Error.Code)
}

func TestDispatchCancelTaskRejectsEmptyID(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodCancelTask, cancelTaskParams{ID: ""})

	resp := d.Dispatch(context.Background(), req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchExtendedCardNotConfigured(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodGetExtendedAgentCard, nil)

	resp := d.Dispatch(context.Background(), req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeExtendedCardNotConfigured, resp.Error.Code)
}

func TestDispatchExtendedCardConfigured(t *testing.T) {
	mgr := taskmanager.New(eventstore.NewMemoryStore(), echoHandler{})
	card := &agentcard.AgentCard{Name: "demo", ProtocolVersion: "1.0", URL: "http://localhost"}
	d := New(mgr, agentcard.NewStaticProvider(card), pushconfig.NewMemoryStore())

	req := rpcRequest(t, MethodGetExtendedAgentCard, nil)
	resp := d.Dispatch(context.Background(), req, "")
	require.Nil(t, resp.Error)
}

func TestDispatchPushConfigCRUD(t *testing.T) {
	d := newTestDispatcher()

	createReq := rpcRequest(t, MethodCreateTaskPushNotificationConfig, pushConfigParams{TaskID: "t1", URL: "https://example.com/hook"})
	createResp := d.Dispatch(context.Background(), createReq, "")
	require.Nil(t, createResp.Error)

	createdBytes, err := json.Marshal(createResp.Result)
	require.NoError(t, err)
	var cfg pushconfig.Config
	require.NoError(t, json.Unmarshal(createdBytes, &cfg))
	require.NotEmpty(t, cfg.ConfigID)

	listReq := rpcRequest(t, MethodListTaskPushNotificationConfig, pushConfigParams{TaskID: "t1"})
	listResp := d.Dispatch(context.Background(), listReq, "")
	require.Nil(t, listResp.Error)

	deleteReq := rpcRequest(t, MethodDeleteTaskPushNotificationConfig, pushConfigParams{TaskID: "t1", ConfigID: cfg.ConfigID})
	deleteResp := d.Dispatch(context.Background(), deleteReq, "")
	require.Nil(t, deleteResp.Error)
}

func TestDispatchCreatePushConfigRejectsMissingURL(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodCreateTaskPushNotificationConfig, pushConfigParams{TaskID: "t1"})

	resp := d.Dispatch(context.Background(), req, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestStartStreamRejectsNonStreamingMethod(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodGetTask, getTaskParams{ID: "x"})

	_, eo := d.StartStream(context.Background(), req, "")
	require.NotNil(t, eo)
	require.Equal(t, CodeInvalidRequest, eo.Code)
}

func TestStartStreamSendStreamingMessage(t *testing.T) {
	d := newTestDispatcher()
	req := rpcRequest(t, MethodSendStreamingMessage, sendMessageParams{Message: userMessage()})

	sub, eo := d.StartStream(context.Background(), req, "")
	require.Nil(t, eo)
	require.NotNil(t, sub)
	defer sub.Close()

	var sawFinal bool
	for e := range sub.Events() {
		if su := e.Event.StatusUpdate; su != nil && su.Final {
			sawFinal = true
			break
		}
	}
	require.True(t, sawFinal)
}

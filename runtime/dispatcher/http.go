package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"goa.design/a2a-engine/runtime/policy"
)

// Router builds the gin engine exposing both the JSON-RPC endpoint and the
// REST binding table over d.
//
// The binding table's action routes use a slash-verb suffix
// (/message/send, /tasks/:id/cancel, /tasks/:id/subscribe) rather than the
// colon-suffixed AIP custom-method form (message:send, tasks/{id}:cancel).
// gin's router is a per-HTTP-method radix tree that allows exactly one
// wildcard name at a given tree position: GET /v1/tasks/:id (GetTask) and
// GET /v1/tasks/:id:subscribe would register two different wildcard names
// at the same node and panic at startup, and the same conflict arises
// between POST /v1/tasks/:id:cancel and POST /v1/tasks/:id/pushNotificationConfigs.
// The slash form sidesteps this while keeping every path gin can host
// without colliding wildcards.
func (d *Dispatcher) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), d.policyMiddleware())

	r.POST("/v1/rpc", d.handleRPC)

	rest := r.Group("/v1")
	rest.POST("/message/send", d.handleREST(MethodSendMessage))
	rest.POST("/message/stream", d.handleRESTStream(MethodSendStreamingMessage))
	rest.GET("/tasks/:id", d.handleRESTGetTask)
	rest.GET("/tasks", d.handleREST(MethodListTasks))
	rest.POST("/tasks/:id/cancel", d.handleRESTCancelTask)
	rest.GET("/tasks/:id/subscribe", d.handleRESTSubscribe)
	rest.POST("/tasks/:id/pushNotificationConfigs", d.handleRESTCreatePushConfig)
	rest.GET("/tasks/:id/pushNotificationConfigs/:configId", d.handleRESTGetPushConfig)
	rest.GET("/tasks/:id/pushNotificationConfigs", d.handleRESTListPushConfig)
	rest.DELETE("/tasks/:id/pushNotificationConfigs/:configId", d.handleRESTDeletePushConfig)
	rest.GET("/card", d.handleRESTExtendedCard)

	return r
}

// policyMiddleware extracts the allow/deny headers once per request and
// injects the resulting Policy into the request context.
func (d *Dispatcher) policyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := policy.ExtractFromHeaders(c.GetHeader(policy.AllowMethodsHeader), c.GetHeader(policy.DenyMethodsHeader))
		c.Request = c.Request.WithContext(policy.InjectToContext(c.Request.Context(), p))
		c.Next()
	}
}

// handleRPC implements the single JSON-RPC 2.0 endpoint. Non-streaming
// methods and parse errors always answer HTTP 200 with failure in the
// envelope. The two streaming methods go through streamSSE, which answers a
// failure to start the stream with the REST status mapping and a bare
// {"error": ...} body, not a JSON-RPC envelope.
func (d *Dispatcher) handleRPC(c *gin.Context) {
	var req Request
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, newError(CodeParseError, "malformed JSON: "+err.Error())))
		return
	}

	if req.Method == MethodSendStreamingMessage || req.Method == MethodSubscribeToTask {
		d.streamSSE(c, &req)
		return
	}

	resp := d.Dispatch(c.Request.Context(), &req, c.GetHeader(VersionHeader))
	c.JSON(http.StatusOK, resp)
}

// handleREST adapts a non-streaming REST route to method's Dispatch path,
// decoding the JSON body as params.
func (d *Dispatcher) handleREST(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, _ := readBodyAsRawMessage(c)
		req := &Request{JSONRPC: "2.0", Method: method, Params: params}
		resp := d.Dispatch(c.Request.Context(), req, c.GetHeader(VersionHeader))
		writeRESTResponse(c, resp)
	}
}

func (d *Dispatcher) handleRESTStream(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, _ := readBodyAsRawMessage(c)
		req := &Request{JSONRPC: "2.0", Method: method, Params: params}
		d.streamSSE(c, req)
	}
}

func (d *Dispatcher) handleRESTGetTask(c *gin.Context) {
	params, _ := json.Marshal(getTaskParams{ID: c.Param("id")})
	req := &Request{JSONRPC: "2.0", Method: MethodGetTask, Params: params}
	resp := d.Dispatch(c.Request.Context(), req, c.GetHeader(VersionHeader))
	writeRESTResponse(c, resp)
}

func (d *Dispatcher) handleRESTCancelTask(c *gin.Context) {
	params, _ := json.Marshal(cancelTaskParams{ID: c.Param("id")})
	req := &Request{JSONRPC: "2.0", Method: MethodCancelTask, Params: params}
	resp := d.Dispatch(c.Request.Context(), req, c.GetHeader(VersionHeader))
	writeRESTResponse(c, resp)
}

func (d *Dispatcher) handleRESTSubscribe(c *gin.Context) {
	params, _ := json.Marshal(subscribeToTaskParams{ID: c.Param("id")})
	req := &Request{JSONRPC: "2.0", Method: MethodSubscribeToTask, Params: params}
	d.streamSSE(c, req)
}

func (d *Dispatcher) handleRESTCreatePushConfig(c *gin.Context) {
	var body pushConfigParams
	_ = c.ShouldBindJSON(&body)
	body.TaskID = c.Param("id")
	params, _ := json.Marshal(body)
	req := &Request{JSONRPC: "2.0", Method: MethodCreateTaskPushNotificationConfig, Params: params}
	resp := d.Dispatch(c.Request.Context(), req, c.GetHeader(VersionHeader))
	writeRESTResponse(c, resp)
}

func (d *Dispatcher) handleRESTGetPushConfig(c *gin.Context) {
	params, _ := json.Marshal(pushConfigParams{TaskID: c.Param("id"), ConfigID: c.Param("configId")})
	req := &Request{JSONRPC: "2.0", Method: MethodGetTaskPushNotificationConfig, Params: params}
	resp := d.Dispatch(c.Request.Context(), req, c.GetHeader(VersionHeader))
	writeRESTResponse(c, resp)
}

func (d *Dispatcher) handleRESTListPushConfig(c *gin.Context) {
	params, _ := json.Marshal(pushConfigParams{TaskID: c.Param("id")})
	req := &Request{JSONRPC: "2.0", Method: MethodListTaskPushNotificationConfig, Params: params}
	resp := d.Dispatch(c.Request.Context(), req, c.GetHeader(VersionHeader))
	writeRESTResponse(c, resp)
}

func (d *Dispatcher) handleRESTDeletePushConfig(c *gin.Context) {
	params, _ := json.Marshal(pushConfigParams{TaskID: c.Param("id"), ConfigID: c.Param("configId")})
	req := &Request{JSONRPC: "2.0", Method: MethodDeleteTaskPushNotificationConfig, Params: params}
	resp := d.Dispatch(c.Request.Context(), req, c.GetHeader(VersionHeader))
	writeRESTResponse(c, resp)
}

func (d *Dispatcher) handleRESTExtendedCard(c *gin.Context) {
	req := &Request{JSONRPC: "2.0", Method: MethodGetExtendedAgentCard}
	resp := d.Dispatch(c.Request.Context(), req, c.GetHeader(VersionHeader))
	writeRESTResponse(c, resp)
}

func readBodyAsRawMessage(c *gin.Context) (json.RawMessage, error) {
	if c.Request.ContentLength == 0 {
		return nil, nil
	}
	var raw json.RawMessage
	if err := json.NewDecoder(c.Request.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// writeRESTResponse maps a dispatched Response onto the REST binding's HTTP
// status: success responses answer 200, errors answer the mapped status
// from the error-code table, and the envelope is dropped in favor of the
// bare result/error payload REST callers expect.
func writeRESTResponse(c *gin.Context, resp *Response) {
	if resp.Error != nil {
		c.JSON(httpStatusFor(resp.Error.Code), gin.H{"error": resp.Error})
		return
	}
	c.JSON(http.StatusOK, resp.Result)
}

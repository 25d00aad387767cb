package dispatcher

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/a2a-engine/runtime/wire"
)

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var b bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&b).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &b)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterMessageSendAndGetTask(t *testing.T) {
	d := newTestDispatcher()
	router := d.Router()

	rec := postJSON(t, router, "/v1/message/send", sendMessageParams{Message: userMessage()})
	require.Equal(t, http.StatusOK, rec.Code)

	var smr wire.SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &smr))
	require.NotNil(t, smr.Task)
	require.Equal(t, wire.TaskStateCompleted, smr.Task.Status.State)

	getRec := httptest.NewRecorder()
	getReq := httptest.NewRequest(http.MethodGet, "/v1/tasks/"+smr.Task.ID, nil)
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestRouterGetTaskNotFoundMapsTo404(t *testing.T) {
	d := newTestDispatcher()
	router := d.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/does-not-exist", nil)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterCancelTask(t *testing.T) {
	d := newTestDispatcher()
	router := d.Router()

	sendRec := postJSON(t, router, "/v1/message/send", sendMessageParams{Message: userMessage()})
	require.Equal(t, http.StatusOK, sendRec.Code)

	cancelRec := httptest.NewRecorder()
	cancelReq := httptest.NewRequest(http.MethodPost, "/v1/tasks/missing-task/cancel", nil)
	router.ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusNotFound, cancelRec.Code)
}

func TestRouterExtendedCardRoute(t *testing.T) {
	d := newTestDispatcher()
	router := d.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/card", nil)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterPushConfigCRUDPaths(t *testing.T) {
	d := newTestDispatcher()
	router := d.Router()

	createRec := postJSON(t, router, "/v1/tasks/t1/pushNotificationConfigs", pushConfigParams{URL: "https://example.com/hook"})
	require.Equal(t, http.StatusOK, createRec.Code)

	var cfg struct {
		ConfigID string `json:"configId"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &cfg))
	require.NotEmpty(t, cfg.ConfigID)

	listRec := httptest.NewRecorder()
	listReq := httptest.NewRequest(http.MethodGet, "/v1/tasks/t1/pushNotificationConfigs", nil)
	router.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	deleteRec := httptest.NewRecorder()
	deleteReq := httptest.NewRequest(http.MethodDelete, "/v1/tasks/t1/pushNotificationConfigs/"+cfg.ConfigID, nil)
	router.ServeHTTP(deleteRec, deleteReq)
	require.Equal(t, http.StatusOK, deleteRec.Code)
}

func TestRouterJSONRPCEndpoint(t *testing.T) {
	d := newTestDispatcher()
	router := d.Router()

	rec := postJSON(t, router, "/v1/rpc", rpcRequestBody(MethodGetTask, getTaskParams{ID: "missing"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeTaskNotFound, resp.Error.Code)
}

func rpcRequestBody(method string, params any) *Request {
	raw, _ := json.Marshal(params)
	id, _ := json.Marshal("req-1")
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
}

package dispatcher

import (
	"encoding/json"

	"goa.design/a2a-engine/runtime/wire"
)

// Method names, shared by both the JSON-RPC and REST bindings.
const (
	MethodSendMessage                        = "SendMessage"
	MethodSendStreamingMessage                = "SendStreamingMessage"
	MethodGetTask                             = "GetTask"
	MethodListTasks                           = "ListTasks"
	MethodCancelTask                          = "CancelTask"
	MethodSubscribeToTask                     = "SubscribeToTask"
	MethodCreateTaskPushNotificationConfig    = "CreateTaskPushNotificationConfig"
	MethodGetTaskPushNotificationConfig       = "GetTaskPushNotificationConfig"
	MethodListTaskPushNotificationConfig      = "ListTaskPushNotificationConfig"
	MethodDeleteTaskPushNotificationConfig    = "DeleteTaskPushNotificationConfig"
	MethodGetExtendedAgentCard                = "GetExtendedAgentCard"
)

// knownMethods is the complete binding table; any method outside this set
// is METHOD_NOT_FOUND.
var knownMethods = map[string]bool{
	MethodSendMessage:                     true,
	MethodSendStreamingMessage:            true,
	MethodGetTask:                         true,
	MethodListTasks:                       true,
	MethodCancelTask:                      true,
	MethodSubscribeToTask:                 true,
	MethodCreateTaskPushNotificationConfig: true,
	MethodGetTaskPushNotificationConfig:    true,
	MethodListTaskPushNotificationConfig:   true,
	MethodDeleteTaskPushNotificationConfig: true,
	MethodGetExtendedAgentCard:             true,
}

type (
	sendMessageParams struct {
		Message *wire.Message `json:"message"`
	}

	getTaskParams struct {
		ID string `json:"id"`
	}

	listTasksParams struct {
		ContextID            string `json:"contextId,omitempty"`
		Status               string `json:"status,omitempty"`
		StatusTimestampAfter string `json:"statusTimestampAfter,omitempty"`
		PageSize             int    `json:"pageSize,omitempty"`
		PageToken            string `json:"pageToken,omitempty"`
		HistoryLength        *int   `json:"historyLength,omitempty"`
		IncludeArtifacts     bool   `json:"includeArtifacts,omitempty"`
	}

	cancelTaskParams struct {
		ID string `json:"id"`
	}

	subscribeToTaskParams struct {
		ID string `json:"id"`
	}

	pushConfigParams struct {
		TaskID         string         `json:"taskId"`
		ConfigID       string         `json:"configId,omitempty"`
		URL            string         `json:"url,omitempty"`
		Token          string         `json:"token,omitempty"`
		Authentication map[string]any `json:"authentication,omitempty"`
	}
)

func decodeParams(data []byte, v any) *ErrorObject {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return newError(CodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}

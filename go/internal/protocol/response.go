package protocol

import (
	"encoding/json"
	"time"
)

// ResponseType is the server's verdict on a player request.
type ResponseType string

const (
	ResponseSuccess ResponseType = "success"
	ResponseFail    ResponseType = "fail"
)

// Response is the envelope every player request answers with.
type Response struct {
	Type         ResponseType    `json:"type"`
	FailMsg      string          `json:"fail_msg,omitempty"`
	Log          string          `json:"log,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	PromptStates map[string]bool `json:"prompt_states,omitempty"`
}

// OK reports whether the server accepted the request.
func (r *Response) OK() bool {
	return r.Type == ResponseSuccess
}

// timeSyncParams is the params payload of a time_sync response.
type timeSyncParams struct {
	Now time.Time `json:"now"`
}

// ServerTime extracts the server timestamp from a time_sync response.
func (r *Response) ServerTime() (time.Time, bool) {
	if len(r.Params) == 0 {
		return time.Time{}, false
	}
	var p timeSyncParams
	if err := json.Unmarshal(r.Params, &p); err != nil || p.Now.IsZero() {
		return time.Time{}, false
	}
	return p.Now, true
}

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

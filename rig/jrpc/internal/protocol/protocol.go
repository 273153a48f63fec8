// Package protocol defines the JSON-RPC 2.0 messages exchanged over a build control socket.  IDs are always strings
// and params are left encoded for the function that handles them.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version spoken.
const Version = `2.0`

// Error codes defined by JSON-RPC 2.0.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	ServerError    = -32000 // the function ran and failed
)

// A Request is a message sent from a client to a service.  Requests without an ID are notifications and get no
// response.
type Request struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Validate reports an InvalidRequest error if the request cannot be dispatched.
func (req *Request) Validate() *Error {
	switch {
	case req.Version != `` && req.Version != Version:
		return &Error{Code: InvalidRequest, Message: fmt.Sprintf(`unsupported version %q`, req.Version)}
	case req.Method == ``:
		return &Error{Code: InvalidRequest, Message: `no method specified`}
	}
	return nil
}

// A Response answers a request that had an ID, carrying either a result or an error.
type Response struct {
	ID     string
	Result any
	Error  *Error
}

// MarshalJSON implements json.Marshaler, including "result" only on success and "error" only on failure.
func (rsp Response) MarshalJSON() ([]byte, error) {
	if rsp.Error != nil {
		return json.Marshal(struct {
			Version string `json:"jsonrpc"`
			ID      any    `json:"id"`
			Error   *Error `json:"error"`
		}{Version, id(rsp.ID), rsp.Error})
	}
	return json.Marshal(struct {
		Version string `json:"jsonrpc"`
		ID      any    `json:"id"`
		Result  any    `json:"result"`
	}{Version, id(rsp.ID), rsp.Result})
}

// id returns nil for an empty ID, which is how JSON-RPC answers requests whose ID could not be read.
func id(str string) any {
	if str == `` {
		return nil
	}
	return str
}

// An Error describes why a request failed.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf(`%v (%d)`, e.Message, e.Code) }

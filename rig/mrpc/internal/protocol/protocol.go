// Package protocol defines the MessagePack messages exchanged over a build control socket.  Requests, responses and
// failures are encoded as arrays so clients can decode them by position.
package protocol

import "github.com/tinylib/msgp/msgp"

// Methods of a request.
const (
	Call  = `call`  // answered with one succ or fail
	Start = `start` // answered with any number of yields, then end or fail
)

// Methods of a response.
const (
	Succ  = `succ`
	Fail  = `fail`
	Yield = `yield`
	End   = `end`
)

// A Request is a message sent from a client to a server.
type Request struct {
	ID       string   // echoed in every response to the request
	Method   string   // Call or Start
	Function string   // the name of the function to call or start
	Input    msgp.Raw // the input of the function, at least a nil
}

// MarshalMsg implements msgp.Marshaler.
func (req *Request) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 4)
	b = msgp.AppendString(b, req.ID)
	b = msgp.AppendString(b, req.Method)
	b = msgp.AppendString(b, req.Function)
	if len(req.Input) == 0 {
		return msgp.AppendNil(b), nil
	}
	return req.Input.MarshalMsg(b)
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (req *Request) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 4 {
		return b, msgp.ArrayError{Wanted: 4, Got: n}
	}
	if req.ID, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if req.Method, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if req.Function, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	return req.Input.UnmarshalMsg(b)
}

// A Response is a message sent from a server to a client.
type Response struct {
	ID     string
	Method string            // Succ, Fail, Yield or End
	Output msgp.MarshalSizer // a *Failure for Fail, nil for End, otherwise depends on the function
}

// Msgsize implements msgp.Sizer.
func (rsp *Response) Msgsize() int {
	n := msgp.ArrayHeaderSize +
		msgp.StringPrefixSize + len(rsp.ID) +
		msgp.StringPrefixSize + len(rsp.Method)
	if rsp.Output == nil {
		return n + msgp.NilSize
	}
	return n + rsp.Output.Msgsize()
}

// MarshalMsg implements msgp.Marshaler.
func (rsp *Response) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendString(b, rsp.ID)
	b = msgp.AppendString(b, rsp.Method)
	if rsp.Output == nil {
		return msgp.AppendNil(b), nil
	}
	return rsp.Output.MarshalMsg(b)
}

// A Failure explains a Fail response.
type Failure struct {
	Code int // analogous to an HTTP status code
	Msg  string
}

// MarshalMsg implements msgp.Marshaler.
func (f *Failure) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendInt(b, f.Code)
	return msgp.AppendString(b, f.Msg), nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (f *Failure) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 2 {
		return b, msgp.ArrayError{Wanted: 2, Got: n}
	}
	if f.Code, b, err = msgp.ReadIntBytes(b); err != nil {
		return b, err
	}
	f.Msg, b, err = msgp.ReadStringBytes(b)
	return b, err
}

// Msgsize implements msgp.Sizer.
func (f *Failure) Msgsize() int {
	return msgp.ArrayHeaderSize + msgp.IntSize + msgp.StringPrefixSize + len(f.Msg)
}

package hooks

import (
	"context"
	"time"
)

// Request is the mutable value threaded through the request chain before a
// spider call goes to the transport layer.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	SiteKey string
}

// Clone returns a deep copy so hook mutation never aliases the caller's value.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = cloneMap(r.Headers)
	return &out
}

// Response is the mutable value threaded through the response chain after a
// spider's upstream fetch returns.
type Response struct {
	URL        string
	StatusCode int
	Headers    map[string]string
	Body       []byte
	SiteKey    string
}

func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = cloneMap(r.Headers)
	out.Body = append([]byte(nil), r.Body...)
	return &out
}

// Player is the resolved play url passed through the player chain.
type Player struct {
	URL     string
	Headers map[string]string
	Parse   int // 0 = direct media, 1 = needs secondary resolution
	SiteKey string
	Flag    string
}

func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	out := *p
	out.Headers = cloneMap(p.Headers)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Status is the disposition a hook reports for one execution.
type Status int

const (
	StatusSuccess Status = iota // value replaced, chain continues
	StatusSkip                  // hook chose not to act, chain continues unchanged
	StatusFailure               // hook errored, chain continues with the prior value
	StatusStop                  // value replaced, remaining hooks short-circuited
)

// Outcome is the tagged result of one hook execution. Value is only
// meaningful for StatusSuccess and StatusStop.
type Outcome[T any] struct {
	Status Status
	Value  *T
	Reason string
	Err    error
}

func Success[T any](v *T) Outcome[T] { return Outcome[T]{Status: StatusSuccess, Value: v} }
func Skip[T any](reason string) Outcome[T] {
	return Outcome[T]{Status: StatusSkip, Reason: reason}
}
func Fail[T any](err error) Outcome[T] { return Outcome[T]{Status: StatusFailure, Err: err} }
func Stop[T any](v *T) Outcome[T]      { return Outcome[T]{Status: StatusStop, Value: v} }

// RequestHook mutates or inspects outbound requests.
type RequestHook interface {
	Name() string
	Priority() int // lower runs first
	Enabled() bool
	Matches(*Request) bool
	Execute(context.Context, *Request) Outcome[Request]
}

// ResponseHook mutates or inspects inbound responses.
type ResponseHook interface {
	Name() string
	Priority() int
	Enabled() bool
	Matches(*Response) bool
	Execute(context.Context, *Response) Outcome[Response]
}

// PlayerHook mutates or inspects resolved play urls.
type PlayerHook interface {
	Name() string
	Priority() int
	Enabled() bool
	Matches(*Player) bool
	Execute(context.Context, *Player) Outcome[Player]
}

// hookTimeout bounds a single hook execution; a hook exceeding it is treated
// as failed and the chain proceeds with the pre-hook value.
const hookTimeout = 10 * time.Second

package websocket

// SSESubscriber adapts an SSE connection (internal/api/sse) to the Hub's
// Subscriber protocol — it has no conn/pump fields since an SSE request's
// own handler goroutine writes frames directly, unlike a websocket Client's
// dedicated read/write pumps.
type SSESubscriber struct {
	ID          string
	ExecutionID int64
	Send        chan any
}

func (s *SSESubscriber) SubID() string         { return s.ID }
func (s *SSESubscriber) SubExecutionID() int64 { return s.ExecutionID }
func (s *SSESubscriber) SubSend() chan any     { return s.Send }

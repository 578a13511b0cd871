package websocket

import "github.com/noetl/noetl/internal/domain"

// SocketObserver implements monitoring.Observer (structurally, no import
// needed) by rebroadcasting every folded event batch through the hub,
// grounded on the teacher's SocketObserver (ExecutionObserver -> hub.
// Broadcast adapter).
type SocketObserver struct {
	hub Broadcaster
}

func NewSocketObserver(hub Broadcaster) *SocketObserver {
	return &SocketObserver{hub: hub}
}

func (o *SocketObserver) OnEvents(executionID int64, events []domain.Event) {
	for _, evt := range events {
		o.hub.Broadcast(executionID, evt)
	}
}

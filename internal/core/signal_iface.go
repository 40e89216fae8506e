package core

import (
	"errors"

	"github.com/dkeye/one2one/internal/domain"
)

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Notifier delivers one outbound message to one connection.
// Delivery is best-effort; callers log errors and move on.
type Notifier interface {
	Notify(sid domain.SessionID, msg Outbound) error
}

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

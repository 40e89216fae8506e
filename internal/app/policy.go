package app

import (
	"errors"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
)

type DeliveryAction int

const (
	DropMessage DeliveryAction = iota
	CloseConnection
)

// Policy decides what happens to a connection that failed to take a message.
type Policy interface {
	OnDeliveryFailure(sid domain.SessionID, err error) DeliveryAction
}

// SimplePolicy closes connections that cannot keep up; the transport then
// reports the disconnect and the session is torn down like any other.
type SimplePolicy struct{}

func (SimplePolicy) OnDeliveryFailure(_ domain.SessionID, err error) DeliveryAction {
	if errors.Is(err, core.ErrBackpressure) {
		return CloseConnection
	}
	return DropMessage
}

package coretest

import (
	"sync"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
)

type Sent struct {
	To  domain.SessionID
	Msg core.Outbound
}

// Notifier records every message handed to it.
type Notifier struct {
	mu   sync.Mutex
	sent []Sent
	fail map[domain.SessionID]error
}

func NewNotifier() *Notifier {
	return &Notifier{fail: make(map[domain.SessionID]error)}
}

// FailFor makes delivery to sid return err. The message is still recorded.
func (n *Notifier) FailFor(sid domain.SessionID, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.fail, sid)
		return
	}
	n.fail[sid] = err
}

func (n *Notifier) Notify(sid domain.SessionID, msg core.Outbound) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Sent{To: sid, Msg: msg})
	return n.fail[sid]
}

func (n *Notifier) All() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.sent...)
}

func (n *Notifier) To(sid domain.SessionID) []core.Outbound {
	var out []core.Outbound
	for _, s := range n.All() {
		if s.To == sid {
			out = append(out, s.Msg)
		}
	}
	return out
}

// Kinds lists the message ids sent to sid in order.
func (n *Notifier) Kinds(sid domain.SessionID) []string {
	var out []string
	for _, m := range n.To(sid) {
		out = append(out, m.MessageID())
	}
	return out
}

// Last returns the most recent message of kind sent to sid.
func (n *Notifier) Last(sid domain.SessionID, kind string) (core.Outbound, bool) {
	msgs := n.To(sid)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].MessageID() == kind {
			return msgs[i], true
		}
	}
	return nil, false
}

func (n *Notifier) Count(sid domain.SessionID, kind string) int {
	c := 0
	for _, m := range n.To(sid) {
		if m.MessageID() == kind {
			c++
		}
	}
	return c
}

func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

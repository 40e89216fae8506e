package signal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/one2one/internal/app"
	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog/log"
)

// Hub maps session ids to live connections and implements core.Notifier.
type Hub struct {
	policy app.Policy

	mu    sync.RWMutex
	conns map[domain.SessionID]core.SignalConnection
}

func NewHub(policy app.Policy) *Hub {
	return &Hub{
		policy: policy,
		conns:  make(map[domain.SessionID]core.SignalConnection),
	}
}

func (h *Hub) Bind(sid domain.SessionID, conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sid] = conn
}

// Unbind forgets sid while it still maps to conn.
func (h *Hub) Unbind(sid domain.SessionID, conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[sid]; ok && cur == conn {
		delete(h.conns, sid)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Notify(sid domain.SessionID, msg core.Outbound) error {
	h.mu.RLock()
	conn, ok := h.conns[sid]
	h.mu.RUnlock()
	if !ok {
		return domain.DeliveryError(core.ErrConnClosed)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return domain.DeliveryError(fmt.Errorf("marshal %s: %w", msg.MessageID(), err))
	}
	if err := conn.TrySend(data); err != nil {
		if h.policy != nil && h.policy.OnDeliveryFailure(sid, err) == app.CloseConnection {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("closing slow connection")
			conn.Close()
		}
		return domain.DeliveryError(err)
	}
	return nil
}

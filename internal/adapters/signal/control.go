package signal

import (
	"encoding/json"

	"github.com/dkeye/one2one/internal/core"
	"github.com/dkeye/one2one/internal/domain"
	"github.com/rs/zerolog"
)

const msgRegisterLimited = "too many register attempts"

func (ctl *SignalWSController) handleSignal(sid domain.SessionID, c *WsSignalConn, data []byte, logger *zerolog.Logger) {
	var msg core.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn().Err(err).Msg("bad json")
		ctl.sendJSON(c, core.NewNotice(core.KindError, "Invalid message "+string(data)), logger)
		return
	}
	msg.Raw = json.RawMessage(data)

	if msg.ID == core.KindRegister && !ctl.limiter.Allow(sid) {
		logger.Warn().Str("name", msg.Name).Msg("register rate limited")
		ctl.sendJSON(c, core.RegisterRejected(msgRegisterLimited), logger)
		return
	}
	logger.Debug().Str("kind", msg.ID).Msg("message received")
	ctl.Orch.Dispatch(sid, msg)
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any, logger *zerolog.Logger) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		logger.Debug().Err(err).Msg("sendJSON")
	}
}

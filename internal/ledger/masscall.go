package ledger

import (
	"context"

	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/relay"
	"dextra-ledger/internal/storage"
)

// Masscall forwards req through the relay gate. Only the protocol owner may call it.
func (e *Engine) Masscall(ctx context.Context, req relay.Request) (relay.Dispatch, error) {
	var dispatch relay.Dispatch
	fields := logrus.Fields{
		"caller":   req.Caller.String(),
		"target":   req.Target.String(),
		"accounts": len(req.Accounts),
	}
	err := e.run(ctx, "masscall", fields, func(int64) error {
		var protocol *domain.ProtocolState
		err := e.store.View(ctx, func(tx storage.Tx) error {
			var err error
			protocol, err = loadProtocol(ctx, tx)
			return err
		})
		if err != nil {
			return err
		}

		dispatch, err = e.gate.Relay(ctx, protocol.Owner, req)
		return err
	})

	decision := string(dispatch.Capability)
	if err != nil {
		decision = domain.CodeOf(err)
		if decision == "" {
			decision = "error"
		}
	}
	e.metrics.RecordRelay(decision)
	return dispatch, err
}

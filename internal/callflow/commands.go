package callflow

import (
	"context"

	"github.com/ent0n29/iris/internal/hub"
	"github.com/ent0n29/iris/internal/notification"
)

// CommandRouter registers hub command handlers. *hub.Router implements it.
type CommandRouter interface {
	Handle(kind hub.Kind, h hub.HandlerFunc)
}

// Bind routes call commands to svc and notification commands to store.
func Bind(r CommandRouter, svc *Service, store *notification.Store) {
	r.Handle(hub.KindCall, func(ctx context.Context, cmd hub.Command) error {
		_, err := svc.HandleCall(ctx, cmd.Target, *cmd.Call)
		return err
	})
	r.Handle(hub.KindNotify, func(_ context.Context, cmd hub.Command) error {
		return store.Send(cmd.Notification())
	})
	r.Handle(hub.KindClearNotification, func(_ context.Context, cmd hub.Command) error {
		return store.Clear(cmd.Target, cmd.Clear.ID)
	})
	r.Handle(hub.KindReplay, func(_ context.Context, cmd hub.Command) error {
		if cmd.Replay != nil && cmd.Replay.ID != "" {
			return store.ResendIfExists(cmd.Target, cmd.Replay.ID)
		}
		return store.ResendAll(cmd.Target)
	})
}

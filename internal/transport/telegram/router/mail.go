package router

import (
	"context"
	"fmt"

	"tokbot/internal/broadcast"
	logx "tokbot/pkg/logx"
)

func (r *Router) handleStart(ctx context.Context, req *Request, s *Settings, admin bool, arg string) error {
	r.record(ctx, req)
	if arg != s.StartArg || !admin {
		return r.reply(ctx, req, s.Welcome)
	}
	if err := r.sessions.Begin(ctx, req.FromID); err != nil {
		return fmt.Errorf("begin compose: %w", err)
	}
	req.Logger.Info("broadcast compose started")
	return r.reply(ctx, req, textComposePrompt)
}

// handleCompose captures the admin's message and echoes it back by copy so the
// admin sees exactly what recipients will get.
func (r *Router) handleCompose(ctx context.Context, req *Request) error {
	ref := req.Msg.Ref()
	if err := r.sessions.Capture(ctx, req.FromID, ref); err != nil {
		return fmt.Errorf("capture broadcast message: %w", err)
	}
	if _, err := r.adapter.CopyMessage(ctx, req.Chat, ref); err != nil {
		req.Logger.Warn("preview copy failed", logx.Err(err))
	}
	return r.reply(ctx, req, textConfirmPrompt)
}

func (r *Router) handleConfirm(ctx context.Context, req *Request) error {
	if req.Msg.Text != confirmToken {
		if err := r.sessions.Cancel(ctx, req.FromID); err != nil {
			return fmt.Errorf("cancel compose: %w", err)
		}
		return r.reply(ctx, req, textCancelled)
	}

	ref, err := r.sessions.Confirm(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("confirm broadcast: %w", err)
	}
	id := r.broadcast.Launch(broadcast.Request{
		ActorID:       req.FromID,
		ActorUsername: req.Msg.FromUsername,
		ReplyTo:       req.Chat,
		Source:        ref,
	})
	req.Logger.Info("broadcast launched", logx.String("job", id))
	return nil
}

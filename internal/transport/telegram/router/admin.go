package router

import (
	"context"
	"fmt"

	"tokbot/internal/broadcast"
	"tokbot/internal/directory"
	logx "tokbot/pkg/logx"
)

const mailStatusLimit = 5

func (r *Router) handleStats(ctx context.Context, req *Request) error {
	n, err := r.dir.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	return r.reply(ctx, req, fmt.Sprintf("📊 Known users: %d", n))
}

// handleMailStatus lists live job status, followed by the audit history when the
// directory keeps one.
func (r *Router) handleMailStatus(ctx context.Context, req *Request) error {
	text := broadcast.StatusText(r.broadcast.Recent(mailStatusLimit))
	if ar, ok := r.dir.(directory.AuditReader); ok {
		entries, err := ar.RecentAudit(ctx, mailStatusLimit)
		if err != nil {
			req.Logger.Warn("read audit failed", logx.Err(err))
		} else if h := broadcast.HistoryText(entries); h != "" {
			text += "\n\n" + h
		}
	}
	return r.reply(ctx, req, text)
}

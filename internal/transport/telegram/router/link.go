package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokbot/internal/resolver"
	logx "tokbot/pkg/logx"
)

const deleteTimeout = 10 * time.Second

func normalizeLink(s string) string { return strings.TrimSpace(s) }

// handleLink resolves a share link and relays the media by URL. The loading
// message is removed whatever the outcome.
func (r *Router) handleLink(ctx context.Context, req *Request, link string) error {
	loading, err := r.adapter.SendText(ctx, req.Chat, textLoading, nil)
	if err != nil {
		req.Logger.Debug("loading message not sent", logx.Err(err))
	} else {
		defer func() {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
			defer cancel()
			if err := r.adapter.DeleteMessage(dctx, loading); err != nil {
				req.Logger.Debug("loading message not deleted", logx.Err(err))
			}
		}()
	}

	v, err := r.resolver.Resolve(ctx, link)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			req.Logger.Info("video not resolved", logx.String("link", link), logx.Err(err))
		} else {
			req.Logger.Warn("resolver error", logx.String("link", link), logx.Err(err))
		}
		return r.reply(ctx, req, textNotFound)
	}

	if _, err := r.adapter.SendVideo(ctx, req.Chat, v.VideoURL, v.Description); err != nil {
		return fmt.Errorf("send video: %w", err)
	}
	if v.AudioURL == "" {
		req.Logger.Debug("resolved video has no audio track")
		return nil
	}
	if _, err := r.adapter.SendAudio(ctx, req.Chat, v.AudioURL, audioTitle(req.FromID)); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

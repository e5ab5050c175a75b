package handler

import (
	"context"
	"errors"
	"io"
	"strings"

	"ycyw-chat/internal/suggest"
)

// draftReply drafts a reply for the open dialog and prints it as it streams. A
// second /suggest cancels the first.
func (c *Console) draftReply(ctx context.Context) {
	d := c.sess.Box.Dialog()
	if d == nil {
		c.printError("open a dialog first")
		return
	}
	d.Messages = c.sess.Box.Messages()

	c.draftMu.Lock()
	if c.cancelDraft != nil {
		c.cancelDraft()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancelDraft = cancel
	c.draftMu.Unlock()
	defer cancel()

	started := false
	_, err := c.sess.Drafter.Draft(ctx, *d, c.sess.User(), func(tok string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !started {
			started = true
			io.WriteString(c.out, "suggested reply:\n  ")
		}
		io.WriteString(c.out, strings.ReplaceAll(tok, "\n", "\n  "))
	})
	if started {
		c.mu.Lock()
		io.WriteString(c.out, "\n")
		c.mu.Unlock()
	}
	switch {
	case errors.Is(err, suggest.ErrDisabled):
		c.printError("reply drafting is not configured")
	case isCanceled(err):
	case err != nil:
		c.printError("draft unavailable: " + err.Error())
	}
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"ycyw-chat/internal/channel"
	"ycyw-chat/internal/chatbox"
	"ycyw-chat/internal/hub"
	"ycyw-chat/internal/model"
	"ycyw-chat/internal/session"
)

const helpText = `commands:
  /list              show your dialogs
  /open <id>         open a dialog
  /new <topic>       start a dialog
  /join              announce yourself in the open dialog
  /leave             leave and close the open dialog
  /history           print the open dialog
  /suggest           draft a reply (support agents)
  /status            connection and dialog state
  /quit              exit
anything else is sent to the open dialog`

// Console turns terminal lines into session operations and prints what the
// session reports back.
type Console struct {
	sess *session.Session
	out  io.Writer
	mu   sync.Mutex

	draftMu     sync.Mutex
	cancelDraft context.CancelFunc
}

func NewConsole(sess *session.Session, out io.Writer) *Console {
	return &Console{sess: sess, out: out}
}

// Watch prints session events. Call it before the session runs.
func (c *Console) Watch() {
	c.sess.On(hub.EventConnection, func(_ context.Context, ev hub.Event) {
		st := ev.Payload.(channel.ConnectionState)
		switch {
		case st.Connected:
			c.printf("* connected")
		case st.Stopped:
			c.printf("* disconnected")
		case st.Err != nil:
			c.printf("* connection lost, retrying")
		}
	})
	c.sess.On(hub.EventChannelError, func(_ context.Context, ev hub.Event) {
		c.printError(fmt.Sprintf("channel: %v", ev.Payload))
	})
	c.sess.On(hub.EventDialogCreated, func(_ context.Context, ev hub.Event) {
		d := ev.Payload.(model.Dialog)
		c.printf("* dialog #%d created: %s", d.ID, d.Title())
	})
	c.sess.On(hub.EventSelected, func(_ context.Context, ev hub.Event) {
		if c.sess.Box.State() == chatbox.StateLoading {
			c.printf("* opening #%d", ev.Payload.(int64))
			return
		}
		c.printDialog()
	})
	c.sess.On(hub.EventOpened, func(_ context.Context, ev hub.Event) {
		if c.sess.Box.DialogID() == ev.Payload.(int64) {
			c.printDialog()
		}
	})
	c.sess.On(hub.EventMessage, func(_ context.Context, ev hub.Event) {
		c.printMessage(ev.Payload.(model.ChatMessage))
	})
}

// Handle runs one input line and reports whether the user asked to quit.
func (c *Console) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		c.printf("%s", helpText)
	case "/list":
		c.list()
	case "/open":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			c.printError("usage: /open <id>")
			return false
		}
		c.sess.Dialogs.Select(ctx, id)
	case "/new":
		c.sess.Dialogs.SetTopicInput(arg)
		if _, ok := c.sess.Dialogs.CreateDialog(); !ok {
			c.printError("the topic must not be empty")
		}
	case "/join":
		if err := c.sess.Box.Join(); err != nil {
			c.printError(err.Error())
		}
	case "/leave":
		if c.sess.Box.DialogID() == 0 || !c.sess.Box.Connected() {
			c.printError("no open dialog or not connected")
			return false
		}
		if err := c.sess.Box.DisconnectFromDialog(); err != nil {
			c.printError(err.Error())
		}
	case "/history":
		c.printDialog()
	case "/suggest":
		go c.draftReply(ctx)
	case "/status":
		c.status()
	case "/quit", "/exit":
		return true
	default:
		c.printError("unknown command, try /help")
	}
	return false
}

func (c *Console) send(content string) {
	if c.sess.Box.DialogID() == 0 {
		c.printError("open or create a dialog first")
		return
	}
	if err := c.sess.Box.Send(content); err != nil {
		c.printError(err.Error())
	}
}

func (c *Console) list() {
	sections := []struct {
		name    string
		dialogs []model.Dialog
	}{
		{"pending", c.sess.Dialogs.Pending()},
		{"open", c.sess.Dialogs.Open()},
		{"closed", c.sess.Dialogs.Closed()},
	}
	empty := true
	for _, sec := range sections {
		if len(sec.dialogs) == 0 {
			continue
		}
		empty = false
		c.printf("%s:", sec.name)
		for _, d := range sec.dialogs {
			line := fmt.Sprintf("  #%-5d %s", d.ID, d.Title())
			if date := d.Date(); date != "" {
				line += "  (" + date + ")"
			}
			if n := c.sess.Dialogs.UnreadCount(d); n > 0 {
				line += fmt.Sprintf("  [%d unread]", n)
			}
			c.printf("%s", line)
		}
	}
	if empty {
		c.printf("no dialogs")
	}
}

func (c *Console) status() {
	state := "offline"
	if c.sess.Manager.Connected() {
		state = "online"
	}
	c.printf("channel: %s, queued sends: %d", state, c.sess.Queue.Len())
	if id := c.sess.Box.DialogID(); id != 0 {
		c.printf("dialog: #%d %s (%s)", id, c.sess.Box.Title(), c.sess.Box.State())
	} else {
		c.printf("dialog: none")
	}
}

func (c *Console) printDialog() {
	box := c.sess.Box
	if box.DialogID() == 0 {
		c.printf("no open dialog")
		return
	}
	header := fmt.Sprintf("== #%d %s", box.DialogID(), box.Title())
	if date := box.Date(); date != "" {
		header += " (" + date + ")"
	}
	c.printf("%s", header)
	for _, msg := range box.Messages() {
		c.printMessage(msg)
	}
}

func (c *Console) printMessage(msg model.ChatMessage) {
	user := c.sess.User()
	var self string
	if user != nil {
		self = strconv.FormatInt(user.ID, 10)
	}

	ts := model.FormatTimestamp(msg.Timestamp)
	switch model.Kind(msg, self) {
	case model.KindSystem:
		c.printf("%s  %s", ts, model.FormatMessage(msg))
	case model.KindMine:
		c.printf("%s  me: %s", ts, msg.Content)
	default:
		c.printf("%s  %s: %s", ts, c.sess.Box.SenderName(msg.Sender), msg.Content)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) printError(msg string) {
	c.printf("! %s", msg)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

package subscription

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"ycyw-chat/internal/logger"
	"ycyw-chat/internal/model"
)

const (
	TopicDialogsNew     = "/topic/dialogs/new"
	TopicDialogsRefresh = "/topic/dialogs/refresh"
	QueueDialogCreated  = "/user/queue/dialog-created"
)

func DialogTopic(id int64) string {
	return "/topic/dialog/" + strconv.FormatInt(id, 10)
}

// UpdateToken is a dialog list change announced on the update topics.
type UpdateToken string

const (
	UpdateNew     UpdateToken = "NEW"
	UpdatePending UpdateToken = "PENDING"
	UpdateOpened  UpdateToken = "OPENED"
	UpdateClosed  UpdateToken = "CLOSED"
)

func (t UpdateToken) Valid() bool {
	switch t {
	case UpdateNew, UpdatePending, UpdateOpened, UpdateClosed:
		return true
	}
	return false
}

// ParseUpdate reads a bare token or {"event": token}. Unknown tokens report
// false.
func ParseUpdate(msg Message) (UpdateToken, bool) {
	var tok UpdateToken
	if msg.JSON {
		tok = UpdateToken(msg.Field("event").String())
	} else {
		tok = UpdateToken(msg.Text())
	}
	return tok, tok.Valid()
}

// Updates calls fn for every recognised token on both update topics.
func (s *Subscriber) Updates(fn func(UpdateToken)) Handle {
	on := func(msg Message) {
		tok, ok := ParseUpdate(msg)
		if !ok {
			s.logger.Debug("ignoring update", logger.Destination(msg.Destination), slog.String("token", string(tok)))
			return
		}
		fn(tok)
	}
	scope := NewScope()
	scope.Add(s.Subscribe(TopicDialogsNew, on))
	scope.Add(s.Subscribe(TopicDialogsRefresh, on))
	return scope
}

// DialogCreated delivers the dialogs the server opens for the current user.
func (s *Subscriber) DialogCreated(fn func(model.Dialog)) Handle {
	return s.Subscribe(QueueDialogCreated, func(msg Message) {
		var d model.Dialog
		if err := msg.Decode(&d); err != nil {
			s.logger.Warn("bad dialog-created payload", logger.Err(err))
			return
		}
		fn(d)
	})
}

// DialogMessages delivers the chat messages pushed for one dialog.
func (s *Subscriber) DialogMessages(dialogID int64, fn func(model.ChatMessage)) Handle {
	return s.Subscribe(DialogTopic(dialogID), func(msg Message) {
		chat, err := DecodeChatMessage(msg)
		if err != nil {
			s.logger.Warn("bad chat message payload", logger.Dialog(dialogID), logger.Err(err))
			return
		}
		fn(chat)
	})
}

// DecodeChatMessage decodes a pushed chat message. The server may send the
// sender as a number; it is turned into its string form first.
func DecodeChatMessage(msg Message) (model.ChatMessage, error) {
	var chat model.ChatMessage
	raw, err := NormalizeSender(msg.Raw)
	if err != nil {
		return chat, err
	}
	if err := (Message{Destination: msg.Destination, Raw: raw, JSON: msg.JSON}).Decode(&chat); err != nil {
		return chat, err
	}
	return chat, nil
}

// NormalizeSender rewrites a numeric "sender" field as a string.
func NormalizeSender(raw []byte) ([]byte, error) {
	sender := gjson.GetBytes(raw, "sender")
	if sender.Type != gjson.Number {
		return raw, nil
	}
	out, err := sjson.SetBytes(raw, "sender", sender.Raw)
	if err != nil {
		return nil, fmt.Errorf("normalizing sender: %w", err)
	}
	return out, nil
}

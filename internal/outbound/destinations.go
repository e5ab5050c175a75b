package outbound

import (
	"encoding/json"
	"fmt"

	"ycyw-chat/internal/model"
)

// application destinations handled by the server
const (
	DestCreateDialog = "/app/chat.createDialog"
	DestSendMessage  = "/app/chat.sendMessage"
	DestAddUser      = "/app/chat.addUser"
	DestDisconnect   = "/app/chat.disconnect"

	contentText = "text/plain"
	contentJSON = "application/json"

	leaveNotice = "L'utilisateur s'est déconnecté"
)

// CreateDialog asks the server to open a dialog on topic. The new dialog comes
// back on the user's dialog-created queue.
func (q *Queue) CreateDialog(topic string) error {
	return q.EnqueueOrSend(DestCreateDialog, contentText, []byte(topic))
}

func (q *Queue) SendMessage(msg model.ChatMessage) error {
	if msg.Type == "" {
		msg.Type = model.MessageChat
	}
	return q.sendJSON(DestSendMessage, msg)
}

func (q *Queue) Join(dialogID int64, sender string) error {
	return q.sendJSON(DestAddUser, model.ChatMessage{
		DialogID: dialogID,
		Sender:   sender,
		Type:     model.MessageJoin,
	})
}

// Leave tells the server the user left; the server closes the dialog.
func (q *Queue) Leave(dialogID int64, sender string) error {
	return q.sendJSON(DestDisconnect, model.ChatMessage{
		DialogID: dialogID,
		Content:  leaveNotice,
		Sender:   sender,
		Type:     model.MessageLeave,
	})
}

func (q *Queue) sendJSON(destination string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", destination, err)
	}
	return q.EnqueueOrSend(destination, contentJSON, body)
}

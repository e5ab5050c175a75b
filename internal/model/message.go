package model

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// MessageKind tells a renderer how a message relates to the current user.
type MessageKind string

const (
	KindSystem MessageKind = "system"
	KindMine   MessageKind = "mine"
	KindOther  MessageKind = "other"
)

func FormatMessage(msg ChatMessage) string {
	switch msg.Type {
	case MessageJoin:
		return "[CONNEXION] " + msg.Sender
	case MessageLeave:
		return "[DÉCONNEXION] " + msg.Sender
	case MessageClose:
		return "[CLOSE] " + msg.Content
	case MessageInfo:
		return "[INFO] " + msg.Content
	default:
		return fmt.Sprintf("%s: %s", msg.Sender, msg.Content)
	}
}

// SenderName resolves a sender id against the dialog participants.
func SenderName(senderID string, participants []UserProfile) string {
	if senderID == "" || participants == nil {
		return "Inconnu"
	}
	if id, err := strconv.ParseInt(senderID, 10, 64); err == nil {
		for _, p := range participants {
			if p.ID == id {
				return p.FirstName
			}
		}
	}
	return "Utilisateur " + senderID
}

func Kind(msg ChatMessage, currentUserID string) MessageKind {
	if msg.Type != MessageChat {
		return KindSystem
	}
	if currentUserID != "" && msg.Sender == currentUserID {
		return KindMine
	}
	return KindOther
}

// SortMessages returns a copy of msgs ordered by timestamp ascending. Messages
// without a usable timestamp sort as the epoch; ties keep arrival order.
func SortMessages(msgs []ChatMessage) []ChatMessage {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b ChatMessage) int {
		return sortKey(a).Compare(sortKey(b))
	})
	return sorted
}

func sortKey(msg ChatMessage) time.Time {
	t, ok := ParseTimestamp(msg.Timestamp)
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	return t
}

// UnreadCount counts the messages of d the user has not read and did not send.
func UnreadCount(d Dialog, user *UserProfile) int {
	if user == nil {
		return 0
	}
	self := strconv.FormatInt(user.ID, 10)
	n := 0
	for _, msg := range d.Messages {
		if !msg.IsRead && msg.Sender != self {
			n++
		}
	}
	return n
}

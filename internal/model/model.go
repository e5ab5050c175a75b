package model

// DialogStatus is the lifecycle status of a dialog. The server only moves it
// forward (PENDING -> OPEN -> CLOSED); the client reflects what it is sent.
type DialogStatus string

const (
	DialogOpen    DialogStatus = "OPEN"
	DialogPending DialogStatus = "PENDING"
	DialogClosed  DialogStatus = "CLOSED"
)

type MessageType string

const (
	MessageChat  MessageType = "CHAT"
	MessageJoin  MessageType = "JOIN"
	MessageLeave MessageType = "LEAVE"
	MessageInfo  MessageType = "INFO"
	MessageClose MessageType = "CLOSE"
)

type ProfileType string

const (
	ProfileIndividual ProfileType = "INDIVIDUAL"
	ProfileCompany    ProfileType = "COMPANY"
	ProfileSupport    ProfileType = "SUPPORT"
	ProfileAgency     ProfileType = "AGENCY"
)

type UserProfile struct {
	ID        int64       `json:"id"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Company   string      `json:"company"`
	Type      ProfileType `json:"type"`
}

// IsSupport reports whether the user also sees every pending dialog.
func (u *UserProfile) IsSupport() bool {
	return u != nil && u.Type == ProfileSupport
}

type ChatMessage struct {
	ID        int64       `json:"id,omitempty"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp,omitempty"`
	DialogID  int64       `json:"dialogId"`
	Sender    string      `json:"sender"`
	IsRead    bool        `json:"isRead,omitempty"`
	Type      MessageType `json:"type"`
}

type Dialog struct {
	ID             int64         `json:"id"`
	Topic          string        `json:"topic"`
	Status         DialogStatus  `json:"status"`
	CreatedAt      string        `json:"createdAt,omitempty"`
	ClosedAt       string        `json:"closedAt,omitempty"`
	LastActivityAt string        `json:"lastActivityAt,omitempty"`
	Participants   []UserProfile `json:"participants"`
	Messages       []ChatMessage `json:"messages"`
}

// Title is the display title encoded in the topic. An empty topic is treated
// as absent.
func (d Dialog) Title() string {
	if d.Topic == "" {
		return ExtractDialogTitle(nil)
	}
	return ExtractDialogTitle(&d.Topic)
}

// Date is the creation date encoded in the topic, or "" when there is none.
func (d Dialog) Date() string {
	return ExtractDialogDate(&d.Topic)
}

// api request/response for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

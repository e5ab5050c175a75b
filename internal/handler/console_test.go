package handler_test

import (
	"bytes"
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ycyw-chat/internal/channel"
	"ycyw-chat/internal/config"
	"ycyw-chat/internal/handler"
	"ycyw-chat/internal/model"
	"ycyw-chat/internal/session"
	"ycyw-chat/internal/token"
)

type stubAPI struct {
	dialogs []model.Dialog
}

func (s *stubAPI) Login(context.Context, string, string) (model.AuthResponse, error) {
	return model.AuthResponse{}, nil
}

func (s *stubAPI) Me(context.Context) (model.UserProfile, error) {
	return model.UserProfile{ID: 1, FirstName: "Ana"}, nil
}

func (s *stubAPI) DialogsBySender(context.Context, int64) ([]model.Dialog, error) {
	return s.dialogs, nil
}

func (s *stubAPI) DialogsByStatus(context.Context, model.DialogStatus) ([]model.Dialog, error) {
	return nil, nil
}

func (s *stubAPI) Dialog(_ context.Context, id int64) (model.Dialog, error) {
	for _, d := range s.dialogs {
		if d.ID == id {
			return d, nil
		}
	}
	return model.Dialog{}, errors.New("not found")
}

func (s *stubAPI) MarkAsRead(context.Context, int64, int64) error {
	return nil
}

type offlineDialer struct{}

func (offlineDialer) Dial(context.Context, string) (channel.Session, error) {
	return nil, errors.New("offline")
}

type noTokens struct{}

func (noTokens) Token() (string, error) { return "", token.ErrNoToken }
func (noTokens) Save(string) error      { return nil }
func (noTokens) Clear() error           { return nil }

type savedToken struct{}

func (savedToken) Token() (string, error) { return "tok", nil }
func (savedToken) Save(string) error      { return nil }
func (savedToken) Clear() error           { return nil }

// syncBuffer lets the hub goroutine write while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ = Describe("Console", func() {
	var (
		out     *syncBuffer
		api     *stubAPI
		sess    *session.Session
		console *handler.Console
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		out = &syncBuffer{}
		api = &stubAPI{}
		sess = session.New(config.Config{}, session.Deps{Tokens: noTokens{}, API: api, Dialer: offlineDialer{}})
		console = handler.NewConsole(sess, out)
	})

	It("quits on /quit", func() {
		Expect(console.Handle(ctx, "/quit")).To(BeTrue())
		Expect(console.Handle(ctx, "/exit")).To(BeTrue())
	})

	It("ignores blank lines", func() {
		Expect(console.Handle(ctx, "   ")).To(BeFalse())
		Expect(out.String()).To(BeEmpty())
	})

	It("rejects unknown commands", func() {
		console.Handle(ctx, "/frobnicate")
		Expect(out.String()).To(ContainSubstring("unknown command"))
	})

	It("refuses an empty topic", func() {
		console.Handle(ctx, "/new    ")
		Expect(out.String()).To(ContainSubstring("topic must not be empty"))
		Expect(sess.Dialogs.ShowError()).To(BeTrue())
	})

	It("queues a new dialog while offline", func() {
		console.Handle(ctx, "/new Billing question")
		Expect(sess.Queue.Len()).To(Equal(1))
		Expect(sess.Queue.Pending()[0].Body).To(Equal([]byte("Billing question")))
	})

	It("prints the dialog it just opened", func() {
		api.dialogs = []model.Dialog{{ID: 3, Topic: "Billing.@20240410_12:12:00", Status: model.DialogOpen}}
		sess = session.New(config.Config{}, session.Deps{Tokens: savedToken{}, API: api, Dialer: offlineDialer{}})
		console = handler.NewConsole(sess, out)
		console.Watch()

		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sess.Run(runCtx) }()
		DeferCleanup(func() {
			cancel()
			Eventually(done).Should(Receive())
		})
		Eventually(sess.Dialogs.User).ShouldNot(BeNil())

		console.Handle(runCtx, "/open 3")

		Eventually(out.String).Should(ContainSubstring("== #3"))
		Expect(out.String()).NotTo(ContainSubstring("no open dialog"))
		Expect(sess.Box.DialogID()).To(Equal(int64(3)))
	})

	It("validates /open arguments", func() {
		console.Handle(ctx, "/open abc")
		Expect(out.String()).To(ContainSubstring("usage: /open <id>"))
	})

	It("asks for a dialog before sending text", func() {
		console.Handle(ctx, "hello")
		Expect(out.String()).To(ContainSubstring("open or create a dialog first"))
	})

	It("reports the connection state", func() {
		console.Handle(ctx, "/status")
		Expect(out.String()).To(ContainSubstring("channel: offline"))
		Expect(out.String()).To(ContainSubstring("dialog: none"))
	})

	It("lists dialogs by status", func() {
		api.dialogs = []model.Dialog{
			{ID: 3, Topic: "Billing.@20240410_12:12:00", Status: model.DialogOpen},
			{ID: 5, Topic: "", Status: model.DialogClosed},
		}
		user := &model.UserProfile{ID: 1}
		sess.Dialogs.SetUser(user)
		Expect(sess.Dialogs.Load(ctx, user)).To(Succeed())

		console.Handle(ctx, "/list")

		Expect(out.String()).To(ContainSubstring("open:"))
		Expect(out.String()).To(ContainSubstring("#3     Billing  (10/04/2024 à 12h12)"))
		Expect(out.String()).To(ContainSubstring("closed:"))
		Expect(out.String()).To(ContainSubstring("No Title"))
		Expect(out.String()).NotTo(ContainSubstring("pending:"))
	})

	It("says when there are no dialogs", func() {
		console.Handle(ctx, "/list")
		Expect(out.String()).To(ContainSubstring("no dialogs"))
	})
})

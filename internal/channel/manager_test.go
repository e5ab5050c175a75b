package channel_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ycyw-chat/internal/channel"
	"ycyw-chat/internal/token"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []channel.ConnectionState
}

func (r *stateRecorder) record(s channel.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) Connected() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.states))
	for i, s := range r.states {
		out[i] = s.Connected
	}
	return out
}

func (r *stateRecorder) Last() channel.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return channel.ConnectionState{}
	}
	return r.states[len(r.states)-1]
}

var _ = Describe("Manager", func() {
	var (
		dialer *fakeDialer
		m      *channel.Manager
		states *stateRecorder
	)

	BeforeEach(func() {
		dialer = &fakeDialer{}
		m = channel.NewManager(dialer, token.Static("tok"), channel.WithReconnectDelay(10*time.Millisecond))
		states = &stateRecorder{}
		m.OnState(states.record)
		DeferCleanup(m.Deactivate)
	})

	It("reports the current state to a new listener", func() {
		Expect(states.Connected()).To(Equal([]bool{false}))
	})

	It("connects with the bearer token and reports connected", func() {
		m.Activate(context.Background())

		Eventually(m.Connected).Should(BeTrue())
		Expect(states.Connected()).To(Equal([]bool{false, true}))
		Expect(dialer.Tokens()).To(Equal([]string{"tok"}))
	})

	It("ignores a second Activate", func() {
		m.Activate(context.Background())
		m.Activate(context.Background())

		Eventually(m.Connected).Should(BeTrue())
		Consistently(dialer.Attempts, 50*time.Millisecond).Should(Equal(1))
	})

	It("dials without a token when none is available", func() {
		m = channel.NewManager(dialer, token.Static(""), channel.WithReconnectDelay(10*time.Millisecond))
		DeferCleanup(m.Deactivate)
		m.Activate(context.Background())

		Eventually(m.Connected).Should(BeTrue())
		Expect(dialer.Tokens()).To(Equal([]string{""}))
	})

	Context("when dialing fails", func() {
		BeforeEach(func() {
			dialer.dialFn = func(attempt int) error {
				if attempt < 3 {
					return errBoom
				}
				return nil
			}
		})

		It("reports each failure and keeps retrying", func() {
			m.Activate(context.Background())

			Eventually(m.Connected).Should(BeTrue())
			Expect(dialer.Attempts()).To(Equal(4))
			for range 3 {
				Expect(m.Errors()).To(Receive(MatchError(errBoom)))
			}
		})

		It("never returns the error from Activate", func() {
			dialer.dialFn = func(int) error { return errBoom }
			m.Activate(context.Background())

			Eventually(dialer.Attempts).Should(BeNumerically(">=", 3))
			Expect(m.Connected()).To(BeFalse())
			Expect(states.Last().Err).To(MatchError(errBoom))
		})
	})

	Context("when the session drops", func() {
		It("goes disconnected, reports the error and reconnects", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			dialer.Last().kill(errBoom)

			Eventually(m.Errors()).Should(Receive(MatchError(errBoom)))
			Eventually(func() int { return len(dialer.Sessions()) }).Should(Equal(2))
			Eventually(m.Connected).Should(BeTrue())
			Expect(states.Connected()).To(Equal([]bool{false, true, false, true}))
		})
	})

	Describe("Publish", func() {
		It("fails with ErrNotConnected before a session exists", func() {
			err := m.Publish("/app/chat.sendMessage", "application/json", []byte("{}"))
			Expect(err).To(MatchError(channel.ErrNotConnected))
		})

		It("sends on the live session", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			Expect(m.Publish("/app/chat.createDialog", "text/plain", []byte("Billing"))).To(Succeed())
			Expect(dialer.Last().Sent()).To(Equal([]sent{{"/app/chat.createDialog", "text/plain", "Billing"}}))
		})

		It("wraps session send errors", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())
			dialer.Last().sendFn = func(string) error { return errBoom }

			err := m.Publish("/app/chat.addUser", "application/json", []byte("{}"))
			Expect(err).To(MatchError(errBoom))
			Expect(err.Error()).To(ContainSubstring("/app/chat.addUser"))
			Expect(err).NotTo(MatchError(channel.ErrNotConnected))
		})

		It("reports ErrNotConnected when the session dies during the send", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())
			sess := dialer.Last()
			sess.sendFn = func(string) error {
				sess.kill(errBoom)
				return errBoom
			}

			err := m.Publish("/app/chat.sendMessage", "application/json", []byte("{}"))
			Expect(err).To(MatchError(channel.ErrNotConnected))
			Expect(err).To(MatchError(errBoom))
		})
	})

	Describe("Deactivate", func() {
		It("emits a stopped state and stops reconnecting", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			m.Deactivate()

			Expect(states.Last()).To(Equal(channel.ConnectionState{Stopped: true}))
			Expect(m.Publish("/x", "text/plain", nil)).To(MatchError(channel.ErrNotConnected))
			Consistently(func() int { return len(dialer.Sessions()) }, 50*time.Millisecond).Should(Equal(1))
		})

		It("is idempotent", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			m.Deactivate()
			m.Deactivate()

			states.mu.Lock()
			defer states.mu.Unlock()
			stopped := 0
			for _, s := range states.states {
				if s.Stopped {
					stopped++
				}
			}
			Expect(stopped).To(Equal(1))
		})

		It("does nothing on a manager that was never activated", func() {
			m.Deactivate()
			Expect(states.Connected()).To(Equal([]bool{false}))
		})

		It("can be activated again", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())
			m.Deactivate()

			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())
			Expect(dialer.Sessions()).To(HaveLen(2))
		})
	})

	Describe("Watch", func() {
		var (
			mu       sync.Mutex
			received []string
		)

		record := func(f channel.Frame) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, string(f.Body))
		}
		got := func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), received...)
		}

		BeforeEach(func() {
			mu.Lock()
			received = nil
			mu.Unlock()
		})

		It("subscribes once connected and delivers frames", func() {
			m.Watch("/topic/dialogs/new", record)
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			dialer.Last().Push("/topic/dialogs/new", "NEW")
			Eventually(got).Should(Equal([]string{"NEW"}))
		})

		It("subscribes immediately on a live session", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			m.Watch("/topic/dialog/7", record)
			Expect(dialer.Last().Feeds("/topic/dialog/7")).To(HaveLen(1))
		})

		It("survives reconnects", func() {
			m.Watch("/topic/dialogs/refresh", record)
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			dialer.Last().kill(errBoom)
			Eventually(func() int { return len(dialer.Sessions()) }).Should(Equal(2))
			Eventually(m.Connected).Should(BeTrue())

			dialer.Last().Push("/topic/dialogs/refresh", "CLOSED")
			Eventually(got).Should(Equal([]string{"CLOSED"}))
		})

		It("stops delivery and unsubscribes on Dispose", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())
			w := m.Watch("/topic/dialog/3", record)
			feed := dialer.Last().Feeds("/topic/dialog/3")[0]

			w.Dispose()
			w.Dispose()

			Expect(w.Disposed()).To(BeTrue())
			Eventually(feed.Unsubscribed).Should(BeTrue())
			dialer.Last().Push("/topic/dialog/3", "late")
			Consistently(got, 50*time.Millisecond).Should(BeEmpty())
		})

		It("is not re-subscribed after Dispose", func() {
			w := m.Watch("/topic/dialog/3", record)
			w.Dispose()
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			Expect(dialer.Last().Feeds("/topic/dialog/3")).To(BeEmpty())
		})

		It("allows a handler to dispose its own watch", func() {
			m.Activate(context.Background())
			Eventually(m.Connected).Should(BeTrue())

			var w *channel.Watch
			w = m.Watch("/user/queue/dialog-created", func(f channel.Frame) {
				record(f)
				w.Dispose()
			})
			dialer.Last().Push("/user/queue/dialog-created", `{"id":1}`)
			dialer.Last().Push("/user/queue/dialog-created", `{"id":2}`)

			Eventually(got).Should(Equal([]string{`{"id":1}`}))
			Consistently(got, 50*time.Millisecond).Should(HaveLen(1))
		})
	})

	It("drops errors nobody reads instead of blocking", func() {
		dialer.dialFn = func(attempt int) error {
			if attempt < 40 {
				return errors.New("refused")
			}
			return nil
		}
		m.Activate(context.Background())
		Eventually(m.Connected, 2*time.Second).Should(BeTrue())
	})
})

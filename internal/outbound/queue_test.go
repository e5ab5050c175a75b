package outbound_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ycyw-chat/internal/channel"
	"ycyw-chat/internal/model"
	"ycyw-chat/internal/outbound"
)

type publishCall struct {
	destination string
	contentType string
	body        string
}

type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	calls     []publishCall
	publishFn func(destination string, body []byte) error
}

func (p *mockPublisher) Publish(destination, contentType string, body []byte) error {
	if p.publishFn != nil {
		if err := p.publishFn(destination, body); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{destination, contentType, string(body)})
	return nil
}

func (p *mockPublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *mockPublisher) setConnected(c bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = c
}

func (p *mockPublisher) bodies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.body
	}
	return out
}

var _ = Describe("Queue", func() {
	var (
		pub *mockPublisher
		q   *outbound.Queue
	)

	BeforeEach(func() {
		pub = &mockPublisher{}
		q = outbound.New(pub, nil)
	})

	It("sends immediately when connected", func() {
		pub.setConnected(true)

		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("m1"))).To(Succeed())

		Expect(pub.calls).To(Equal([]publishCall{{"/app/x", "text/plain", "m1"}}))
		Expect(q.Len()).To(BeZero())
	})

	It("queues while disconnected", func() {
		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("m1"))).To(Succeed())

		Expect(pub.calls).To(BeEmpty())
		pending := q.Pending()
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].ID).NotTo(BeEmpty())
		Expect(pending[0].Destination).To(Equal("/app/x"))
		Expect(pending[0].EnqueuedAt).NotTo(BeZero())
	})

	It("drains in FIFO order on connect", func() {
		for _, m := range []string{"m1", "m2", "m3"} {
			Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte(m))).To(Succeed())
		}

		pub.setConnected(true)
		q.HandleState(channel.ConnectionState{Connected: true})

		Expect(pub.bodies()).To(Equal([]string{"m1", "m2", "m3"}))
		Expect(q.Len()).To(BeZero())
	})

	It("does not deduplicate", func() {
		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("same"))).To(Succeed())
		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("same"))).To(Succeed())

		pub.setConnected(true)
		Expect(q.Drain()).To(Equal(2))
		Expect(pub.bodies()).To(Equal([]string{"same", "same"}))
	})

	It("puts new sends behind pending entries", func() {
		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("m1"))).To(Succeed())
		pub.setConnected(true)

		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("m2"))).To(Succeed())

		Expect(pub.bodies()).To(Equal([]string{"m1", "m2"}))
	})

	It("queues a send the channel refuses as not connected", func() {
		pub.setConnected(true)
		pub.publishFn = func(string, []byte) error { return channel.ErrNotConnected }

		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("m1"))).To(Succeed())
		Expect(q.Len()).To(Equal(1))
	})

	It("queues a send whose session died mid-write", func() {
		pub.setConnected(true)
		pub.publishFn = func(string, []byte) error {
			return fmt.Errorf("publish /app/x: %w: %w", channel.ErrNotConnected, errors.New("broken pipe"))
		}

		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("m1"))).To(Succeed())
		Expect(q.Len()).To(Equal(1))
	})

	It("returns other send errors", func() {
		boom := errors.New("boom")
		pub.setConnected(true)
		pub.publishFn = func(string, []byte) error { return boom }

		err := q.EnqueueOrSend("/app/x", "text/plain", []byte("m1"))
		Expect(err).To(MatchError(boom))
		Expect(q.Len()).To(BeZero())
	})

	It("keeps the failed entry and the rest when a drain is cut short", func() {
		for _, m := range []string{"m1", "m2", "m3"} {
			Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte(m))).To(Succeed())
		}
		pub.setConnected(true)
		pub.publishFn = func(_ string, body []byte) error {
			if string(body) == "m2" {
				return channel.ErrNotConnected
			}
			return nil
		}

		Expect(q.Drain()).To(Equal(1))
		Expect(pub.bodies()).To(Equal([]string{"m1"}))

		pub.publishFn = nil
		Expect(q.Drain()).To(Equal(2))
		Expect(pub.bodies()).To(Equal([]string{"m1", "m2", "m3"}))
	})

	It("forgets pending sends on an explicit stop", func() {
		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("m1"))).To(Succeed())

		q.HandleState(channel.ConnectionState{Stopped: true})

		Expect(q.Len()).To(BeZero())
	})

	It("keeps pending sends on an ordinary disconnect", func() {
		Expect(q.EnqueueOrSend("/app/x", "text/plain", []byte("m1"))).To(Succeed())

		q.HandleState(channel.ConnectionState{Err: errors.New("socket closed")})

		Expect(q.Len()).To(Equal(1))
	})

	Describe("application destinations", func() {
		BeforeEach(func() {
			pub.setConnected(true)
		})

		decode := func(body string) model.ChatMessage {
			var msg model.ChatMessage
			Expect(json.Unmarshal([]byte(body), &msg)).To(Succeed())
			return msg
		}

		It("creates a dialog with a plain text topic", func() {
			Expect(q.CreateDialog("Billing")).To(Succeed())
			Expect(pub.calls).To(Equal([]publishCall{{outbound.DestCreateDialog, "text/plain", "Billing"}}))
		})

		It("sends chat messages as JSON", func() {
			Expect(q.SendMessage(model.ChatMessage{DialogID: 4, Content: "hello", Sender: "12"})).To(Succeed())

			Expect(pub.calls[0].destination).To(Equal(outbound.DestSendMessage))
			Expect(pub.calls[0].contentType).To(Equal("application/json"))
			msg := decode(pub.calls[0].body)
			Expect(msg.Type).To(Equal(model.MessageChat))
			Expect(msg.DialogID).To(Equal(int64(4)))
			Expect(msg.Sender).To(Equal("12"))
		})

		It("joins a dialog", func() {
			Expect(q.Join(4, "12")).To(Succeed())

			Expect(pub.calls[0].destination).To(Equal(outbound.DestAddUser))
			Expect(decode(pub.calls[0].body).Type).To(Equal(model.MessageJoin))
		})

		It("leaves a dialog with a notice", func() {
			Expect(q.Leave(4, "12")).To(Succeed())

			Expect(pub.calls[0].destination).To(Equal(outbound.DestDisconnect))
			msg := decode(pub.calls[0].body)
			Expect(msg.Type).To(Equal(model.MessageLeave))
			Expect(msg.Content).NotTo(BeEmpty())
		})
	})
})

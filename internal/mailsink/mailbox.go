package mailsink

import (
	"sync"
	"time"

	"github.com/shineum/bucks2bar/internal/email"
)

// DefaultCapacity is the number of messages a Mailbox keeps when none is configured.
const DefaultCapacity = 100

// Message is one captured mail transaction.
type Message struct {
	ID       uint64
	From     string
	To       []string
	Received time.Time
	Raw      []byte

	// Email is the parsed message, or nil when Raw could not be parsed.
	Email *email.Email
}

// Mailbox keeps the most recent messages in a fixed-size ring. It is safe for
// concurrent use.
type Mailbox struct {
	mu     sync.RWMutex
	ring   []*Message
	next   int
	count  int
	nextID uint64
}

// NewMailbox returns a Mailbox holding up to capacity messages.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mailbox{ring: make([]*Message, capacity)}
}

// Add stores m, evicting the oldest message when the mailbox is full, and
// returns the assigned ID.
func (b *Mailbox) Add(m *Message) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	m.ID = b.nextID
	b.ring[b.next] = m
	b.next = (b.next + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
	return m.ID
}

// Messages returns the stored messages, oldest first.
func (b *Mailbox) Messages() []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Message, 0, b.count)
	start := (b.next - b.count + len(b.ring)) % len(b.ring)
	for i := 0; i < b.count; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

// Get returns the message with the given ID if it is still stored.
func (b *Mailbox) Get(id uint64) (*Message, bool) {
	for _, m := range b.Messages() {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// Last returns the most recent message.
func (b *Mailbox) Last() (*Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil, false
	}
	return b.ring[(b.next-1+len(b.ring))%len(b.ring)], true
}

// Len returns the number of stored messages.
func (b *Mailbox) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Reset discards every stored message. IDs keep increasing.
func (b *Mailbox) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.ring)
	b.next = 0
	b.count = 0
}

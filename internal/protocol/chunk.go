package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultFrameBudget is the largest ciphertext sent as a single frame.
	DefaultFrameBudget = 16 * 1024
	// MaxChunks bounds a single chunked message (64 MiB at the default budget).
	MaxChunks = 4096
)

var ErrInvalidChunk = errors.New("invalid chunk")

// NewMessageID returns a random identifier for a chunked message.
func NewMessageID() string {
	return uuid.NewString()
}

// Split frames an encrypted blob for sending. A blob that fits the budget
// becomes one chat message; a larger one becomes ceil(len/budget)
// chat_chunk messages in index order, sharing an id from newID.
func Split(blob string, budget int, newID func() string) ([]*Message, error) {
	if budget <= 0 {
		budget = DefaultFrameBudget
	}
	if len(blob) <= budget {
		return []*Message{NewChatMessage(blob)}, nil
	}

	total := (len(blob) + budget - 1) / budget
	if total > MaxChunks {
		return nil, fmt.Errorf("%w: %d chunks exceeds limit %d", ErrInvalidChunk, total, MaxChunks)
	}
	if newID == nil {
		newID = NewMessageID
	}

	id := newID()
	frames := make([]*Message, 0, total)
	for i := 0; i < total; i++ {
		start := i * budget
		end := start + budget
		if end > len(blob) {
			end = len(blob)
		}
		frames = append(frames, NewChunkMessage(ChunkMessage{
			MessageID:   id,
			ChunkIndex:  i,
			TotalChunks: total,
			Payload:     blob[start:end],
		}))
	}
	return frames, nil
}

type pending struct {
	total   int
	chunks  map[int]string
	created time.Time
}

// Assembler collects chat_chunk fragments until a message is complete.
// Several messages may be in flight at once.
type Assembler struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	pending map[string]*pending
}

// NewAssembler creates an assembler. Incomplete messages older than ttl are
// dropped on a later Add; ttl <= 0 keeps them until Reset.
func NewAssembler(ttl time.Duration) *Assembler {
	return &Assembler{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]*pending),
	}
}

// Add records one fragment. When the last missing fragment arrives it
// returns the fragments joined in index order and forgets the message.
// A repeated index replaces the earlier fragment.
func (a *Assembler) Add(c ChunkMessage) (string, bool, error) {
	if c.MessageID == "" {
		return "", false, fmt.Errorf("%w: empty message id", ErrInvalidChunk)
	}
	if c.TotalChunks < 1 || c.TotalChunks > MaxChunks {
		return "", false, fmt.Errorf("%w: totalChunks %d", ErrInvalidChunk, c.TotalChunks)
	}
	if c.ChunkIndex < 0 || c.ChunkIndex >= c.TotalChunks {
		return "", false, fmt.Errorf("%w: chunkIndex %d of %d", ErrInvalidChunk, c.ChunkIndex, c.TotalChunks)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.evictLocked(now)

	p, ok := a.pending[c.MessageID]
	if !ok {
		p = &pending{total: c.TotalChunks, chunks: make(map[int]string), created: now}
		a.pending[c.MessageID] = p
	} else if p.total != c.TotalChunks {
		return "", false, fmt.Errorf("%w: message %s totalChunks changed from %d to %d",
			ErrInvalidChunk, c.MessageID, p.total, c.TotalChunks)
	}

	p.chunks[c.ChunkIndex] = c.Payload
	if len(p.chunks) < p.total {
		return "", false, nil
	}

	var sb strings.Builder
	for i := 0; i < p.total; i++ {
		sb.WriteString(p.chunks[i])
	}
	delete(a.pending, c.MessageID)
	return sb.String(), true, nil
}

func (a *Assembler) evictLocked(now time.Time) {
	if a.ttl <= 0 {
		return
	}
	for id, p := range a.pending {
		if now.Sub(p.created) > a.ttl {
			delete(a.pending, id)
		}
	}
}

// Pending returns the number of incomplete messages.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Reset drops all incomplete messages.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = make(map[string]*pending)
}

package channel

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// A MemGroup is a group whose members are goroutines of the same process.
// Messages are still encoded as frames, so that nothing but bytes is shared between members.
type MemGroup struct {
	size   int
	limits Limits
	mu     sync.Mutex
	boxes  map[memKey]chan message
	closed chan struct{}
	once   sync.Once
}

type memKey struct {
	to int
	boxKey
}

// NewMemGroup returns an in-memory group of the given size.
func NewMemGroup(size int) *MemGroup {
	return &MemGroup{
		size:   size,
		limits: DefaultLimits(),
		boxes:  make(map[memKey]chan message),
		closed: make(chan struct{}),
	}
}

// Transport returns the view of the member rank.
func (g *MemGroup) Transport(rank int) (Transport, error) {
	if err := checkRank(rank, g.size); err != nil {
		return nil, err
	}
	return &memTransport{group: g, rank: rank}, nil
}

// Close closes the group for all of its members.
func (g *MemGroup) Close() {
	g.once.Do(func() { close(g.closed) })
}

// box returns the mailbox of the given key. Each mailbox holds one message:
// a member sends at most one message per tag to a given peer.
func (g *MemGroup) box(k memKey) chan message {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.boxes[k]
	if !ok {
		b = make(chan message, 1)
		g.boxes[k] = b
	}
	return b
}

type memTransport struct {
	group *MemGroup
	rank  int
}

func (t *memTransport) Rank() int { return t.rank }

func (t *memTransport) Size() int { return t.group.size }

func (t *memTransport) Send(ctx context.Context, to int, tag Tag, payload []byte) error {
	if err := checkRank(to, t.group.size); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, NewFrame(t.rank, to, tag, payload), t.group.limits); err != nil {
		return err
	}
	box := t.group.box(memKey{to: to, boxKey: boxKey{from: t.rank, tag: tag}})
	select {
	case box <- message{payload: buf.Bytes()}:
		return nil
	case <-t.group.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTransport) Recv(ctx context.Context, from int, tag Tag) ([]byte, error) {
	if err := checkRank(from, t.group.size); err != nil {
		return nil, err
	}
	box := t.group.box(memKey{to: t.rank, boxKey: boxKey{from: from, tag: tag}})
	raw, err := wait(ctx, box, t.group.closed, from, tag)
	if err != nil {
		return nil, err
	}
	f, err := ReadFrame(bytes.NewReader(raw), t.group.limits)
	if err != nil && err != ErrChecksum {
		return nil, err
	}
	if int(f.Header.From) != from || int(f.Header.To) != t.rank || f.Header.Tag != tag {
		return nil, fmt.Errorf("channel: misrouted frame %d->%d tag %d", f.Header.From, f.Header.To, f.Header.Tag)
	}
	return f.Payload, err
}

// Close is a no-op: the group outlives its members. Use MemGroup.Close.
func (t *memTransport) Close() error { return nil }

// inject puts raw bytes in the mailbox of to, as if they were sent by from. Used by tests
// to simulate corrupted or out-of-protocol traffic.
func (g *MemGroup) inject(from, to int, tag Tag, raw []byte) {
	g.box(memKey{to: to, boxKey: boxKey{from: from, tag: tag}}) <- message{payload: raw}
}

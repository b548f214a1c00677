package channel

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TCP is a group member talking over TCP.
// The last rank of the group, the hub, listens; every other rank dials it and can only talk to it.
type TCP struct {
	rank   int
	size   int
	limits Limits
	log    *logrus.Entry

	ln   net.Listener
	mu   sync.Mutex
	conn map[int]*peer // by rank
	open map[net.Conn]bool
	box  map[boxKey]chan message

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	// lost is closed when a dialing member loses its connection to the hub.
	lost     chan struct{}
	lostOnce sync.Once
}

type peer struct {
	mu   sync.Mutex // serializes writes
	conn net.Conn
}

func (p *peer) write(ctx context.Context, f Frame, limits Limits) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return WriteFrame(p.conn, f, limits)
}

func newTCP(rank, size int, log *logrus.Entry) *TCP {
	return &TCP{
		rank:   rank,
		size:   size,
		limits: DefaultLimits(),
		log:    log.WithField("rank", rank),
		conn:   make(map[int]*peer),
		open:   make(map[net.Conn]bool),
		box:    make(map[boxKey]chan message),
		closed: make(chan struct{}),
		lost:   make(chan struct{}),
	}
}

// Hub returns the rank listening in a group of the given size.
func Hub(size int) int { return size - 1 }

// Listen makes the hub of a group of the given size listen on addr.
// Frames are accepted and buffered as soon as Listen returns.
func Listen(addr string, size int, log *logrus.Entry) (*TCP, error) {
	rank := Hub(size)
	if err := checkRank(rank, size); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "could not listen on %s", addr)
	}
	t := newTCP(rank, size, log)
	t.ln = ln
	t.wg.Add(1)
	go t.accept()
	t.log.Debugf("listening on %s for %d peers", ln.Addr(), size-1)
	return t, nil
}

// Addr returns the address the hub listens on, or nil for a dialing member.
func (t *TCP) Addr() net.Addr {
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// Dial joins the group whose hub listens on addr, as member rank.
// The hub may not listen yet: dialing is retried with an exponential backoff until ctx is done.
func Dial(ctx context.Context, addr string, rank, size int, log *logrus.Entry) (*TCP, error) {
	if err := checkRank(rank, size); err != nil {
		return nil, err
	}
	if rank == Hub(size) {
		return nil, fmt.Errorf("channel: rank %d is the hub of the group and must listen", rank)
	}
	t := newTCP(rank, size, log)
	var (
		d    net.Dialer
		conn net.Conn
	)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	op := func() (err error) {
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err != nil {
			t.log.Debugf("could not reach hub at %s: %v", addr, err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, errors.Wrapf(err, "could not join group at %s", addr)
	}
	hub := &peer{conn: conn}
	if err := hub.write(ctx, NewFrame(rank, Hub(size), tagHello, nil), t.limits); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "could not greet hub")
	}
	t.conn[Hub(size)] = hub
	t.wg.Add(1)
	go t.read(conn, Hub(size))
	return t, nil
}

func (t *TCP) Rank() int { return t.rank }

func (t *TCP) Size() int { return t.size }

func (t *TCP) accept() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.closed:
			default:
				t.log.Errorf("could not accept connection: %v", err)
			}
			return
		}
		t.mu.Lock()
		t.open[conn] = true
		t.mu.Unlock()
		t.wg.Add(1)
		go t.read(conn, -1)
	}
}

// read reads frames from conn until it is closed.
// from is the rank expected on conn, or -1 if it will be learned from the first frame.
func (t *TCP) read(conn net.Conn, from int) {
	defer t.wg.Done()
	defer func() {
		_ = conn.Close()
		t.mu.Lock()
		delete(t.open, conn)
		t.mu.Unlock()
		if from == Hub(t.size) {
			t.lostOnce.Do(func() { close(t.lost) })
		}
	}()
	r := bufio.NewReader(conn)
	for {
		f, err := ReadFrame(r, t.limits)
		if err != nil && err != ErrChecksum {
			select {
			case <-t.closed:
			default:
				if from >= 0 {
					t.log.Debugf("connection with rank %d ended: %v", from, err)
				} else {
					t.log.Warnf("dropping connection from %s: %v", conn.RemoteAddr(), err)
				}
			}
			return
		}
		sender := int(f.Header.From)
		if from < 0 {
			if checkRank(sender, t.size) != nil || sender == t.rank {
				t.log.Warnf("dropping connection from %s: invalid rank %d", conn.RemoteAddr(), sender)
				return
			}
			if !t.register(sender, conn) {
				t.log.Warnf("dropping connection from %s: rank %d already joined", conn.RemoteAddr(), sender)
				return
			}
			from = sender
		}
		if sender != from || int(f.Header.To) != t.rank {
			t.log.Warnf("ignoring frame %d->%d received on the connection of rank %d", sender, f.Header.To, from)
			continue
		}
		if f.Header.Tag == tagHello {
			continue
		}
		t.deliver(boxKey{from: from, tag: f.Header.Tag}, message{payload: f.Payload, err: err})
	}
}

func (t *TCP) register(rank int, conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conn[rank]; ok {
		return false
	}
	t.conn[rank] = &peer{conn: conn}
	t.log.Debugf("rank %d joined from %s", rank, conn.RemoteAddr())
	return true
}

func (t *TCP) mailbox(k boxKey) chan message {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.box[k]
	if !ok {
		b = make(chan message, 1)
		t.box[k] = b
	}
	return b
}

func (t *TCP) deliver(k boxKey, msg message) {
	select {
	case t.mailbox(k) <- msg:
	default:
		t.log.Warnf("dropping duplicate message with tag %d from rank %d", k.tag, k.from)
	}
}

func (t *TCP) Send(ctx context.Context, to int, tag Tag, payload []byte) error {
	if err := checkRank(to, t.size); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.mu.Lock()
	p, ok := t.conn[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel: rank %d is not connected to rank %d", to, t.rank)
	}
	return errors.Wrapf(p.write(ctx, NewFrame(t.rank, to, tag, payload), t.limits), "could not send to rank %d", to)
}

func (t *TCP) Recv(ctx context.Context, from int, tag Tag) ([]byte, error) {
	if err := checkRank(from, t.size); err != nil {
		return nil, err
	}
	done := t.closed
	if t.rank != Hub(t.size) {
		done = t.lost
	}
	return wait(ctx, t.mailbox(boxKey{from: from, tag: tag}), done, from, tag)
}

// Close closes the listener and every connection, and waits for the reading goroutines to end.
func (t *TCP) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		if t.ln != nil {
			err = t.ln.Close()
		}
		t.mu.Lock()
		for _, p := range t.conn {
			_ = p.conn.Close()
		}
		for conn := range t.open {
			_ = conn.Close()
		}
		t.mu.Unlock()
		t.wg.Wait()
	})
	return err
}

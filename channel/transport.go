// Package channel carries messages between the ranks of a portfolio group.
//
// A group has a fixed size; every member is addressed by its rank. Messages are point to point
// and tagged; a receive names both the expected sender and the expected tag, so a message can only
// be delivered to the receive it was meant for, whatever the order in which messages arrive.
//
// Two transports are provided: a TCP group, where the last rank listens and every other rank dials it,
// and an in-memory group for workers running as goroutines of the same process.
package channel

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// A Tag identifies the kind of a message.
type Tag uint16

// tagHello is sent by a dialing rank when it joins a TCP group. It is never delivered.
const tagHello Tag = 0

var (
	// ErrTimeout is returned by Recv when its context deadline expires.
	ErrTimeout = errors.New("channel: receive timed out")
	// ErrClosed is returned when the transport was closed.
	ErrClosed = errors.New("channel: transport closed")
)

// Transport is one member's view of a group.
type Transport interface {
	// Rank is the address of this member, between 0 and Size()-1.
	Rank() int
	// Size is the number of members of the group.
	Size() int
	// Send sends payload to the member to, tagged with tag. It blocks until the message was handed
	// over to the transport or ctx is done.
	Send(ctx context.Context, to int, tag Tag, payload []byte) error
	// Recv blocks until a message tagged with tag was received from the member from.
	// It returns ErrTimeout if the deadline of ctx expires first,
	// and ErrChecksum along with the payload if the payload was corrupted on the way.
	Recv(ctx context.Context, from int, tag Tag) ([]byte, error)
	// Close releases the resources of the transport. Pending receives fail with ErrClosed.
	// On a dialing TCP member, they also fail with ErrClosed once the hub went away.
	Close() error
}

type boxKey struct {
	from int
	tag  Tag
}

type message struct {
	payload []byte
	err     error
}

func checkRank(rank, size int) error {
	if size < 1 {
		return fmt.Errorf("channel: invalid group size %d", size)
	}
	if rank < 0 || rank >= size {
		return fmt.Errorf("channel: rank %d out of group of size %d", rank, size)
	}
	return nil
}

// wait waits for a message on box. A message delivered before closed was closed is still returned.
func wait(ctx context.Context, box <-chan message, closed <-chan struct{}, from int, tag Tag) ([]byte, error) {
	select {
	case msg := <-box:
		return msg.payload, msg.err
	case <-closed:
		select {
		case msg := <-box:
			return msg.payload, msg.err
		default:
		}
		return nil, ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, pkgerrors.Wrapf(ErrTimeout, "waiting for tag %d from rank %d", tag, from)
		}
		return nil, ctx.Err()
	}
}

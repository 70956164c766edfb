package link

import (
	"context"
	"errors"
	"time"

	"github.com/savegress/labsync/internal/astm"
)

// idlePoll is how often an idle Listener checks for outbound messages.
const idlePoll = 250 * time.Millisecond

// Handler is called for every transfer received from the line. Exactly one
// of m and err is non-nil.
type Handler func(ctx context.Context, raw string, m *astm.ParsedMessage, err error)

type outgoing struct {
	message string
	done    chan error
}

// Listener owns a Session: it accepts transfers from the instrument and
// interleaves queued outbound messages while the line is idle.
type Listener struct {
	session *Session
	handler Handler
	outbox  chan *outgoing
}

// NewListener returns a Listener on session. A zero IdleTimeout on session
// is replaced so that queued messages are not starved.
func NewListener(session *Session, handler Handler) *Listener {
	if session.IdleTimeout <= 0 {
		session.IdleTimeout = idlePoll
	}
	return &Listener{
		session: session,
		handler: handler,
		outbox:  make(chan *outgoing),
	}
}

// Run serves the line until ctx is done or the connection fails.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-l.outbox:
			out.done <- l.session.Send(ctx, out.message)
			continue
		default:
		}

		raw, err := l.session.Receive(ctx)
		switch {
		case err == nil:
			m, perr := astm.ParseString(raw)
			if perr != nil {
				l.session.logf("link: discarding message: %v", perr)
			}
			if l.handler != nil {
				l.handler(ctx, raw, m, perr)
			}
		case errors.Is(err, ErrIdle):
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrTimeout):
			l.session.logf("link: transfer abandoned: %v", err)
		default:
			return err
		}
	}
}

// Transmit queues message for the running Listener and waits for the
// transfer to finish.
func (l *Listener) Transmit(ctx context.Context, message string) error {
	out := &outgoing{message: message, done: make(chan error, 1)}

	select {
	case l.outbox <- out:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

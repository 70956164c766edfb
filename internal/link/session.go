package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/savegress/labsync/internal/astm"
)

var (
	ErrNotAcknowledged    = errors.New("link: frame not acknowledged")
	ErrLineContention     = errors.New("link: line contention")
	ErrTooManyRetransmits = errors.New("link: too many retransmits")
	ErrUnexpectedByte     = errors.New("link: unexpected byte")
	ErrTimeout            = errors.New("link: timed out waiting for peer")
	ErrIdle               = errors.New("link: no transfer requested")
	ErrEmptyMessage       = errors.New("link: empty message")

	errBadFrame = errors.New("bad frame")
)

// maxFrameBytes bounds a frame body read before giving up on the frame.
const maxFrameBytes = 4096

const defaultTimeout = 15 * time.Second

// deadliner is implemented by connections whose reads can time out.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Session drives one half-duplex E1381 line. Receive and Send never run
// concurrently; each holds the line for a whole transfer.
type Session struct {
	// Timeout bounds each wait for the peer once a transfer has started.
	// It is only enforced on connections that support read deadlines.
	Timeout time.Duration

	// IdleTimeout bounds the wait for ENQ in Receive. Zero waits forever.
	IdleTimeout time.Duration

	Policy RetransmitPolicy

	// Optional error log. Defaults to the standard logger.
	ErrorLog *log.Logger

	rw         io.ReadWriter
	in         *bufio.Reader
	mu         sync.Mutex
	pendingENQ bool
}

// NewSession returns a Session on rw with default timeouts and policy.
func NewSession(rw io.ReadWriter) *Session {
	return &Session{
		Timeout:  defaultTimeout,
		Policy:   DefaultRetransmitPolicy(),
		ErrorLog: log.Default(),
		rw:       rw,
		in:       bufio.NewReader(rw),
	}
}

// Receive waits for the peer to request the line, then accepts frames until
// EOT and returns the reassembled message text, one CR-terminated record per
// ETX frame. Frames with a bad checksum are rejected with NAK and expected
// again; a repeated frame number is acknowledged and dropped.
func (s *Session) Receive(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pendingENQ {
		if err := s.awaitRequest(ctx); err != nil {
			return "", err
		}
	}
	s.pendingENQ = false

	if err := s.writeByte(ACK); err != nil {
		return "", err
	}
	return s.receiveFrames(ctx)
}

func (s *Session) awaitRequest(ctx context.Context) error {
	for {
		b, err := s.readByte(ctx, s.IdleTimeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return ErrIdle
			}
			return err
		}
		switch b {
		case ENQ, SOH:
			return nil
		default:
			s.logf("link: ignoring byte %#02x while idle", b)
		}
	}
}

func (s *Session) receiveFrames(ctx context.Context) (string, error) {
	var msg strings.Builder
	last := -1

	for {
		b, err := s.readByte(ctx, s.Timeout)
		if err != nil {
			return "", err
		}

		switch b {
		case EOT:
			return msg.String(), nil
		case astm.STX:
			n, text, err := s.readFrame(ctx)
			if errors.Is(err, errBadFrame) {
				s.logf("link: rejecting frame: %v", err)
				if err := s.writeByte(NAK); err != nil {
					return "", err
				}
				continue
			}
			if err != nil {
				return "", err
			}

			if n != last {
				msg.WriteString(text)
				last = n
			}
			if err := s.writeByte(ACK); err != nil {
				return "", err
			}
		default:
			s.logf("link: ignoring byte %#02x between frames", b)
		}
	}
}

// readFrame reads one frame after its STX and returns the frame number and
// text. Malformed frames are reported with errBadFrame.
func (s *Session) readFrame(ctx context.Context) (int, string, error) {
	body := make([]byte, 0, MaxFrameText+2)
	for {
		b, err := s.readByte(ctx, s.Timeout)
		if err != nil {
			return 0, "", err
		}
		body = append(body, b)
		if b == astm.ETX || b == astm.ETB {
			break
		}
		if len(body) > maxFrameBytes {
			return 0, "", fmt.Errorf("%w: no terminator within %d bytes", errBadFrame, maxFrameBytes)
		}
	}

	trailer := make([]byte, 4)
	for i := range trailer {
		b, err := s.readByte(ctx, s.Timeout)
		if err != nil {
			return 0, "", err
		}
		trailer[i] = b
	}

	if trailer[2] != astm.CR || trailer[3] != astm.LF {
		return 0, "", fmt.Errorf("%w: missing CR LF after checksum", errBadFrame)
	}
	if want := astm.Checksum(body); want != string(trailer[:2]) {
		return 0, "", fmt.Errorf("%w: checksum %s, want %s", errBadFrame, trailer[:2], want)
	}
	if len(body) < 2 || body[0] < '0' || body[0] > '7' {
		return 0, "", fmt.Errorf("%w: invalid frame number", errBadFrame)
	}

	return int(body[0] - '0'), string(body[1 : len(body)-1]), nil
}

// Send requests the line, transmits message as frames and ends the transfer
// with EOT. A frame rejected with NAK is retransmitted according to Policy.
// If the peer answers ENQ with its own ENQ, Send yields with
// ErrLineContention and the next Receive accepts the peer's transfer.
func (s *Session) Send(ctx context.Context, message string) error {
	frames := Frames(message)
	if len(frames) == 0 {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.establish(ctx); err != nil {
		return err
	}

	for _, frame := range frames {
		err := s.Policy.retransmit(ctx, func() error {
			return s.sendFrame(ctx, frame)
		})
		if err != nil {
			if eotErr := s.writeByte(EOT); eotErr != nil {
				s.logf("link: aborting transfer: %v", eotErr)
			}
			return err
		}
	}

	return s.writeByte(EOT)
}

func (s *Session) establish(ctx context.Context) error {
	if err := s.writeByte(ENQ); err != nil {
		return err
	}

	b, err := s.readByte(ctx, s.Timeout)
	if err != nil {
		return err
	}
	switch b {
	case ACK:
		return nil
	case NAK:
		return ErrNotAcknowledged
	case ENQ:
		s.pendingENQ = true
		return ErrLineContention
	default:
		return fmt.Errorf("%w %#02x in reply to ENQ", ErrUnexpectedByte, b)
	}
}

func (s *Session) sendFrame(ctx context.Context, frame []byte) error {
	if _, err := s.rw.Write(frame); err != nil {
		return fmt.Errorf("link: write: %w", err)
	}

	b, err := s.readByte(ctx, s.Timeout)
	if err != nil {
		return err
	}
	switch b {
	case ACK, EOT:
		return nil
	case NAK:
		return ErrNotAcknowledged
	default:
		return fmt.Errorf("%w %#02x in reply to frame", ErrUnexpectedByte, b)
	}
}

func (s *Session) readByte(ctx context.Context, timeout time.Duration) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if d, ok := s.rw.(deadliner); ok && s.in.Buffered() == 0 {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
			deadline = dl
		}
		if err := d.SetReadDeadline(deadline); err != nil {
			return 0, fmt.Errorf("link: set deadline: %w", err)
		}
	}

	b, err := s.in.ReadByte()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if isTimeout(err) {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("link: read: %w", err)
	}
	return b, nil
}

func (s *Session) writeByte(b byte) error {
	if _, err := s.rw.Write([]byte{b}); err != nil {
		return fmt.Errorf("link: write: %w", err)
	}
	return nil
}

func (s *Session) logf(format string, args ...any) {
	if s.ErrorLog != nil {
		s.ErrorLog.Printf(format, args...)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

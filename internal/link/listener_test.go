package link

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/labsync/internal/astm"
)

type received struct {
	raw string
	m   *astm.ParsedMessage
	err error
}

func startListener(t *testing.T, conn net.Conn) (*Listener, <-chan received, context.CancelFunc, <-chan error) {
	t.Helper()

	got := make(chan received, 4)
	s := newTestSession(conn)
	s.IdleTimeout = 10 * time.Millisecond

	l := NewListener(s, func(ctx context.Context, raw string, m *astm.ParsedMessage, err error) {
		got <- received{raw: raw, m: m, err: err}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	return l, got, cancel, done
}

func TestListener_receivesMessages(t *testing.T) {
	host, peer := net.Pipe()
	defer host.Close()
	defer peer.Close()

	_, got, cancel, done := startListener(t, host)

	replies := instrument(peer, [][]byte{
		{ENQ},
		FormatFrame(1, headerRecord, false),
		FormatFrame(2, resultRecord, false),
		FormatFrame(3, endRecord, false),
		{EOT},
	})
	assert.Equal(t, []byte{ACK, ACK, ACK, ACK}, <-replies)

	select {
	case r := <-got:
		require.NoError(t, r.err)
		require.NotNil(t, r.m)
		assert.Equal(t, 1, r.m.Count(astm.RecordResult))
		assert.Equal(t, "Positive", astm.ExtractResults(r.m)[0].Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestListener_reportsParseErrors(t *testing.T) {
	host, peer := net.Pipe()
	defer host.Close()
	defer peer.Close()

	_, got, cancel, done := startListener(t, host)
	defer func() {
		cancel()
		<-done
	}()

	<-instrument(peer, [][]byte{
		{ENQ},
		FormatFrame(1, headerRecord, false),
		{EOT},
	})

	select {
	case r := <-got:
		assert.Nil(t, r.m)
		assert.ErrorIs(t, r.err, &astm.ParseError{Kind: astm.MissingTerminator})
		assert.Equal(t, headerRecord, r.raw)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestListener_Transmit(t *testing.T) {
	host, peer := net.Pipe()
	defer host.Close()
	defer peer.Close()

	l, _, cancel, done := startListener(t, host)
	defer func() {
		cancel()
		<-done
	}()

	sent := receiver(peer, []byte{ACK, ACK, ACK})

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, l.Transmit(ctx, headerRecord+endRecord))

	frames := Frames(headerRecord + endRecord)
	want := append([]byte{ENQ}, frames[0]...)
	want = append(want, frames[1]...)
	want = append(want, EOT)
	assert.Equal(t, want, <-sent)
}

func TestListener_TransmitWithoutRun(t *testing.T) {
	host, peer := net.Pipe()
	defer host.Close()
	defer peer.Close()

	l := NewListener(newTestSession(host), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Transmit(ctx, endRecord), context.DeadlineExceeded)
}

func TestListener_stopsOnClosedLine(t *testing.T) {
	host, peer := net.Pipe()
	defer host.Close()

	_, _, cancel, done := startListener(t, host)
	defer cancel()

	peer.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

// Package listener turns UDP datagrams into chat commands.
package listener

import (
	"bytes"
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicechat/internal/mailbox"
)

const (
	DefaultAddr = ":12888"
	maxDatagram = 32768
)

// Sender accepts commands; *mailbox.Mailbox and *engine.Engine both qualify.
type Sender interface {
	Send(cmd mailbox.Command)
}

type Listener struct {
	log  zerolog.Logger
	conn net.PacketConn
	out  Sender
}

// Listen binds the UDP socket. Datagrams are not read until Run.
func Listen(addr string, log zerolog.Logger, out Sender) (*Listener, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", conn.LocalAddr().String()).Msg("listening for chat datagrams")
	return &Listener{log: log, conn: conn, out: out}, nil
}

func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// Run forwards each datagram as one Chat command until ctx is cancelled, at
// which point the socket is closed to unblock the pending read.
func (l *Listener) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		l.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.log.Info().Msg("listener stopped")
				return nil
			}
			return err
		}

		// text ends at the first NUL, like a C string
		text := buf[:n]
		if i := bytes.IndexByte(text, 0); i >= 0 {
			text = text[:i]
		}
		l.log.Debug().Str("from", from.String()).Int("bytes", len(text)).Msg("chat datagram")
		l.out.Send(mailbox.Command{Kind: mailbox.Chat, Payload: string(text)})
	}
}

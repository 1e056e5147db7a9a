// Package relay bridges a browser websocket to an interactive remote shell.
// Client frames are JSON {"type":"input","data":...} or
// {"type":"resize","cols":..,"rows":..}; shell output is sent back as
// {"type":"output","data":...}.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

// Message types.
const (
	TypeInput  = "input"
	TypeResize = "resize"
	TypeOutput = "output"
	TypeError  = "error"
)

const (
	readBufferSize = 4096
	writeTimeout   = 5 * time.Second
)

// Message is one websocket frame in either direction.
type Message struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// Terminal is the remote end of the relay: a PTY-backed shell.
type Terminal interface {
	io.ReadWriter
	Resize(cols, rows int) error
	Close() error
}

// Conn is the websocket end of the relay. *websocket.Conn satisfies it.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Run pumps data between conn and term until either side ends or ctx is
// cancelled. Both pumps share one context; whichever finishes first cancels
// the other and closes the terminal. A normal end on either side returns nil.
func Run(ctx context.Context, conn Conn, term Terminal, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return pumpOutput(ctx, conn, term)
	})
	g.Go(func() error {
		defer cancel()
		return pumpInput(ctx, conn, term, logger)
	})

	<-ctx.Done()
	_ = term.Close()
	err := g.Wait()
	if err != nil {
		logger.Debug("relay ended with error", zap.Error(err))
	}
	return err
}

// pumpOutput copies terminal output to the websocket.
func pumpOutput(ctx context.Context, conn Conn, term Terminal) error {
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := term.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			complete, rest := splitUTF8(pending)
			if len(complete) > 0 {
				if werr := send(ctx, conn, Message{Type: TypeOutput, Data: string(complete)}); werr != nil {
					if ctx.Err() != nil {
						return nil
					}
					return werr
				}
			}
			pending = append(pending[:0], rest...)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// pumpInput applies websocket frames to the terminal.
func pumpInput(ctx context.Context, conn Conn, term Terminal, logger *zap.Logger) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || isNormalClose(err) {
				return nil
			}
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		switch msg.Type {
		case TypeInput:
			if _, err := io.WriteString(term, msg.Data); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case TypeResize:
			if msg.Cols > 0 && msg.Rows > 0 {
				if err := term.Resize(msg.Cols, msg.Rows); err != nil {
					logger.Debug("resize failed", zap.Error(err))
				}
			}
		default:
			logger.Debug("ignoring frame", zap.String("type", msg.Type))
		}
	}
}

// SendError writes an error frame, for failures before the relay starts.
func SendError(ctx context.Context, conn Conn, text string) error {
	return send(ctx, conn, Message{Type: TypeError, Data: text})
}

func send(ctx context.Context, conn Conn, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF)
}

// splitUTF8 returns the longest prefix of b that does not end inside a
// multi-byte rune, and the remainder.
func splitUTF8(b []byte) ([]byte, []byte) {
	// a rune is at most 4 bytes; only the tail can be incomplete
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		r, size := utf8.DecodeRune(b[start:])
		if r == utf8.RuneError && size <= 1 && !utf8.FullRune(b[start:]) {
			return b[:start], b[start:]
		}
		break
	}
	return b, nil
}

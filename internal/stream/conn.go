package stream

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrLineTooLong is returned when a line exceeds the configured maximum.
var ErrLineTooLong = errors.New("stream line too long")

// Conn is a line-framed connection to the stream endpoint. ReadLine returns
// one line without its terminator; the slice is only valid until the next
// ReadLine. WriteLine may be called concurrently with ReadLine.
type Conn interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// TokenProvider supplies the session token sent in the authentication
// request. The value is opaque to this package.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("no session token configured")
	}
	return string(t), nil
}

const defaultMaxLine = 16 << 20

// TLSDialer connects to the exchange's CRLF-delimited stream over TLS.
type TLSDialer struct {
	Addr         string
	Config       *tls.Config
	Timeout      time.Duration
	MaxLineBytes int
}

func (d TLSDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg := d.Config
	if cfg == nil {
		host, _, err := net.SplitHostPort(d.Addr)
		if err != nil {
			return nil, fmt.Errorf("stream addr %q: %w", d.Addr, err)
		}
		cfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	td := tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}, Config: cfg}
	c, err := td.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Addr, err)
	}
	return NewLineConn(c, d.MaxLineBytes), nil
}

// lineConn frames a byte stream into CRLF lines.
type lineConn struct {
	c   net.Conn
	r   *bufio.Reader
	max int
	buf []byte

	wmu sync.Mutex
	w   *bufio.Writer
}

// NewLineConn wraps c. Lines longer than maxLine bytes fail with
// ErrLineTooLong; zero means 16 MiB.
func NewLineConn(c net.Conn, maxLine int) Conn {
	if maxLine <= 0 {
		maxLine = defaultMaxLine
	}
	return &lineConn{
		c:   c,
		r:   bufio.NewReaderSize(c, 64<<10),
		w:   bufio.NewWriter(c),
		max: maxLine,
	}
}

func (l *lineConn) ReadLine() ([]byte, error) {
	for {
		line, err := l.readRaw()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			return line, nil
		}
	}
}

func (l *lineConn) readRaw() ([]byte, error) {
	frag, err := l.r.ReadSlice('\n')
	if err == nil {
		return frag, nil
	}
	if !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	// long line: accumulate across buffer refills
	l.buf = append(l.buf[:0], frag...)
	for {
		if len(l.buf) > l.max {
			return nil, ErrLineTooLong
		}
		frag, err = l.r.ReadSlice('\n')
		l.buf = append(l.buf, frag...)
		if err == nil {
			return l.buf, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}

func (l *lineConn) WriteLine(line []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.w.Write(line); err != nil {
		return err
	}
	if _, err := l.w.WriteString("\r\n"); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *lineConn) SetReadDeadline(t time.Time) error { return l.c.SetReadDeadline(t) }

func (l *lineConn) Close() error { return l.c.Close() }

// WSDialer reaches the stream through a websocket relay that carries one
// stream line per text message.
type WSDialer struct {
	URL          string
	Header       http.Header
	Timeout      time.Duration
	MaxLineBytes int
}

func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	wd := websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment}
	ws, _, err := wd.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	limit := d.MaxLineBytes
	if limit <= 0 {
		limit = defaultMaxLine
	}
	ws.SetReadLimit(int64(limit))
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (w *wsConn) ReadLine() ([]byte, error) {
	for {
		kind, data, err := w.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		data = bytes.TrimRight(data, "\r\n")
		if len(data) > 0 {
			return data, nil
		}
	}
}

func (w *wsConn) WriteLine(line []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.ws.WriteMessage(websocket.TextMessage, line)
}

func (w *wsConn) SetReadDeadline(t time.Time) error { return w.ws.SetReadDeadline(t) }

func (w *wsConn) Close() error {
	w.wmu.Lock()
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	w.wmu.Unlock()
	return w.ws.Close()
}

package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"lanchat/metrics"
	"lanchat/models"
)

var (
	// ErrInvalidAddress indicates a peer address that is not a valid IP:port.
	ErrInvalidAddress = errors.New("network: invalid peer address")
	// ErrDial indicates the connection could not be established in time.
	ErrDial = errors.New("network: connect failed")
	// ErrWrite indicates the envelope could not be fully written.
	ErrWrite = errors.New("network: write failed")
)

// ClientOptions configures outbound sends.
type ClientOptions struct {
	TextTimeout time.Duration
	FileTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Client delivers single envelopes to peers. Each Send opens its own
// connection, writes one envelope and closes it. Nothing is retried and no
// acknowledgment is awaited.
type Client struct {
	textTimeout time.Duration
	fileTimeout time.Duration
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// NewClient applies defaults to options.
func NewClient(options ClientOptions) *Client {
	c := &Client{
		textTimeout: options.TextTimeout,
		fileTimeout: options.FileTimeout,
		log:         options.Logger,
		metrics:     metrics.OrNew(options.Metrics),
	}
	if c.textTimeout <= 0 {
		c.textTimeout = DefaultTextTimeout
	}
	if c.fileTimeout <= 0 {
		c.fileTimeout = DefaultFileTimeout
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.Named("client")
	return c
}

// TimeoutFor returns the connect-and-write budget for msg.
func (c *Client) TimeoutFor(msg models.Message) time.Duration {
	if msg.IsFile {
		return c.fileTimeout
	}
	return c.textTimeout
}

// Send connects to address, writes msg as one envelope and closes the connection.
//
// A nil error means the bytes were written and the write side was shut down;
// it does not mean the peer decoded them.
func (c *Client) Send(ctx context.Context, address string, msg models.Message) error {
	if err := validateAddress(address); err != nil {
		c.metrics.SendFailures.WithLabelValues("address").Inc()
		return err
	}

	payload, err := EncodeEnvelope(msg)
	if err != nil {
		c.metrics.SendFailures.WithLabelValues("encode").Inc()
		return err
	}

	started := time.Now()
	timeout := c.TimeoutFor(msg)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		c.metrics.SendFailures.WithLabelValues("dial").Inc()
		return fmt.Errorf("%w: dial %q: %w", ErrDial, address, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		c.metrics.SendFailures.WithLabelValues("write").Inc()
		return fmt.Errorf("%w: set write deadline: %w", ErrWrite, err)
	}

	if _, err := conn.Write(payload); err != nil {
		c.metrics.SendFailures.WithLabelValues("write").Inc()
		return fmt.Errorf("%w: write envelope to %q: %w", ErrWrite, address, err)
	}

	// The receiver reads until EOF, so shut the write side down explicitly.
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.CloseWrite(); err != nil {
			c.metrics.SendFailures.WithLabelValues("write").Inc()
			return fmt.Errorf("%w: close write side: %w", ErrWrite, err)
		}
	}

	kind := KindFor(msg)
	c.metrics.SendsTotal.WithLabelValues(kind).Inc()
	c.metrics.SendDuration.Observe(time.Since(started).Seconds())
	c.log.Debug("envelope sent",
		zap.String("kind", kind),
		zap.String("message_id", msg.ID),
		zap.String("addr", address),
		zap.Int("bytes", len(payload)))
	return nil
}

func validateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("%w: %q: host is not an IP address", ErrInvalidAddress, address)
	}
	portNumber, err := strconv.Atoi(port)
	if err != nil || portNumber <= 0 || portNumber > 65535 {
		return fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, address)
	}
	return nil
}

package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D

	mllpMaxMessageSize = 1 << 20
	mllpReadTimeout    = 30 * time.Second
	mllpWriteTimeout   = 10 * time.Second
)

// ErrNoAck is returned by the client when the peer closed the connection
// without answering.
var ErrNoAck = errors.New("mllp: connection closed before acknowledgement")

// MessageHandler answers one received message. Returning nil sends nothing.
type MessageHandler func(msg *Message) *Message

// MLLPServer listens for HL7v2 messages over MLLP/TCP.
type MLLPServer struct {
	addr     string
	handler  MessageHandler
	logger   zerolog.Logger
	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewMLLPServer creates a server on addr dispatching to handler.
func NewMLLPServer(addr string, handler MessageHandler, logger zerolog.Logger) *MLLPServer {
	return &MLLPServer{
		addr:    addr,
		handler: handler,
		logger:  logger.With().Str("component", "mllp-server").Logger(),
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// Start listens and runs the accept loop in the background.
func (s *MLLPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("mllp receiver listening")
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return.
func (s *MLLPServer) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the bound address, useful when listening on port 0.
func (s *MLLPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *MLLPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Error().Err(err).Msg("accept failed")
			return
		}

		s.trackConn(conn, true)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *MLLPServer) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *MLLPServer) handleConnection(conn net.Conn) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(mllpReadTimeout))

		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if len(buf) > mllpMaxMessageSize {
				s.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("message exceeds max size, closing connection")
				return
			}

			for {
				msgBytes, rest, found := UnframeMessage(buf)
				if !found {
					break
				}
				buf = rest
				s.processMessage(conn, msgBytes)
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(buf) > 0 {
				continue
			}
			return
		}
	}
}

func (s *MLLPServer) processMessage(conn net.Conn, raw []byte) {
	decoded, err := DecodeFromWire(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("keeping message bytes as received")
		decoded = raw
	}
	msg, err := Parse(decoded)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unparseable message")
		return
	}

	s.logger.Debug().
		Str("type", msg.Type).
		Str("control_id", msg.ControlID).
		Msg("message received")

	resp := s.handler(msg)
	if resp == nil {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(mllpWriteTimeout))
	if _, err := conn.Write(FrameMessage(SerializeMessage(resp))); err != nil {
		s.logger.Error().Err(err).Msg("write ack failed")
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// MLLPClient sends one framed message per connection and waits for the
// acknowledgement frame.
type MLLPClient struct {
	dialer net.Dialer
}

// NewMLLPClient creates a client.
func NewMLLPClient() *MLLPClient {
	return &MLLPClient{}
}

// Send dials addr, writes payload and returns the unframed acknowledgement.
// The whole exchange is bounded by ctx.
func (c *MLLPClient) Send(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mllp: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(FrameMessage(payload)); err != nil {
		return nil, fmt.Errorf("mllp: write: %w", err)
	}

	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 1024)
	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if ack, _, found := UnframeMessage(buf); found {
				return ack, nil
			}
			if len(buf) > mllpMaxMessageSize {
				return nil, fmt.Errorf("mllp: acknowledgement exceeds max size")
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("mllp: read: %w", ctxErr)
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("mllp: read: %w", context.DeadlineExceeded)
			}
			if len(buf) == 0 {
				return nil, ErrNoAck
			}
			return nil, fmt.Errorf("mllp: read: %w", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Framing
// ---------------------------------------------------------------------------

// FrameMessage wraps data as <VT> data <FS><CR>.
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts the first complete frame from data and returns
// the remaining bytes.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, MLLPStartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endIdx := bytes.Index(data[startIdx+1:], []byte{MLLPEndBlock, MLLPCarriageReturn})
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}

// ---------------------------------------------------------------------------
// Acknowledgements
// ---------------------------------------------------------------------------

// Acknowledgement codes carried in MSA-1.
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// GenerateACK answers incoming with ackCode, swapping sender and receiver
// and echoing the original control id in MSA-2.
func GenerateACK(incoming *Message, ackCode string) *Message {
	trigger := incoming.Trigger()
	now := time.Now().UTC()
	controlID := NewControlID()

	ack := &Message{
		Type:         "ACK^" + trigger,
		ControlID:    controlID,
		Version:      incoming.Version,
		Timestamp:    now,
		SendingApp:   incoming.ReceivingApp,
		SendingFac:   incoming.ReceivingFac,
		ReceivingApp: incoming.SendingApp,
		ReceivingFac: incoming.SendingFac,
	}

	msh := Segment{Name: "MSH", Fields: []Field{
		textField("|"),
		textField(`^~\&`),
		textField(ack.SendingApp),
		textField(ack.SendingFac),
		textField(ack.ReceivingApp),
		textField(ack.ReceivingFac),
		textField(FormatTimestamp(now)),
		textField(""),
		{Value: "ACK^" + trigger + "^ACK", Components: []string{"ACK", trigger, "ACK"}},
		textField(controlID),
		textField("P"),
		textField(incoming.Version),
	}}
	msa := Segment{Name: "MSA", Fields: []Field{
		textField(ackCode),
		textField(incoming.ControlID),
	}}

	ack.Segments = []Segment{msh, msa}
	return ack
}

// AcceptAllHandler acknowledges every message with AA.
func AcceptAllHandler() MessageHandler {
	return func(msg *Message) *Message {
		return GenerateACK(msg, AckAccept)
	}
}

func textField(v string) Field {
	return Field{Value: v, Components: []string{v}}
}

// SerializeMessage renders msg with \r segment separators.
func SerializeMessage(msg *Message) []byte {
	segments := make([]string, 0, len(msg.Segments))
	for _, seg := range msg.Segments {
		segments = append(segments, serializeSegment(seg))
	}
	return []byte(strings.Join(segments, SegmentSeparator))
}

func serializeSegment(seg Segment) string {
	if seg.Name == "MSH" {
		// Fields[0] is the separator itself.
		if len(seg.Fields) < 2 {
			return "MSH|"
		}
		parts := make([]string, 0, len(seg.Fields)-1)
		for i := 1; i < len(seg.Fields); i++ {
			parts = append(parts, seg.Fields[i].Value)
		}
		return "MSH|" + strings.Join(parts, "|")
	}

	parts := make([]string, len(seg.Fields))
	for i, f := range seg.Fields {
		parts[i] = f.Value
	}
	return seg.Name + "|" + strings.Join(parts, "|")
}

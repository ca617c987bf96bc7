package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testADT = "MSH|^~\\&|SendApp|SendFac|RecvApp|RecvFac|20240115120000||ADT^A01^ADT_A01|MSG001|P|2.5\rPID|1||12345||Smith^John||19800101|M"

// =========== Framing ===========

func TestFrameMessage(t *testing.T) {
	raw := []byte(testADT)
	framed := FrameMessage(raw)

	if framed[0] != MLLPStartBlock {
		t.Errorf("expected first byte 0x0B, got 0x%02X", framed[0])
	}
	if framed[len(framed)-2] != MLLPEndBlock || framed[len(framed)-1] != MLLPCarriageReturn {
		t.Errorf("unexpected trailer % X", framed[len(framed)-2:])
	}
	if !bytes.Equal(framed[1:len(framed)-2], raw) {
		t.Error("inner bytes do not match original")
	}
}

func TestUnframeMessage(t *testing.T) {
	two := append(FrameMessage([]byte("MSH|one")), FrameMessage([]byte("MSH|two"))...)

	first, rest, found := UnframeMessage(two)
	if !found || string(first) != "MSH|one" {
		t.Fatalf("expected first frame, got %q found=%v", first, found)
	}
	second, rest, found := UnframeMessage(rest)
	if !found || string(second) != "MSH|two" {
		t.Fatalf("expected second frame, got %q found=%v", second, found)
	}
	if len(rest) != 0 {
		t.Errorf("expected empty rest, got %d bytes", len(rest))
	}

	if _, _, found := UnframeMessage([]byte{MLLPStartBlock, 'M', 'S', 'H'}); found {
		t.Error("expected partial frame to be incomplete")
	}
	if _, _, found := UnframeMessage([]byte("no start block")); found {
		t.Error("expected no frame without start block")
	}
}

// =========== ACK ===========

func TestGenerateACK(t *testing.T) {
	incoming := parseTestMessage(t, testADT)

	for _, code := range []string{AckAccept, AckError, AckReject} {
		ack := GenerateACK(incoming, code)
		raw := SerializeMessage(ack)

		parsed := parseTestMessage(t, string(raw))
		if parsed.AckCode() != code {
			t.Errorf("expected MSA-1 %s, got %q", code, parsed.AckCode())
		}
		if parsed.GetSegment("MSA").GetField(2) != "MSG001" {
			t.Errorf("expected MSA-2 MSG001, got %q", parsed.GetSegment("MSA").GetField(2))
		}
		if parsed.SendingApp != "RecvApp" || parsed.ReceivingApp != "SendApp" {
			t.Errorf("expected swapped applications, got %q -> %q", parsed.SendingApp, parsed.ReceivingApp)
		}
		if parsed.Trigger() != "A01" {
			t.Errorf("expected trigger A01, got %q", parsed.Trigger())
		}
	}
}

// =========== Server ===========

func TestMLLPServer_SendsACK(t *testing.T) {
	s := NewMLLPServer("127.0.0.1:0", AcceptAllHandler(), zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(FrameMessage([]byte(testADT))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ack := parseTestMessage(t, string(readMLLPResponse(t, conn, 5*time.Second)))
	if ack.AckCode() != "AA" {
		t.Errorf("expected AA, got %q", ack.AckCode())
	}
}

func TestMLLPServer_MultipleMessagesOneConnection(t *testing.T) {
	var mu sync.Mutex
	var received []string

	handler := func(msg *Message) *Message {
		mu.Lock()
		received = append(received, msg.ControlID)
		mu.Unlock()
		return GenerateACK(msg, AckAccept)
	}

	s := NewMLLPServer("127.0.0.1:0", handler, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	for _, id := range []string{"CTRL1", "CTRL2"} {
		raw := "MSH|^~\\&|A|B|C|D|20240115120000||ADT^A01|" + id + "|P|2.5\rPID|1||111"
		if _, err := conn.Write(FrameMessage([]byte(raw))); err != nil {
			t.Fatalf("Write %s failed: %v", id, err)
		}
		readMLLPResponse(t, conn, 5*time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 || received[0] != "CTRL1" || received[1] != "CTRL2" {
		t.Errorf("unexpected received control ids: %v", received)
	}
}

// =========== Client ===========

func TestMLLPClient_Send(t *testing.T) {
	s := NewMLLPServer("127.0.0.1:0", AcceptAllHandler(), zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := NewMLLPClient().Send(ctx, s.Addr(), []byte(testADT))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	ack := parseTestMessage(t, string(resp))
	if ack.AckCode() != "AA" {
		t.Errorf("expected AA, got %q", ack.AckCode())
	}
}

func TestMLLPClient_DeadlineWithoutAck(t *testing.T) {
	silent := func(msg *Message) *Message { return nil }
	s := NewMLLPServer("127.0.0.1:0", silent, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewMLLPClient().Send(ctx, s.Addr(), []byte(testADT))
	if err == nil {
		t.Fatal("expected error when no ack arrives")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("send was not bounded by the deadline")
	}
}

func TestMLLPClient_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewMLLPClient().Send(ctx, addr, []byte(testADT)); err == nil {
		t.Fatal("expected dial error")
	}
}

// =========== Helpers ===========

func parseTestMessage(t *testing.T, raw string) *Message {
	t.Helper()
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("failed to parse test message: %v", err)
	}
	return msg
}

func readMLLPResponse(t *testing.T, conn net.Conn, timeout time.Duration) []byte {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
		}
		if msg, _, found := UnframeMessage(buf); found {
			return msg
		}
		if err != nil {
			t.Fatalf("error reading MLLP response: %v (buf so far: %d bytes)", err, len(buf))
		}
	}
}

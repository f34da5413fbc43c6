// Copyright (c) 2025 Bob Vawter (bob@vawter.org)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// SPDX-License-Identifier: MIT

// Package session implements the engine-side listener and the per-connection
// state machine that routes a debugger engine to its registered IDE:
//
//	AwaitInit --(valid init, route ok)--> Splicing --(EOF/error)--> Stopped
//	AwaitInit --(bad init)-------------------------------------->   Stopped
//	AwaitInit --(routing failure)------------------------------->   Stopped
package session

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/dbgp-tools/dbgpmux/initpacket"
	"github.com/dbgp-tools/dbgpmux/packet"
	"github.com/dbgp-tools/dbgpmux/registry"
	"github.com/google/uuid"
	"vawter.tech/stopper"
)

// spliceBufferSize is the per-direction read buffer once a Session enters
// Splicing. The proxy is byte-transparent from here on; it has no framing
// awareness.
const spliceBufferSize = 8 * 1024

// State is a Session's position in its state machine. The terminal state,
// Stopped, is sticky.
type State int

const (
	AwaitInit State = iota
	Routing
	Splicing
	Stopped
)

func (s State) String() string {
	switch s {
	case AwaitInit:
		return "AwaitInit"
	case Routing:
		return "Routing"
	case Splicing:
		return "Splicing"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// RoutingError reports an unknown IDE key or a dial failure while routing a
// Session to its IDE.
type RoutingError struct {
	Reason string
}

func (e *RoutingError) Error() string { return fmt.Sprintf("routing error: %s", e.Reason) }

// Listener accepts long-lived engine connections and spawns one Session per
// connection. It never blocks on a Session.
type Listener struct {
	reg *registry.Registry

	mu struct {
		sync.Mutex
		live map[*Session]struct{}
	}
}

// New constructs a Listener backed by reg.
func New(reg *registry.Registry) *Listener {
	l := &Listener{reg: reg}
	l.mu.live = make(map[*Session]struct{})
	return l
}

// Serve accepts connections from ln until ctx stops or Accept fails.
func (l *Listener) Serve(ctx *stopper.Context, ln net.Listener) error {
	logger := slog.With(slog.String("listener", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.IsStopping() {
				logger.DebugContext(ctx, "no longer accepting engine connections")
				return nil
			}
			return err
		}

		engineAddr := peerAddrPort(conn)
		s := &Session{
			id:         uuid.New(),
			reg:        l.reg,
			engineConn: conn,
			engineAddr: engineAddr,
		}

		l.track(s)
		ctx.Go(func(ctx *stopper.Context) error {
			defer l.untrack(s)
			s.run(ctx)
			return nil
		})
	}
}

func (l *Listener) track(s *Session) {
	l.mu.Lock()
	l.mu.live[s] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrack(s *Session) {
	l.mu.Lock()
	delete(l.mu.live, s)
	l.mu.Unlock()
}

// CloseSessions closes the engine-side socket of every live Session. Each
// closed engineConn unblocks that Session's current blocking read -- the
// AwaitInit decode or a Splicing copyLoop -- with EOF or an error, which
// drives the Session to Stopped. Used by the supervisor on shutdown.
func (l *Listener) CloseSessions() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.mu.live {
		_ = s.engineConn.Close()
	}
}

func peerAddrPort(conn net.Conn) netip.AddrPort {
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcpAddr.AddrPort()
	}
	return netip.AddrPort{}
}

// Session is the per-connection driver: it owns engineConn and, once
// routed, ideConn, for its entire lifetime. It does not outlive either
// socket.
type Session struct {
	id         uuid.UUID
	reg        *registry.Registry
	engineConn net.Conn
	engineAddr netip.AddrPort
	ideConn    net.Conn
	ideKey     string

	mu struct {
		sync.Mutex
		state State
	}
}

// State reports the Session's current position in its state machine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.state
}

func (s *Session) setState(ctx *stopper.Context, state State) {
	s.mu.Lock()
	s.mu.state = state
	s.mu.Unlock()
	s.logger().DebugContext(ctx, "session state transition", slog.String("state", s.State().String()))
}

func (s *Session) logger() *slog.Logger {
	return slog.With(slog.String("session", s.id.String()), slog.Any("engine", s.engineAddr))
}

// run drives the Session from AwaitInit through to Stopped. Every exit path
// closes whichever sockets this Session owns.
func (s *Session) run(ctx *stopper.Context) {
	defer func() { _ = s.engineConn.Close() }()

	logger := s.logger()
	s.setState(ctx, AwaitInit)

	payload, err := packet.DecodeFramed(bufio.NewReader(s.engineConn))
	if err != nil {
		logger.WarnContext(ctx, "bad init packet", "error", err)
		s.sendError(ctx, fmt.Sprintf("bad init packet: %v", err))
		s.setState(ctx, Stopped)
		return
	}

	elem, err := initpacket.Parse(payload)
	if err != nil {
		logger.WarnContext(ctx, "init packet has no root element", "error", err)
		s.sendError(ctx, "init packet has no root element")
		s.setState(ctx, Stopped)
		return
	}

	idekey, ok := elem.Get("idekey")
	if !ok || idekey == "" {
		logger.WarnContext(ctx, "init packet missing idekey")
		s.sendError(ctx, "missing idekey")
		s.setState(ctx, Stopped)
		return
	}
	s.ideKey = idekey
	logger = logger.With(slog.String("idekey", idekey))

	s.setState(ctx, Routing)
	reg, found := s.reg.Lookup(idekey)
	if !found {
		logger.InfoContext(ctx, "no server registered for key")
		s.sendError(ctx, fmt.Sprintf("No server with key %s", idekey))
		s.setState(ctx, Stopped)
		return
	}

	ideConn, err := net.DialTimeout("tcp", reg.Endpoint.String(), 10*time.Second)
	if err != nil {
		// The registration is stale: evict it so a later proxyinit for the
		// same key is not blackholed by a dead IDE.
		s.reg.Remove(idekey)
		logger.WarnContext(ctx, "dial to registered IDE failed, evicting registration",
			slog.Any("endpoint", reg.Endpoint), slog.Any("error", err))
		s.sendError(ctx, fmt.Sprintf("Unable to connect to %s", reg.Endpoint))
		s.setState(ctx, Stopped)
		return
	}
	s.ideConn = ideConn
	defer func() { _ = ideConn.Close() }()

	elem.SetIfEmpty("hostname", s.engineAddr.Addr().String())
	elem.Set("proxied", "true")

	if err := packet.WriteFramed(ideConn, elem.Bytes()); err != nil {
		logger.WarnContext(ctx, "could not forward rewritten init packet", "error", err)
		s.setState(ctx, Stopped)
		return
	}

	s.setState(ctx, Splicing)
	s.splice(ctx)
	s.setState(ctx, Stopped)
}

// sendError reports a protocol- or routing-level error to the engine, before
// the IDE side of the Session exists. It is best-effort: write failures are
// logged, not propagated, since the Session is already terminating.
func (s *Session) sendError(ctx *stopper.Context, message string) {
	payload := []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<proxyerror message="%s"/>`, xmlEscape(message)))
	if err := packet.WriteFramed(s.engineConn, payload); err != nil {
		s.logger().DebugContext(ctx, "could not send proxyerror packet", "error", err)
	}
}

// xmlEscape escapes message for use as an XML attribute value. message may
// embed engine-supplied text, such as an idekey, that is not itself
// well-formed XML.
func xmlEscape(message string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(message))
	return buf.String()
}

// splice forwards bytes bidirectionally, byte-transparent, until EOF or an
// error appears on either leg -- at which point both sockets are closed so
// the other direction's blocked Read unblocks too.
func (s *Session) splice(ctx *stopper.Context) {
	done := make(chan struct{}, 2)

	go copyLoop(s.ideConn, s.engineConn, done)
	go copyLoop(s.engineConn, s.ideConn, done)

	<-done
	_ = s.engineConn.Close()
	_ = s.ideConn.Close()
	<-done

	s.logger().DebugContext(ctx, "splice finished")
}

// copyLoop forwards bytes read from r to w using a fixed buffer, signaling
// done exactly once on return regardless of which side failed first.
func copyLoop(w, r net.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	buf := make([]byte, spliceBufferSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

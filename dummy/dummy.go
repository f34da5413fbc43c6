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

// Package dummy implements a stub IDE: a listener that speaks just enough
// DBGP to accept a proxied engine session, decode its rewritten init
// packet, and then hand the raw connection off for whatever the caller
// wants to do with it. It exists to drive integration tests and manual
// end-to-end checks without a real IDE.
package dummy

import (
	"bufio"
	"log/slog"
	"net"

	"github.com/dbgp-tools/dbgpmux/packet"
	"vawter.tech/stopper"
)

// Received is one accepted connection and the init packet payload decoded
// from it. The connection is handed to the receiver untouched -- the
// Server does not read from or write to it again.
type Received struct {
	Conn    net.Conn
	Payload []byte
}

// Server accepts connections and reports each one's init packet.
type Server struct {
	listener net.Listener
	received chan Received
}

// New runs a dummy IDE listener within ctx, bound to bind. Accepted
// connections whose init packet cannot be decoded are logged and closed;
// everything else is queued as a Received for the caller to consume via
// Next.
func New(ctx *stopper.Context, bind string) (*Server, error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "dummy IDE listening", slog.Any("address", listener.Addr()))

	s := &Server{
		listener: listener,
		received: make(chan Received, 16),
	}

	ctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		_ = listener.Close()
		return nil
	})

	ctx.Go(func(ctx *stopper.Context) error {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				return nil
			}
			ctx.Go(func(ctx *stopper.Context) error {
				s.accept(ctx, conn)
				return nil
			})
		}
	})

	return s, nil
}

func (s *Server) accept(ctx *stopper.Context, conn net.Conn) {
	payload, err := packet.DecodeFramed(bufio.NewReader(conn))
	if err != nil {
		slog.WarnContext(ctx, "dummy IDE: could not decode init packet", "error", err)
		_ = conn.Close()
		return
	}
	slog.InfoContext(ctx, "dummy IDE: received init packet", slog.String("payload", string(payload)))

	select {
	case s.received <- Received{Conn: conn, Payload: payload}:
	case <-ctx.Stopping():
		_ = conn.Close()
	}
}

// Addr returns the address the Server is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Next blocks until a connection's init packet is available or ctx stops.
func (s *Server) Next(ctx *stopper.Context) (Received, bool) {
	select {
	case r := <-s.received:
		return r, true
	case <-ctx.Stopping():
		return Received{}, false
	}
}

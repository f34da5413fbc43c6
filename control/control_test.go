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

package control

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/dbgp-tools/dbgpmux/internal/dbgptest"
	"github.com/dbgp-tools/dbgpmux/registry"
	"github.com/stretchr/testify/require"
	"vawter.tech/stopper"
)

func transact(t *testing.T, ln net.Listener, request string) string {
	t.Helper()
	r := require.New(t)

	conn, err := net.Dial("tcp", ln.Addr().String())
	r.NoError(err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte(request))
	r.NoError(err)
	_ = conn.(*net.TCPConn).CloseWrite()

	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	r.NoError(err)
	return string(buf[:n])
}

func TestProxyinitHappyPath(t *testing.T) {
	r := require.New(t)
	ctx := dbgptest.NewStopperForTest(t)
	reg := registry.New()

	engineAddr := netip.MustParseAddrPort("127.0.0.1:9000")
	l := New(reg, engineAddr)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	ctx.Go(func(ctx *stopper.Context) error { return l.Serve(ctx, ln) })

	resp := transact(t, ln, "proxyinit -p 9010 -k alice\n")
	r.Contains(resp, `<proxyinit success="1" idekey="alice" address="127.0.0.1" port="9000"/>`)

	got, ok := reg.Lookup("alice")
	r.True(ok)
	r.Equal(uint16(9010), got.Endpoint.Port())
}

func TestProxyinitMissingKey(t *testing.T) {
	r := require.New(t)
	ctx := dbgptest.NewStopperForTest(t)
	reg := registry.New()
	l := New(reg, netip.MustParseAddrPort("127.0.0.1:9000"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	ctx.Go(func(ctx *stopper.Context) error { return l.Serve(ctx, ln) })

	resp := transact(t, ln, "proxyinit -p 9010\n")
	r.Contains(resp, `success="0"`)
	r.Contains(resp, "No IDE key")
}

func TestProxyinitCollision(t *testing.T) {
	r := require.New(t)
	ctx := dbgptest.NewStopperForTest(t)
	reg := registry.New()
	l := New(reg, netip.MustParseAddrPort("127.0.0.1:9000"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	ctx.Go(func(ctx *stopper.Context) error { return l.Serve(ctx, ln) })

	first := transact(t, ln, "proxyinit -p 9010 -k dave\n")
	r.Contains(first, `success="1"`)

	second := transact(t, ln, "proxyinit -p 9011 -k dave\n")
	r.Contains(second, `success="0"`)
	r.Contains(second, "IDE Key already exists")
}

func TestProxystop(t *testing.T) {
	r := require.New(t)
	ctx := dbgptest.NewStopperForTest(t)
	reg := registry.New()
	l := New(reg, netip.MustParseAddrPort("127.0.0.1:9000"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	ctx.Go(func(ctx *stopper.Context) error { return l.Serve(ctx, ln) })

	_ = transact(t, ln, "proxyinit -p 9010 -k dave\n")
	resp := transact(t, ln, "proxystop -k dave\n")
	r.Contains(resp, `<proxystop success="1" idekey="dave"/>`)

	_, ok := reg.Lookup("dave")
	r.False(ok)
}

func TestUnknownCommand(t *testing.T) {
	r := require.New(t)
	ctx := dbgptest.NewStopperForTest(t)
	reg := registry.New()
	l := New(reg, netip.MustParseAddrPort("127.0.0.1:9000"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	ctx.Go(func(ctx *stopper.Context) error { return l.Serve(ctx, ln) })

	resp := transact(t, ln, "frobnicate\n")
	r.Contains(resp, `success="0"`)
}

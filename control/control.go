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

// Package control implements the IDE-side command listener: a short-lived,
// line-oriented protocol for registering and deregistering IDE endpoints in
// a registry.Registry.
//
// Each connection is a single transaction:
//
//	proxyinit -p PORT -k KEY [-m MULTI]
//	proxystop -k KEY
//
// and exactly one unframed XML response, one of:
//
//	<?xml version="1.0" encoding="UTF-8"?>
//	<proxyinit success="1" idekey="K" address="ENGINE_HOST" port="ENGINE_PORT"/>
//
//	<?xml version="1.0" encoding="UTF-8"?>
//	<proxystop success="1" idekey="K"/>
//
//	<?xml version="1.0" encoding="UTF-8"?>
//	<CMD success="0"><error id="0"><message>MSG</message></error></CMD>
package control

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dbgp-tools/dbgpmux/registry"
	"vawter.tech/stopper"
)

// maxRequest bounds how much of a command connection is read before giving
// up on finding a command line.
const maxRequest = 1024

const prolog = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

var commandToken = regexp.MustCompile(`^[A-Za-z0-9_]+`)

// Listener serves the IDE command protocol against a shared registry.
type Listener struct {
	reg        *registry.Registry
	engineAddr netip.AddrPort
}

// New constructs a Listener. engineAddr is the engine-side listener's
// advertised endpoint, echoed back in successful proxyinit responses.
func New(reg *registry.Registry, engineAddr netip.AddrPort) *Listener {
	return &Listener{reg: reg, engineAddr: engineAddr}
}

// Serve accepts connections from ln until ctx stops or Accept fails.
func (l *Listener) Serve(ctx *stopper.Context, ln net.Listener) error {
	logger := slog.With(slog.String("listener", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.IsStopping() {
				logger.DebugContext(ctx, "no longer accepting control connections")
				return nil
			}
			return err
		}

		ctx.Go(func(ctx *stopper.Context) error {
			l.handle(ctx, conn)
			return nil
		})
	}
}

func (l *Listener) handle(ctx *stopper.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	buf := make([]byte, maxRequest)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		slog.DebugContext(ctx, "control connection closed before any data arrived", "error", err)
		return
	}

	line := firstLine(buf[:n])
	resp := l.dispatch(conn, line)
	if _, err := conn.Write(resp); err != nil {
		slog.WarnContext(ctx, "could not write control response", "error", err)
	}
}

// firstLine decodes raw as UTF-8, falling back to the raw bytes unchanged
// if they are not valid UTF-8 -- the tokens of interest are all ASCII, so
// replacement-char semantics are never actually exercised in practice.
func firstLine(raw []byte) string {
	s := string(raw)
	if !utf8.ValidString(s) {
		s = string(raw) // raw bytes, as-is; Go strings are not required to be UTF-8.
	}
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return s
}

func (l *Listener) dispatch(conn net.Conn, line string) []byte {
	cmd := commandToken.FindString(line)
	if cmd == "" {
		return errorXML("unknown", fmt.Sprintf("could not parse a command from %q", line))
	}
	rest := strings.TrimSpace(line[len(cmd):])

	switch cmd {
	case "proxyinit":
		return l.proxyinit(conn, rest)
	case "proxystop":
		return l.proxystop(rest)
	default:
		return errorXML(cmd, fmt.Sprintf("unrecognized command %q", cmd))
	}
}

func (l *Listener) proxyinit(conn net.Conn, rest string) []byte {
	flags := parseFlags(rest)

	key := flags["k"]
	if key == "" {
		return errorXML("proxyinit", "No IDE key")
	}

	portFlag := flags["p"]
	port, err := strconv.ParseUint(portFlag, 10, 16)
	if portFlag == "" || err != nil {
		return errorXML("proxyinit", "No port defined for proxy")
	}

	host, ok := peerAddr(conn)
	if !ok {
		return errorXML("proxyinit", "Could not determine caller address")
	}
	endpoint := netip.AddrPortFrom(host, uint16(port))

	if !l.reg.Add(key, endpoint, flags["m"]) {
		return errorXML("proxyinit", "IDE Key already exists")
	}

	return []byte(fmt.Sprintf(
		`%s<proxyinit success="1" idekey="%s" address="%s" port="%d"/>`+"\n",
		prolog, xmlEscape(key), xmlEscape(l.engineAddr.Addr().String()), l.engineAddr.Port()))
}

func (l *Listener) proxystop(rest string) []byte {
	flags := parseFlags(rest)

	key := flags["k"]
	if key == "" {
		return errorXML("proxystop", "No IDE key")
	}

	if !l.reg.Remove(key) {
		return errorXML("proxystop", fmt.Sprintf("No such IDE key %q", key))
	}

	return []byte(fmt.Sprintf(`%s<proxystop success="1" idekey="%s"/>`+"\n", prolog, xmlEscape(key)))
}

// parseFlags recognizes "-x value" short-option pairs in a whitespace-split
// argument list. Unknown flags are ignored.
func parseFlags(rest string) map[string]string {
	fields := strings.Fields(rest)
	flags := make(map[string]string, len(fields)/2)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) == 2 && f[0] == '-' && i+1 < len(fields) {
			flags[string(f[1])] = fields[i+1]
			i++
		}
	}
	return flags
}

func peerAddr(conn net.Conn) (netip.Addr, bool) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	return tcpAddr.AddrPort().Addr(), true
}

type errorResponse struct {
	XMLName xml.Name `xml:"CMD"`
	Success int      `xml:"success,attr"`
	Error   struct {
		ID      int    `xml:"id,attr"`
		Message string `xml:"message"`
	} `xml:"error"`
}

// errorXML builds the failure response shared by both commands:
//
//	<CMD success="0"><error id="0"><message>MSG</message></error></CMD>
func errorXML(cmd, msg string) []byte {
	resp := errorResponse{Success: 0}
	resp.XMLName.Local = cmd
	resp.Error.ID = 0
	resp.Error.Message = msg

	out, err := xml.Marshal(resp)
	if err != nil {
		// xml.Marshal only fails on unsupported types; this struct is
		// never one of them.
		panic(err)
	}

	var buf bytes.Buffer
	buf.WriteString(prolog)
	buf.Write(out)
	buf.WriteByte('\n')
	return buf.Bytes()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

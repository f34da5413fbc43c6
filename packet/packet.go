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

// Package packet implements the DBGP length-prefixed wire framing:
// <decimal-length>\0<payload>\0. Length is counted in bytes, not runes.
package packet

import (
	"bufio"
	"fmt"
	"io"
)

// MaxPayload bounds the length prefix so a hostile or confused peer cannot
// make the proxy allocate unbounded memory for a single frame.
const MaxPayload = 1 << 20 // 1 MiB

// ProtocolError reports malformed framing: a non-digit length byte, a length
// exceeding MaxPayload, or a short read before the payload completed.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("dbgp protocol error: %s", e.Reason)
}

var nul = byte(0)

// DecodeFramed reads one framed packet from r: ASCII decimal digits up to
// the first nul, then exactly that many payload bytes. A trailing nul is
// consumed if present, but its absence is not an error -- some engines omit
// it.
func DecodeFramed(r *bufio.Reader) ([]byte, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("short read: %v", err)}
	}

	if b, err := r.Peek(1); err == nil && b[0] == nul {
		_, _ = r.Discard(1)
	}

	return payload, nil
}

func readLength(r *bufio.Reader) (int, error) {
	n := 0
	digits := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, &ProtocolError{Reason: fmt.Sprintf("reading length: %v", err)}
		}
		if b == nul {
			if digits == 0 {
				return 0, &ProtocolError{Reason: "empty length prefix"}
			}
			return n, nil
		}
		if b < '0' || b > '9' {
			return 0, &ProtocolError{Reason: fmt.Sprintf("non-digit byte %q in length prefix", b)}
		}
		n = n*10 + int(b-'0')
		digits++
		if n > MaxPayload {
			return 0, &ProtocolError{Reason: fmt.Sprintf("length %d exceeds %d byte cap", n, MaxPayload)}
		}
	}
}

// EncodeFramed wraps payload in the DBGP wire framing. The caller is
// responsible for the payload's content and encoding.
func EncodeFramed(payload []byte) []byte {
	prefix := fmt.Sprintf("%d", len(payload))
	out := make([]byte, 0, len(prefix)+len(payload)+2)
	out = append(out, prefix...)
	out = append(out, nul)
	out = append(out, payload...)
	out = append(out, nul)
	return out
}

// WriteFramed encodes and writes payload to w in one call.
func WriteFramed(w io.Writer, payload []byte) error {
	_, err := w.Write(EncodeFramed(payload))
	return err
}

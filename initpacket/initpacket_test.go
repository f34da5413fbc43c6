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

package initpacket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGetSet(t *testing.T) {
	r := require.New(t)

	raw := []byte(`<?xml version="1.0" encoding="iso-8859-1"?>` + "\n" +
		`<init appid="PHP" idekey="" session="abc" hostname="" thread="1" parent="" ` +
		`language="PHP" protocol_version="1.0" fileuri="file:///tmp/t.php"/>`)

	e, err := Parse(raw)
	r.NoError(err)

	key, ok := e.Get("idekey")
	r.True(ok)
	r.Equal("", key)

	session, ok := e.Get("session")
	r.True(ok)
	r.Equal("abc", session)

	_, ok = e.Get("no-such-attr")
	r.False(ok)

	e.Set("idekey", "alice")
	e.SetIfEmpty("hostname", "proxy-host")
	e.Set("proxied", "true")

	out := e.Bytes()
	r.Contains(string(out), `idekey="alice"`)
	r.Contains(string(out), `hostname="proxy-host"`)
	r.Contains(string(out), `proxied="true"`)
	r.Contains(string(out), `session="abc"`, "unrelated attributes must survive untouched")
	// The original prolog's encoding declaration is always replaced with the
	// canonical one.
	r.True(len(out) >= len(Prolog))
	r.Equal(Prolog, string(out[:len(Prolog)]))
	r.NotContains(string(out), "iso-8859-1")
}

func TestRewriteIsIdempotent(t *testing.T) {
	r := require.New(t)

	raw := []byte(`<?xml version="1.0"?><init idekey="" hostname=""/>`)

	rewrite := func(in []byte) []byte {
		e, err := Parse(in)
		r.NoError(err)
		e.SetIfEmpty("idekey", "alice")
		e.SetIfEmpty("hostname", "proxy-host")
		e.Set("proxied", "true")
		return e.Bytes()
	}

	once := rewrite(raw)
	twice := rewrite(once)
	r.Equal(once, twice, "rewriting an already-rewritten packet must be a no-op")
}

func TestPreservesTagNameAndTrailingContent(t *testing.T) {
	r := require.New(t)

	raw := []byte(`<?xml version="1.0"?><init idekey="a"><extra>child</extra></init>`)
	e, err := Parse(raw)
	r.NoError(err)
	r.False(e.selfClosed)

	e.Set("idekey", "b")
	out := string(e.Bytes())
	r.Contains(out, "<init ")
	r.Contains(out, "<extra>child</extra></init>")
}

func TestParseNoRootElement(t *testing.T) {
	r := require.New(t)

	_, err := Parse([]byte(`<?xml version="1.0"?>`))
	r.Error(err)
	var nre ErrNoRootElement
	r.ErrorAs(err, &nre)
}

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

// Package initpacket reads and rewrites the two attributes the proxy
// touches on a DBGP init packet's root element: idekey and hostname, plus
// the proxied marker it injects. A full XML parser is not needed -- the
// root element's opening tag is the only thing ever mutated, so this is a
// minimal attribute get/set over that one tag.
package initpacket

import (
	"fmt"
	"regexp"
)

// Prolog is the canonical XML prolog the proxy emits on every rewritten
// init packet, regardless of what the engine sent.
const Prolog = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

var (
	rootTag = regexp.MustCompile(`<([A-Za-z_][\w.-]*)((?:\s+[^<>]*?)?)\s*(/?)>`)
	attr    = regexp.MustCompile(`([\w:.-]+)\s*=\s*"([^"]*)"`)
)

// Element is a DBGP init (or similarly shaped) root element, parsed just
// far enough to read and rewrite attributes on its opening tag.
type Element struct {
	tagName     string
	attrs       []attrPair
	selfClosed  bool
	tail        []byte // everything in the original packet after the opening tag
}

type attrPair struct {
	name, value string
}

// ErrNoRootElement means the payload contained no recognizable XML start
// tag.
type ErrNoRootElement struct{}

func (ErrNoRootElement) Error() string { return "initpacket: no root element found" }

// Parse locates the first XML start tag in raw (skipping any prolog) and
// captures its attributes.
func Parse(raw []byte) (*Element, error) {
	loc := rootTag.FindSubmatchIndex(raw)
	if loc == nil {
		return nil, ErrNoRootElement{}
	}

	e := &Element{
		tagName:    string(raw[loc[2]:loc[3]]),
		selfClosed: loc[7] > loc[6], // the "/" capture group matched
		tail:       append([]byte(nil), raw[loc[1]:]...),
	}

	attrBlob := raw[loc[4]:loc[5]]
	for _, m := range attr.FindAllSubmatch(attrBlob, -1) {
		e.attrs = append(e.attrs, attrPair{name: string(m[1]), value: string(m[2])})
	}
	return e, nil
}

// Get returns the value of the named attribute, if present.
func (e *Element) Get(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

// Set assigns name=value on the root element, updating it in place if it
// already exists (preserving attribute order) or appending it otherwise.
func (e *Element) Set(name, value string) {
	for i, a := range e.attrs {
		if a.name == name {
			e.attrs[i].value = value
			return
		}
	}
	e.attrs = append(e.attrs, attrPair{name: name, value: value})
}

// SetIfEmpty assigns name=value only when the attribute is absent or
// already has an empty value.
func (e *Element) SetIfEmpty(name, value string) {
	if cur, ok := e.Get(name); ok && cur != "" {
		return
	}
	e.Set(name, value)
}

// Bytes reserializes the element: the canonical prolog, the rewritten
// opening tag, then everything that followed the original opening tag,
// byte for byte.
func (e *Element) Bytes() []byte {
	out := make([]byte, 0, len(Prolog)+64+len(e.tail))
	out = append(out, Prolog...)
	out = append(out, '<')
	out = append(out, e.tagName...)
	for _, a := range e.attrs {
		out = append(out, fmt.Sprintf(` %s="%s"`, a.name, a.value)...)
	}
	if e.selfClosed {
		out = append(out, '/')
	}
	out = append(out, '>')
	out = append(out, e.tail...)
	return out
}

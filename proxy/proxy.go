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

// Package proxy wires a Registry and the two listeners into one supervised
// unit: constructing a Proxy binds both sockets eagerly and starts their
// accept loops; stopping the owning stopper.Context drains it.
package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/dbgp-tools/dbgpmux/control"
	"github.com/dbgp-tools/dbgpmux/registry"
	"github.com/dbgp-tools/dbgpmux/session"
	"vawter.tech/stopper"
)

// Proxy owns one Registry and the control and engine listeners bound to it.
type Proxy struct {
	reg             *registry.Registry
	controlListener net.Listener
	engineListener  net.Listener
	engine          *session.Listener
}

// New binds the control and engine listeners per cfg and spawns their
// accept loops on ctx. A bind failure on either listener is returned
// immediately; nothing is left partially running.
func New(ctx *stopper.Context, cfg Config) (*Proxy, error) {
	controlListener, err := net.Listen("tcp", cfg.ControlAddr.String())
	if err != nil {
		return nil, fmt.Errorf("binding control listener on %s: %w", cfg.ControlAddr, err)
	}

	engineListener, err := net.Listen("tcp", cfg.EngineAddr.String())
	if err != nil {
		_ = controlListener.Close()
		return nil, fmt.Errorf("binding engine listener on %s: %w", cfg.EngineAddr, err)
	}

	reg := registry.New()
	p := &Proxy{
		reg:             reg,
		controlListener: controlListener,
		engineListener:  engineListener,
		engine:          session.New(reg),
	}

	ctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		_ = p.controlListener.Close()
		_ = p.engineListener.Close()
		// Unblock every in-flight Session's current read (AwaitInit decode or
		// Splicing copyLoop) so it can drive itself to Stopped.
		p.engine.CloseSessions()
		return nil
	})

	// Advertise the listener's actual bound address rather than cfg.EngineAddr
	// verbatim: a configured port of 0 (as in tests) is only resolved to a
	// real port once the listener is bound.
	advertised, err := netip.ParseAddrPort(engineListener.Addr().String())
	if err != nil {
		advertised = cfg.EngineAddr
	}

	control := control.New(p.reg, advertised)
	ctx.Go(func(ctx *stopper.Context) error {
		if err := control.Serve(ctx, p.controlListener); err != nil {
			slog.ErrorContext(ctx, "control listener stopped", "error", err)
		}
		return nil
	})

	ctx.Go(func(ctx *stopper.Context) error {
		if err := p.engine.Serve(ctx, p.engineListener); err != nil {
			slog.ErrorContext(ctx, "engine listener stopped", "error", err)
		}
		return nil
	})

	slog.InfoContext(ctx, "proxy started",
		slog.Any("control", controlListener.Addr()),
		slog.Any("engine", engineListener.Addr()))

	return p, nil
}

// Registry exposes the Proxy's shared Registry, for tests driving
// registrations without going through the control protocol.
func (p *Proxy) Registry() *registry.Registry {
	return p.reg
}

// ControlAddr returns the bound control listener address.
func (p *Proxy) ControlAddr() net.Addr {
	return p.controlListener.Addr()
}

// EngineAddr returns the bound engine listener address.
func (p *Proxy) EngineAddr() net.Addr {
	return p.engineListener.Addr()
}

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

package dbgpmux

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/dbgp-tools/dbgpmux/proxy"
	"github.com/spf13/cobra"
	"vawter.tech/stopper"
)

var logLevels = map[string]slog.Level{
	"CRITICAL": slog.LevelError + 4,
	"ERROR":    slog.LevelError,
	"WARN":     slog.LevelWarn,
	"INFO":     slog.LevelInfo,
	"DEBUG":    slog.LevelDebug,
}

// Command is the entrypoint for starting the DBGP rendezvous proxy.
func Command() *cobra.Command {
	var ideAddr, engineAddr, level string
	cmd := &cobra.Command{
		Args:  cobra.NoArgs,
		Use:   "serve",
		Short: "start the DBGP rendezvous proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, ok := logLevels[strings.ToUpper(level)]
			if !ok {
				return fmt.Errorf("unknown log level %q", level)
			}
			slog.SetLogLoggerLevel(lvl)

			cfg, err := parseConfig(ideAddr, engineAddr)
			if err != nil {
				return err
			}

			ctx := stopper.From(cmd.Context())
			if _, err := proxy.New(ctx, cfg); err != nil {
				return err
			}
			return ctx.Wait()
		},
	}
	cmd.Flags().StringVarP(&ideAddr, "ide", "i", "127.0.0.1:9001", "IDE command listener bind address")
	cmd.Flags().StringVarP(&engineAddr, "engine", "d", "127.0.0.1:9000", "engine listener bind address")
	cmd.Flags().StringVarP(&level, "log-level", "l", "INFO", "log level: CRITICAL|ERROR|WARN|INFO|DEBUG")
	return cmd
}

func parseConfig(ideAddr, engineAddr string) (proxy.Config, error) {
	ide, err := resolveAddrPort(ideAddr)
	if err != nil {
		return proxy.Config{}, fmt.Errorf("parsing -i %q: %w", ideAddr, err)
	}
	engine, err := resolveAddrPort(engineAddr)
	if err != nil {
		return proxy.Config{}, fmt.Errorf("parsing -d %q: %w", engineAddr, err)
	}
	return proxy.Config{ControlAddr: ide, EngineAddr: engine}, nil
}

// resolveAddrPort parses a "[HOST:]PORT" argument, defaulting the host to
// 127.0.0.1 when only a bare port is given.
func resolveAddrPort(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	if ap, err := netip.ParseAddrPort("127.0.0.1:" + s); err == nil {
		return ap, nil
	}
	return netip.AddrPort{}, fmt.Errorf("not a valid [HOST:]PORT")
}

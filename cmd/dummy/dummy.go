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

package dummy

import (
	"log/slog"
	"strings"

	"github.com/dbgp-tools/dbgpmux/dummy"
	"github.com/spf13/cobra"
	"vawter.tech/stopper"
)

// Command is the entrypoint for running the stub IDE standalone, for
// manual end-to-end checks against a real debugger engine.
func Command() *cobra.Command {
	var bind, level string
	cmd := &cobra.Command{
		Use:   "dummy",
		Args:  cobra.NoArgs,
		Short: "run a stub IDE that logs every init packet it receives",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lvl, ok := map[string]slog.Level{
				"CRITICAL": slog.LevelError + 4,
				"ERROR":    slog.LevelError,
				"WARN":     slog.LevelWarn,
				"INFO":     slog.LevelInfo,
				"DEBUG":    slog.LevelDebug,
			}[strings.ToUpper(level)]; ok {
				slog.SetLogLoggerLevel(lvl)
			}

			ctx := stopper.From(cmd.Context())
			if _, err := dummy.New(ctx, bind); err != nil {
				return err
			}
			return ctx.Wait()
		},
	}
	cmd.Flags().StringVarP(&bind, "listen", "l", "127.0.0.1:9010", "bind address")
	cmd.Flags().StringVar(&level, "log-level", "INFO", "log level: CRITICAL|ERROR|WARN|INFO|DEBUG")
	return cmd
}

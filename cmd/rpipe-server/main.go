// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: December 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command rpipe-server runs the hosted remote-pipe relay.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rpipe/internal/pipeserver"
	"rpipe/internal/protocol"
)

func main() {
	var (
		opts             pipeserver.Options
		verbosity        int
		showMinVersion   bool
		shutdownDeadline time.Duration
	)
	cmd := &cobra.Command{
		Use:           "rpipe-server",
		Short:         "The rpipe relay server",
		Version:       protocol.VersionString,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showMinVersion {
				fmt.Printf("rpipe>=%s\n", pipeserver.MinVersion)
				return nil
			}
			if err := configLog(verbosity, opts.LogFile); err != nil {
				return err
			}
			srv, err := pipeserver.NewServer(opts, clockwork.NewRealClock())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Host, "host", "0.0.0.0", "the host to bind to for listening")
	flags.IntVar(&opts.Port, "port", 8080, "the port to listen on")
	flags.StringVar(&opts.StateFile, "state-file", "", "the save state file, if desired")
	flags.StringVar(&opts.Blocklist, "blocklist", "", "the blocklist file, if desired")
	flags.StringSliceVar(&opts.KeyFiles, "key-files", nil, "SSH public keys to accept for admin access")
	flags.StringVar(&opts.LogFile, "log-file", "", "also log to this file (required for /admin/log)")
	flags.StringVar(&opts.Favicon, "favicon", "", "file to serve as /favicon.ico")
	flags.StringVar(&opts.StatsSink, "stats-sink", "", "stats sink selector: file:<path> or redis:<addr>")
	flags.BoolVar(&opts.Debug, "debug", false, "run the server in debug mode")
	flags.BoolVar(&showMinVersion, "min-client-version", false, "print the minimum supported client version then exit")
	flags.DurationVar(&shutdownDeadline, "shutdown-deadline", 30*time.Second, "how long to wait for in-flight requests on shutdown")
	flags.CountVarP(&verbosity, "verbose", "v", "increase log verbosity, pass more than once to increase verbosity")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configLog sets the log level from the verbosity count and tees logs into
// the log file when one is configured.
func configLog(verbosity int, logFile string) error {
	switch {
	case verbosity <= 0:
		logrus.SetLevel(logrus.WarnLevel)
	case verbosity == 1:
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	logrus.WithField("component", "main").Infof("logging level set to %s", logrus.GetLevel())
	return nil
}

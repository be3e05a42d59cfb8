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

// Command rpipe is the remote pipe client: it sends, receives, peeks,
// deletes, and queries channels, and runs signed admin commands.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"rpipe/internal/client"
	"rpipe/internal/payload"
	"rpipe/internal/protocol"
)

// mode mirrors the CLI flags that decide what rpipe does this run.
type mode struct {
	// Priority modes, at most one.
	printConfig   bool
	saveConfig    bool
	outdated      bool
	serverVersion bool
	query         bool
	blockedCheck  bool
	// Read / write / delete modes.
	read   bool
	write  bool
	delete bool
	// Read options.
	block bool
	peek  bool
	force bool
	yes   bool
	// Write options.
	ttl     int
	zstd    int
	threads int
	// Read / write options.
	file       string
	progress   string
	noProgress bool
	total      bool
	checksum   bool
	plaintext  bool
}

func (m mode) nPriority() int {
	n := 0
	for _, b := range []bool{m.printConfig, m.saveConfig, m.outdated, m.serverVersion, m.query, m.blockedCheck} {
		if b {
			n++
		}
	}
	return n
}

func main() {
	var (
		m         mode
		verbosity int

		urlFlag     string
		channelFlag string
		timeoutFlag float64
		keyFileFlag string
		sslFlag     bool
	)
	cmd := &cobra.Command{
		Use:           "rpipe",
		Short:         "A remote piping tool",
		Version:       protocol.VersionString,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configLog(verbosity)
			over := overrides(cmd.Flags(), &urlFlag, &channelFlag, &timeoutFlag, &keyFileFlag, &sslFlag, m.plaintext)
			return run(cmd, m, over)
		},
	}
	flags := cmd.Flags()
	// Recv mode
	flags.BoolVarP(&m.block, "block", "b", false, "wait until a channel is available to read")
	flags.BoolVarP(&m.peek, "peek", "p", false, "read the pipe without emptying it")
	flags.BoolVarP(&m.force, "force", "f", false, "attempt to read data even on a client version mismatch")
	flags.BoolVarP(&m.yes, "yes", "y", false, "overwrite the output file if it exists (requires --file)")
	// Send mode
	flags.IntVarP(&m.ttl, "ttl", "t", 0, "pipe TTL in seconds; use the server default if not passed")
	flags.IntVarP(&m.zstd, "zstd", "Z", payload.DefaultLevel, "compression level [1-22]; invalid in plaintext mode")
	flags.IntVarP(&m.threads, "threads", "j", maxThreads(), "number of threads to use for compression")
	// Read / write modes
	flags.BoolVarP(&m.read, "read", "r", false, "read data from the pipe")
	flags.BoolVarP(&m.write, "write", "w", false, "write data to the pipe")
	flags.BoolVarP(&m.delete, "delete", "X", false, "delete the channel")
	flags.StringVarP(&m.file, "file", "F", "", "a file to use for input/output instead of stdin/stdout")
	flags.StringVarP(&m.progress, "progress", "P", "", "expected transfer size, e.g. 512M (accepted for compatibility)")
	flags.BoolVarP(&m.noProgress, "no-progress", "N", false, "do not show progress")
	flags.BoolVarP(&m.total, "total", "Y", false, "print the total number of bytes sent/received")
	flags.BoolVarP(&m.checksum, "checksum", "K", false, "checksum the data being sent/received")
	// Priority modes
	flags.BoolVar(&m.printConfig, "print-config", false, "print the configuration then exit")
	flags.BoolVar(&m.saveConfig, "save-config", false, "save the configuration then exit")
	flags.BoolVar(&m.outdated, "outdated", false, "check if this client version is supported by the server")
	flags.BoolVar(&m.serverVersion, "server-version", false, "print the server version")
	flags.BoolVarP(&m.query, "query", "q", false, "query the channel")
	flags.BoolVar(&m.blockedCheck, "blocked", false, "check if the server blocks this IP")
	// Configuration flags are persistent so admin subcommands share them.
	pflags := cmd.PersistentFlags()
	pflags.StringVarP(&urlFlag, "url", "u", "", "the pipe URL to use")
	pflags.StringVarP(&channelFlag, "channel", "c", "", "the channel to use")
	pflags.Float64VarP(&timeoutFlag, "timeout", "T", 0, "the timeout for HTTP requests in seconds")
	pflags.StringVarP(&keyFileFlag, "key-file", "k", "", "SSH private key file used to sign admin requests")
	pflags.BoolVarP(&sslFlag, "ssl", "S", true, "require the host to use https")
	pflags.CountVarP(&verbosity, "verbose", "v", "increase log verbosity, pass more than once to increase verbosity")
	flags.BoolVar(&m.plaintext, "plaintext", false,
		fmt.Sprintf("send plaintext even when %s is set", client.PasswordEnv))

	cmd.AddCommand(adminCommand(&urlFlag, &keyFileFlag, &verbosity))

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var usage client.UsageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func maxThreads() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// overrides folds the changed CLI flags into a client.Overrides.
func overrides(flags *pflag.FlagSet, url, channel *string, timeout *float64, keyFile *string, ssl *bool, plaintext bool) client.Overrides {
	var over client.Overrides
	if flags.Changed("url") {
		over.URL = url
	}
	if flags.Changed("channel") {
		over.Channel = channel
	}
	if flags.Changed("timeout") {
		over.Timeout = timeout
	}
	if flags.Changed("key-file") {
		over.KeyFile = keyFile
	}
	if flags.Changed("ssl") {
		over.SSL = ssl
	}
	if plaintext {
		f := false
		over.Encrypt = &f
	}
	return over
}

// checkMode validates flag combinations the parser cannot.
func checkMode(m mode) error {
	if m.ttl < 0 {
		return client.UsageError{Msg: "--ttl must be positive"}
	}
	if m.zstd < 1 || m.zstd > 22 {
		return client.UsageError{Msg: "--zstd must be in [1-22]"}
	}
	if m.nPriority() > 1 {
		return client.UsageError{Msg: "only one priority mode may be used at a time"}
	}
	n := 0
	for _, b := range []bool{m.read, m.write, m.delete} {
		if b {
			n++
		}
	}
	if n > 1 {
		return client.UsageError{Msg: "can only read, write, or delete at a time"}
	}
	if m.delete && (m.block || m.peek || m.force || m.total || m.checksum || m.file != "") {
		return client.UsageError{Msg: "read/write arguments may not be used when deleting"}
	}
	if m.yes && m.file == "" {
		return client.UsageError{Msg: "--yes requires --file"}
	}
	if m.progress != "" {
		if _, err := units.RAMInBytes(m.progress); err != nil {
			return client.UsageError{Msg: fmt.Sprintf("invalid --progress size: %s", m.progress)}
		}
	}
	return nil
}

func run(cmd *cobra.Command, m mode, over client.Overrides) error {
	if err := checkMode(m); err != nil {
		return err
	}
	path := client.ConfigPath()
	logrus.WithField("component", "client").Infof("config file: %s", path)
	fileCfg, err := client.LoadConfigFile(path)
	if err != nil {
		return err
	}
	cfg := client.Resolve(over, fileCfg)

	// Priority modes first.
	switch {
	case m.printConfig:
		fmt.Println(cfg)
		return nil
	case m.saveConfig:
		return cfg.Save(path)
	case m.outdated:
		return runOutdated(cfg)
	case m.serverVersion:
		return runServerVersion(cfg)
	case m.query:
		return runQuery(cfg)
	case m.blockedCheck:
		return runBlockedCheck(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	read, write := m.read, m.write
	if !read && !write && !m.delete {
		// No explicit mode: send when data is piped in, receive otherwise.
		write = !stdinIsTTY()
		read = !write
	}
	if (read || write) && cfg.Password == "" {
		logrus.Warn("encryption disabled: plaintext mode")
		if cmd.Flags().Changed("zstd") {
			return client.UsageError{Msg: "cannot compress data in plaintext mode"}
		}
	}
	switch {
	case m.delete:
		return client.Delete(cfg)
	case write:
		input, closeFn, err := openInput(m.file)
		if err != nil {
			return err
		}
		defer closeFn()
		return client.Send(cmd.Context(), cfg, client.SendOptions{
			TTL:      m.ttl,
			Level:    m.zstd,
			Threads:  m.threads,
			Total:    m.total,
			Checksum: m.checksum,
			Input:    input,
		})
	default:
		output, closeFn, err := openOutput(m.file, m.yes)
		if err != nil {
			return err
		}
		defer closeFn()
		return client.Recv(cmd.Context(), cfg, client.RecvOptions{
			Block:    m.block,
			Peek:     m.peek,
			Force:    m.force,
			Total:    m.total,
			Checksum: m.checksum,
			Output:   output,
		})
	}
}

func runOutdated(cfg client.Config) error {
	if cfg.URL == "" {
		return client.UsageError{Msg: "missing: --url"}
	}
	outdated, err := client.Outdated(cfg)
	if err != nil {
		return err
	}
	if outdated {
		fmt.Println("NOT SUPPORTED")
	} else {
		fmt.Println("SUPPORTED")
	}
	return nil
}

func runServerVersion(cfg client.Config) error {
	if cfg.URL == "" {
		return client.UsageError{Msg: "missing: --url"}
	}
	v, err := client.ServerVersion(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("rpipe-server %s\n", v)
	return nil
}

func runQuery(cfg client.Config) error {
	if cfg.URL == "" {
		return client.UsageError{Msg: "missing: --url"}
	}
	q, err := client.Query(cfg)
	if err != nil {
		var nodata client.NoDataError
		if errors.As(err, &nodata) {
			fmt.Printf("No data on channel: %s\n", cfg.Channel)
			return nil
		}
		return err
	}
	js, err := json.MarshalIndent(q, "", "    ")
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", cfg.Channel, js)
	return nil
}

func runBlockedCheck(cfg client.Config) error {
	if cfg.URL == "" {
		return client.UsageError{Msg: "missing: --url"}
	}
	blocked, err := client.BlockedCheck(cfg)
	if err != nil {
		return err
	}
	if blocked {
		fmt.Println("BLOCKED")
	} else {
		fmt.Println("NOT BLOCKED")
	}
	return nil
}

func stdinIsTTY() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func openInput(file string) (io.Reader, func(), error) {
	if file == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func openOutput(file string, overwrite bool) (io.Writer, func(), error) {
	if file == "" {
		return os.Stdout, func() {}, nil
	}
	if _, err := os.Stat(file); err == nil && !overwrite {
		return nil, nil, client.UsageError{Msg: fmt.Sprintf("output file %s exists; pass --yes to overwrite", file)}
	}
	f, err := os.Create(file)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func configLog(verbosity int) {
	switch {
	case verbosity <= 0:
		logrus.SetLevel(logrus.WarnLevel)
	case verbosity == 1:
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
}

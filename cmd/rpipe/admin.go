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

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"rpipe/internal/client"
)

// adminCommand builds the `rpipe admin` subtree of signed server commands.
func adminCommand(urlFlag, keyFileFlag *string, verbosity *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Run signed admin commands against the server",
	}
	newAdmin := func() (*client.Admin, error) {
		configLog(*verbosity)
		over := client.Overrides{}
		if *urlFlag != "" {
			over.URL = urlFlag
		}
		if *keyFileFlag != "" {
			over.KeyFile = keyFileFlag
		}
		fileCfg, err := client.LoadConfigFile(client.ConfigPath())
		if err != nil {
			return nil, err
		}
		return client.NewAdmin(client.Resolve(over, fileCfg))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "debug",
		Short: "Report whether the server runs in debug mode",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newAdmin()
			if err != nil {
				return err
			}
			debug, err := a.Debug()
			if err != nil {
				return err
			}
			modeStr := "RELEASE"
			if debug {
				modeStr = "DEBUG"
			}
			fmt.Printf("Server is running in %s mode\n", modeStr)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "channels",
		Short: "List the server's current channels",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newAdmin()
			if err != nil {
				return err
			}
			channels, err := a.Channels()
			if err != nil {
				return err
			}
			if len(channels) == 0 {
				fmt.Println("Server is empty")
				return nil
			}
			names := make([]string, 0, len(channels))
			width := 0
			for name := range channels {
				names = append(names, name)
				if len(name) > width {
					width = len(name)
				}
			}
			sort.Strings(names)
			for _, name := range names {
				info := channels[name]
				fmt.Printf("%-*s : version=%s packets=%d size=%d encrypted=%v expire=%s\n",
					width, name, info.Version, info.Packets, info.Size, info.Encrypted, info.Expire)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print the server's stats JSON",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newAdmin()
			if err != nil {
				return err
			}
			stats, err := a.Stats()
			if err != nil {
				return err
			}
			fmt.Println(string(stats))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "log [output-file]",
		Short: "Download the server log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newAdmin()
			if err != nil {
				return err
			}
			data, err := a.Log()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return os.WriteFile(args[0], data, 0o600)
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "log-level [level]",
		Short: "Query or set the server log level",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newAdmin()
			if err != nil {
				return err
			}
			level := ""
			if len(args) == 1 {
				level = args[0]
			}
			old, newLvl, err := a.LogLevel(level)
			if err != nil {
				return err
			}
			fmt.Printf("Log level: %s -> %s\n", old, newLvl)
			return nil
		},
	})

	var unlock bool
	lockCmd := &cobra.Command{
		Use:   "lock <channel>",
		Short: "Lock a channel against deletion and expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newAdmin()
			if err != nil {
				return err
			}
			out, err := a.Lock(args[0], !unlock)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	lockCmd.Flags().BoolVar(&unlock, "unlock", false, "unlock the channel instead")
	cmd.AddCommand(lockCmd)

	for _, kind := range []string{"ip", "route"} {
		kind := kind
		var add, remove []string
		listCmd := &cobra.Command{
			Use:   kind + " <whitelist|blacklist>",
			Short: fmt.Sprintf("Query or edit the %s blocklists", kind),
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				a, err := newAdmin()
				if err != nil {
					return err
				}
				out, err := a.EditList(kind, args[0], add, remove)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			},
		}
		listCmd.Flags().StringSliceVar(&add, "add", nil, "entries to add")
		listCmd.Flags().StringSliceVar(&remove, "remove", nil, "entries to remove")
		cmd.AddCommand(listCmd)
	}

	return cmd
}

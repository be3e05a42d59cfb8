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

package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Environment variables honored by the client.
const (
	PasswordEnv   = "RPIPE_PASSWORD"
	ConfigFileEnv = "RPIPE_CONFIG_FILE"
)

// DefaultTimeout is the HTTP request timeout in seconds when none is chosen.
const DefaultTimeout = 60

// Config is where the remote pipe is and how to talk to it. It is also the
// JSON shape of the config file.
type Config struct {
	SSL      bool    `json:"ssl"`
	URL      string  `json:"url"`
	Channel  string  `json:"channel"`
	Password string  `json:"password"`
	Timeout  float64 `json:"timeout"`
	KeyFile  string  `json:"key_file"`
}

// Overrides carry CLI flag values; nil means the flag was not passed.
type Overrides struct {
	SSL     *bool
	URL     *string
	Channel *string
	Timeout *float64
	KeyFile *string
	// Encrypt: nil or true = use RPIPE_PASSWORD if set, else the saved
	// password (true does not require one); false = force plaintext.
	Encrypt *bool
}

// ConfigPath returns the config file location, honoring RPIPE_CONFIG_FILE.
func ConfigPath() string {
	if p := os.Getenv(ConfigFileEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "rpipe.json"
	}
	return filepath.Join(home, ".config", "rpipe.json")
}

// LoadConfigFile reads path into defaults; a missing file yields defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := Config{SSL: true, Timeout: DefaultTimeout}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("file", path).Debug("config file does not exist")
			return cfg, nil
		}
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg, nil
}

// Resolve applies the precedence CLI > config file > default and the password
// sources (RPIPE_PASSWORD, then the saved password) onto one effective Config.
func Resolve(cli Overrides, file Config) Config {
	cfg := file
	if cli.SSL != nil {
		cfg.SSL = *cli.SSL
	}
	if cli.URL != nil {
		cfg.URL = *cli.URL
	}
	if cli.Channel != nil {
		cfg.Channel = *cli.Channel
	}
	if cli.Timeout != nil && *cli.Timeout > 0 {
		cfg.Timeout = *cli.Timeout
	}
	if cli.KeyFile != nil {
		cfg.KeyFile = *cli.KeyFile
	}
	if cli.Encrypt != nil && !*cli.Encrypt {
		cfg.Password = ""
	} else if env := os.Getenv(PasswordEnv); env != "" {
		cfg.Password = env
	}
	return cfg
}

// Save writes cfg to path, creating the parent directory if needed.
func (c Config) Save(path string) error {
	log := logrus.WithField("component", "config")
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	js, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, js, 0o600); err != nil {
		return err
	}
	log.WithField("file", path).Info("config saved")
	return nil
}

// Validate checks that the config can serve channel operations.
func (c Config) Validate() error {
	var missing []string
	if c.URL == "" {
		missing = append(missing, "URL")
	}
	if c.Channel == "" {
		missing = append(missing, "CHANNEL")
	}
	if len(missing) > 0 {
		return UsageError{Msg: "missing: " + strings.Join(missing, ", ")}
	}
	if c.SSL && !strings.HasPrefix(c.URL, "https://") {
		return UsageError{Msg: "SSL is required but URL does not use the https scheme." +
			" If raw http is desired, consider disabling SSL"}
	}
	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			logrus.WithField("file", c.KeyFile).Warn("key file does not exist")
		}
	}
	return nil
}

// ChannelURL is the /c endpoint for the configured channel.
func (c Config) ChannelURL() string {
	return fmt.Sprintf("%s/c/%s", c.URL, url.PathEscape(c.Channel))
}

// String renders the config without leaking the password.
func (c Config) String() string {
	return fmt.Sprintf("Config:\n  ssl: %v\n  url: %s\n  channel: %s\n  password: %v\n  timeout: %v\n  key_file: %s",
		c.SSL, c.URL, c.Channel, c.Password != "", c.Timeout, c.KeyFile)
}

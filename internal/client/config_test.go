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

package client_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpipe/internal/client"
)

func TestConfigPrecedence(t *testing.T) {
	file := client.Config{SSL: true, URL: "https://file.example", Channel: "file-chan", Timeout: 30}
	url := "https://cli.example"
	cfg := client.Resolve(client.Overrides{URL: &url}, file)
	// CLI wins over the file; unset flags keep the file values.
	assert.Equal(t, "https://cli.example", cfg.URL)
	assert.Equal(t, "file-chan", cfg.Channel)
	assert.Equal(t, 30.0, cfg.Timeout)
}

func TestConfigPasswordSources(t *testing.T) {
	t.Setenv(client.PasswordEnv, "env-secret")
	cfg := client.Resolve(client.Overrides{}, client.Config{Password: "file-secret"})
	assert.Equal(t, "env-secret", cfg.Password, "the environment beats the saved password")

	// Forcing plaintext clears the password entirely.
	f := false
	cfg = client.Resolve(client.Overrides{Encrypt: &f}, client.Config{Password: "file-secret"})
	assert.Empty(t, cfg.Password)

	t.Setenv(client.PasswordEnv, "")
	cfg = client.Resolve(client.Overrides{}, client.Config{Password: "file-secret"})
	assert.Equal(t, "file-secret", cfg.Password)
}

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "rpipe.json")
	cfg := client.Config{SSL: false, URL: "http://x", Channel: "c", Password: "p", Timeout: 12, KeyFile: "k"}
	require.NoError(t, cfg.Save(path))
	got, err := client.LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfigLoadMissing(t *testing.T) {
	got, err := client.LoadConfigFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.True(t, got.SSL, "defaults apply when the file is missing")
	assert.Equal(t, float64(client.DefaultTimeout), got.Timeout)
}

func TestConfigValidate(t *testing.T) {
	err := client.Config{}.Validate()
	var usage client.UsageError
	require.ErrorAs(t, err, &usage)

	err = client.Config{SSL: true, URL: "http://insecure", Channel: "c"}.Validate()
	require.ErrorAs(t, err, &usage, "ssl requires an https URL")

	require.NoError(t, client.Config{SSL: false, URL: "http://fine", Channel: "c"}.Validate())
	require.NoError(t, client.Config{SSL: true, URL: "https://fine", Channel: "c"}.Validate())
}

func TestChannelURLEscaping(t *testing.T) {
	cfg := client.Config{URL: "https://x", Channel: "with space/slash"}
	assert.Equal(t, "https://x/c/with%20space%2Fslash", cfg.ChannelURL())
}

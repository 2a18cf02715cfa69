// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/natsd"
	"github.com/mochi-mqtt/natsd/hooks/debug"
	"github.com/mochi-mqtt/natsd/hooks/storage/badger"
	"github.com/mochi-mqtt/natsd/hooks/storage/bolt"
	"github.com/mochi-mqtt/natsd/hooks/storage/pebble"
	"github.com/mochi-mqtt/natsd/hooks/storage/redis"
	"github.com/mochi-mqtt/natsd/listeners"
)

var (
	yamlBytes = []byte(`
listeners:
  - type: "tcp"
    id: "file-tcp1"
    address: ":4222"
hooks:
  debug:
    enable: true
    show_pings: true
options:
  host: "broker.local"
  client_net_read_buffer_size: 4096
  capabilities:
    maximum_payload: 2048
    compatibilities:
      restore_sys_info_on_restart: true
`)

	jsonBytes = []byte(`{
   "listeners": [
      {
         "type": "tcp",
         "id": "file-tcp1",
         "address": ":4222"
      }
   ],
   "hooks": {
      "debug": {
         "enable": true,
         "show_pings": true
      }
   },
   "options": {
      "host": "broker.local",
      "client_net_read_buffer_size": 4096,
      "capabilities": {
         "maximum_payload": 2048,
         "compatibilities": {
            "restore_sys_info_on_restart": true
         }
      }
   }
}
`)

	parsedOptions = natsd.Options{
		Listeners: []listeners.Config{
			{
				Type:    listeners.TypeTCP,
				ID:      "file-tcp1",
				Address: ":4222",
			},
		},
		Hooks: []natsd.HookLoadConfig{
			{
				Hook: new(debug.Hook),
				Config: &debug.Options{
					Enable:    true,
					ShowPings: true,
				},
			},
		},
		Host:                    "broker.local",
		ClientNetReadBufferSize: 4096,
		Capabilities: &natsd.Capabilities{
			MaximumPayload: 2048,
			Compatibilities: natsd.Compatibilities{
				RestoreSysInfoOnRestart: true,
			},
		},
	}
)

func TestFromBytesEmpty(t *testing.T) {
	o, err := FromBytes([]byte{})
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestFromBytesYAML(t *testing.T) {
	o, err := FromBytes(yamlBytes)
	require.NoError(t, err)
	require.Equal(t, parsedOptions, *o)
}

func TestFromBytesYAMLError(t *testing.T) {
	_, err := FromBytes(append(yamlBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesJSON(t *testing.T) {
	o, err := FromBytes(jsonBytes)
	require.NoError(t, err)
	require.Equal(t, parsedOptions, *o)
}

func TestFromBytesJSONError(t *testing.T) {
	_, err := FromBytes(append(jsonBytes, 'a'))
	require.Error(t, err)
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, yamlBytes, 0o600))

	o, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, parsedOptions, *o)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestToHooksNone(t *testing.T) {
	hc := HookConfigs{}
	require.Empty(t, hc.ToHooks())
}

func TestToHooksDebug(t *testing.T) {
	hc := HookConfigs{
		Debug: &debug.Options{ShowPayloads: true},
	}

	expect := []natsd.HookLoadConfig{
		{
			Hook:   new(debug.Hook),
			Config: hc.Debug,
		},
	}
	require.Equal(t, expect, hc.ToHooks())
}

func TestToHooksStorageBadger(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Badger: &badger.Options{
				Path: "badger",
			},
		},
	}

	th := hc.toHooksStorage()
	expect := []natsd.HookLoadConfig{
		{
			Hook:   new(badger.Hook),
			Config: hc.Storage.Badger,
		},
	}

	require.Equal(t, expect, th)
}

func TestToHooksStorageBolt(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Bolt: &bolt.Options{
				Path: "bolt",
			},
		},
	}

	th := hc.toHooksStorage()
	expect := []natsd.HookLoadConfig{
		{
			Hook:   new(bolt.Hook),
			Config: hc.Storage.Bolt,
		},
	}

	require.Equal(t, expect, th)
}

func TestToHooksStorageRedis(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Redis: &redis.Options{
				Username: "test",
			},
		},
	}

	th := hc.toHooksStorage()
	expect := []natsd.HookLoadConfig{
		{
			Hook:   new(redis.Hook),
			Config: hc.Storage.Redis,
		},
	}

	require.Equal(t, expect, th)
}

func TestToHooksStoragePebble(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Pebble: &pebble.Options{
				Path: "pebble",
			},
		},
	}

	th := hc.toHooksStorage()
	expect := []natsd.HookLoadConfig{
		{
			Hook:   new(pebble.Hook),
			Config: hc.Storage.Pebble,
		},
	}

	require.Equal(t, expect, th)
}

func TestToHooksAll(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Badger: &badger.Options{Path: "badger"},
			Bolt:   &bolt.Options{Path: "bolt"},
			Pebble: &pebble.Options{Path: "pebble"},
			Redis:  &redis.Options{Address: "localhost:6379"},
		},
		Debug: &debug.Options{},
	}

	th := hc.ToHooks()
	require.Len(t, th, 5)
	require.IsType(t, new(debug.Hook), th[4].Hook)
}

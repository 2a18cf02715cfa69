// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package redis

import (
	"io"
	"log/slog"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/natsd"
	"github.com/mochi-mqtt/natsd/hooks/storage"
	"github.com/mochi-mqtt/natsd/system"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newHook(t *testing.T, addr string) *Hook {
	h := new(Hook)
	h.SetOpts(logger, nil)

	err := h.Init(&Options{
		Options: &redis.Options{
			Addr: addr,
		},
	})
	require.NoError(t, err)

	return h
}

func teardown(t *testing.T, h *Hook) {
	if h.db != nil {
		err := h.db.FlushAll(h.ctx).Err()
		require.NoError(t, err)
		_ = h.Stop()
	}
}

func TestSysInfoKey(t *testing.T) {
	require.Equal(t, storage.SysInfoKey, sysInfoKey())
}

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "redis-db", h.ID())
}

func TestProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(natsd.OnSysInfoTick))
	require.True(t, h.Provides(natsd.StoredSysInfo))
	require.False(t, h.Provides(natsd.OnConnect))
}

func TestHKey(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	h := newHook(t, s.Addr())
	defer teardown(t, h)
	require.Equal(t, defaultHPrefix+"test", h.hKey("test"))
}

func TestInitUseDefaults(t *testing.T) {
	s := miniredis.RunT(t)
	s.StartAddr(defaultAddr)
	defer s.Close()

	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(nil)
	require.NoError(t, err)
	defer teardown(t, h)

	require.Equal(t, defaultHPrefix, h.config.HPrefix)
	require.Equal(t, defaultAddr, h.config.Options.Addr)
}

func TestInitTypedNilOptions(t *testing.T) {
	s := miniredis.RunT(t)
	s.StartAddr(defaultAddr)
	defer s.Close()

	h := new(Hook)
	h.SetOpts(logger, nil)
	var opts *Options
	err := h.Init(opts)
	require.NoError(t, err)
	defer teardown(t, h)

	require.Equal(t, defaultAddr, h.config.Options.Addr)
	require.Equal(t, defaultHPrefix, h.config.HPrefix)
}

func TestInitFromFields(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(&Options{
		Address: s.Addr(),
		HPrefix: "x-",
	})
	require.NoError(t, err)
	defer teardown(t, h)

	require.Equal(t, s.Addr(), h.config.Options.Addr)
	require.Equal(t, "x-", h.config.HPrefix)
}

func TestInitBadConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	err := h.Init(map[string]any{})
	require.ErrorIs(t, err, natsd.ErrInvalidConfigType)
}

func TestInitBadAddr(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(&Options{
		Options: &redis.Options{
			Addr: "127.0.0.1:1",
		},
	})
	require.Error(t, err)
}

func TestOnSysInfoTickThenStoredSysInfo(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	h := newHook(t, s.Addr())
	defer teardown(t, h)

	v, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Empty(t, v.Version)

	h.OnSysInfoTick(&system.Info{
		Version:          "1.0.0",
		BytesReceived:    100,
		MessagesReceived: 3,
	})

	require.True(t, s.Exists(defaultHPrefix+storage.SysInfoKey))

	v, err = h.StoredSysInfo()
	require.NoError(t, err)
	require.Equal(t, storage.SysInfoKey, v.ID)
	require.Equal(t, "1.0.0", v.Version)
	require.Equal(t, int64(100), v.BytesReceived)
	require.Equal(t, int64(3), v.MessagesReceived)
}

func TestStoredSysInfoBadData(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	h := newHook(t, s.Addr())
	defer teardown(t, h)

	s.HSet(defaultHPrefix+storage.SysInfoKey, storage.SysInfoKey, "{")
	_, err := h.StoredSysInfo()
	require.Error(t, err)
}

func TestOnSysInfoTickClosedConnection(t *testing.T) {
	s := miniredis.RunT(t)
	h := newHook(t, s.Addr())
	s.Close()

	h.OnSysInfoTick(&system.Info{Version: "1.0.0"})
	_, err := h.StoredSysInfo()
	require.Error(t, err)
	_ = h.Stop()
}

func TestNoDB(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	h.OnSysInfoTick(new(system.Info))
	_, err := h.StoredSysInfo()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)
	require.NoError(t, h.Stop())
}

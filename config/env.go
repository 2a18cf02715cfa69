// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mochi-mqtt/natsd/listeners"
)

// defaultEnvFile is loaded into the environment if it exists.
const defaultEnvFile = ".env"

// Env contains the settings which can be provided by environment variables.
// Listeners with an empty address are not started.
type Env struct {
	ConfigFile      string `env:"NATSD_CONFIG"`
	Host            string `env:"NATSD_HOST"`
	TCPAddress      string `env:"NATSD_TCP_ADDRESS" envDefault:":4222"`
	WSAddress       string `env:"NATSD_WS_ADDRESS"`
	UnixPath        string `env:"NATSD_UNIX_PATH"`
	HealthCheckAddr string `env:"NATSD_HEALTHCHECK_ADDRESS"`
	SysInfoAddress  string `env:"NATSD_SYSINFO_ADDRESS"`
	LogLevel        string `env:"NATSD_LOG_LEVEL" envDefault:"INFO"`
}

// FromEnv loads any .env files into the environment and parses the settings
// from it. If no files are named, .env in the working directory is used.
// Missing files are ignored; variables already set are not overridden.
func FromEnv(files ...string) (*Env, error) {
	if len(files) == 0 {
		files = []string{defaultEnvFile}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	e := new(Env)
	if err := env.Parse(e); err != nil {
		return nil, err
	}

	return e, nil
}

// Listeners returns a listener config for each address which was set.
func (e *Env) Listeners() []listeners.Config {
	var lc []listeners.Config
	if e.TCPAddress != "" {
		lc = append(lc, listeners.Config{Type: listeners.TypeTCP, ID: "tcp", Address: e.TCPAddress})
	}

	if e.WSAddress != "" {
		lc = append(lc, listeners.Config{Type: listeners.TypeWS, ID: "ws", Address: e.WSAddress})
	}

	if e.UnixPath != "" {
		lc = append(lc, listeners.Config{Type: listeners.TypeUnix, ID: "unix", Address: e.UnixPath})
	}

	if e.HealthCheckAddr != "" {
		lc = append(lc, listeners.Config{Type: listeners.TypeHealthCheck, ID: "healthcheck", Address: e.HealthCheckAddr})
	}

	if e.SysInfoAddress != "" {
		lc = append(lc, listeners.Config{Type: listeners.TypeSysInfo, ID: "sysinfo", Address: e.SysInfoAddress})
	}

	return lc
}

// Level returns the configured log level, or info if it cannot be parsed.
func (e *Env) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

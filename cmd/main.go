// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mochi-mqtt/natsd"
	"github.com/mochi-mqtt/natsd/config"
)

func main() {
	configFile := flag.String("config", "", "path to a yaml or json config file; overrides NATSD_CONFIG")
	envFile := flag.String("env", ".env", "path to a .env file to load into the environment")
	flag.Parse()

	env, err := config.FromEnv(*envFile)
	if err != nil {
		slog.Default().Error("failed to read environment", "error", err)
		os.Exit(1)
	}

	if *configFile != "" {
		env.ConfigFile = *configFile
	}

	level := new(slog.LevelVar)
	level.Set(env.Level())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	opts := new(natsd.Options)
	if env.ConfigFile != "" {
		o, err := config.FromFile(env.ConfigFile)
		if err != nil {
			logger.Error("failed to read config file", "path", env.ConfigFile, "error", err)
			os.Exit(1)
		}
		if o != nil {
			opts = o
		}
	}

	if len(opts.Listeners) == 0 {
		opts.Listeners = env.Listeners()
	}

	if opts.Host == "" {
		opts.Host = env.Host
	}

	opts.Logger = logger

	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	server := natsd.New(opts)
	go func() {
		err := server.Serve()
		if err != nil {
			server.Log.Error("failed to serve", "error", err)
			done <- true
		}
	}()

	<-done
	server.Log.Warn("caught signal, stopping...")
	_ = server.Close()
	server.Log.Info("main.go finished")
}

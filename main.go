// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

/*
Casebook serves weekly moral dilemmas, reflection discussions and
reading tips as a JSON API with an embedded single-page front end.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"codeberg.org/casebook/casebook/config"
	"codeberg.org/casebook/casebook/core/audit"
	"codeberg.org/casebook/casebook/core/captcha"
	"codeberg.org/casebook/casebook/core/wordpool"
	"codeberg.org/casebook/casebook/database"
	"codeberg.org/casebook/casebook/server/middleware/limiter"
	"codeberg.org/casebook/casebook/server/router"
	"codeberg.org/casebook/casebook/server/routes"
	"codeberg.org/casebook/casebook/server/security"
	"codeberg.org/casebook/casebook/server/session"
)

const (
	// Values for http.Server timeouts.
	// ref: gosec: G112
	readHeaderTimeout time.Duration = 15 * time.Second
	readTimeout       time.Duration = 15 * time.Second
	writeTimeout      time.Duration = 10 * time.Second
	idleTimeout       time.Duration = 30 * time.Second

	serverShutdownDeadline time.Duration = 5 * time.Second
)

var errChmodSocket = errors.New("failed to change unix socket permissions")

// main is the entry point of the application.
func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Application failed")
	}
}

// run orchestrates the application startup and graceful shutdown.
func run() error {
	audit.SetDefaultLogger()

	if err := config.Global.LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.Open(context.Background(), config.Global.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pools, err := wordpool.Load(config.Global.Captcha.DataFile)
	if err != nil {
		return fmt.Errorf("failed to load captcha word pools: %w", err)
	}

	engine, err := captcha.New(pools, captcha.Config{
		Normals:      config.Global.Captcha.Normals,
		Oddballs:     config.Global.Captcha.Oddballs,
		AnswerWindow: config.Global.Captcha.AnswerWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to build captcha engine: %w", err)
	}

	sessions := session.NewManager(db, config.Global.Session.CookieName, config.Global.Session.Lifetime)

	guard := security.NewGuard(
		sessions,
		engine,
		config.Global.Session.HumanLag,
		config.Global.Captcha.QuarantineWindow,
		config.Global.Captcha.ReplyThrottle,
	)

	api := routes.NewAPI(db, guard, config.Global.Media.Directory)

	router := router.NewRouter()
	router.DefineRoutes(api)
	router.RegisterMiddleware()

	// Create http.Server instance
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		listener, err := chooseListener()
		if err != nil {
			return fmt.Errorf("failed to create listener: %w", err)
		}

		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	// Periodically drop expired session rows.
	group.Go(func() error {
		ticker := time.NewTicker(config.Global.Session.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if err := sessions.Prune(groupCtx); err != nil {
					log.Warn().Err(err).Msg("Session prune failed")
				}
			}
		}
	})

	// Shut the server down once a signal arrives or the server errors out.
	group.Go(func() error {
		<-groupCtx.Done()

		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), serverShutdownDeadline)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	if config.Global.Limiter.Enabled {
		limiter.Fini()
	}

	log.Info().Msg("Server exited gracefully")

	return nil
}

func chooseListener() (net.Listener, error) {
	// Check if we should use a Unix domain socket
	if config.Global.Basic.UnixSocket != "" {
		unixAddr := config.Global.Basic.UnixSocket

		unixListener, err := (&net.ListenConfig{}).Listen(context.Background(), "unix", unixAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to start Unix socket listener on %v: %w", unixAddr, err)
		}

		if err := os.Chmod(unixAddr, config.Global.Basic.UnixSocketPermissions); err != nil {
			_ = unixListener.Close()

			return nil, fmt.Errorf("%w: %w", errChmodSocket, err)
		}

		// Assign the listener and log where we are listening
		log.Info().
			Str("address", unixAddr).
			Msg("Listening on Unix domain socket")

		return unixListener, nil
	}

	// Otherwise, fall back to TCP listener
	addr := net.JoinHostPort(config.Global.Basic.Host, config.Global.Basic.Port)

	tcpListener, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP listener on %v: %w", addr, err)
	}

	addr = tcpListener.Addr().String()

	// Extract the port for logging
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		_ = tcpListener.Close()

		return nil, fmt.Errorf("failed to parse listener address %q: %w", addr, err)
	}

	// Log the address and convenient URL for local development
	log.Info().
		Str("address", addr).
		Str("port", port).
		Str("url", fmt.Sprintf("http://localhost:%v/", port)).
		Msg("Listening on address")

	return tcpListener, nil
}

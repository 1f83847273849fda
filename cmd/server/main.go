package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/server"
)

func main() {
	// Parse flags (override environment)
	configFile := flag.String("config", "", "YAML or TOML config file (overrides CONFIG_FILE)")
	port := flag.String("port", "", "Server port (overrides PORT)")
	host := flag.String("host", "", "Listen host (overrides HOST)")
	accountMode := flag.String("account-mode", "", "Account provisioning: host or memory (overrides ACCOUNT_MODE)")
	shell := flag.String("shell", "", "Login shell (overrides TERMINAL_SHELL)")
	dev := flag.Bool("dev", false, "Development mode (colored debug logs)")
	issueSubject := flag.String("issue-token", "", "Print a signed handshake token for this user id and exit")
	tokenTTL := flag.Duration("token-ttl", time.Hour, "Lifetime of a token printed by -issue-token")
	flag.Parse()

	path := *configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.LoadFrom(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *accountMode != "" {
		cfg.Account.Mode = *accountMode
	}
	if *shell != "" {
		cfg.Terminal.Shell = *shell
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if *issueSubject != "" {
		if err := issueToken(os.Stdout, cfg.Auth, *issueSubject, *tokenTTL); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	// SIGHUP re-reads the config and applies its log level
	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, syscall.SIGHUP)

wait:
	for {
		select {
		case <-hupChan:
			reloaded, err := config.LoadFrom(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Reload config: %v\n", err)
				continue
			}
			if err := srv.SetLogLevel(reloaded.Logging.Level); err != nil {
				fmt.Fprintf(os.Stderr, "Reload config: %v\n", err)
			}
		case <-sigChan:
			break wait
		case err := <-errChan:
			if err != nil {
				fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			}
			break wait
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		os.Exit(1)
	}
}

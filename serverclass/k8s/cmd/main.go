// Package main provides the fixture-runner CLI: it
// launches a single server fixture pod in the current
// cluster, prints a RUNNING line with the pod IP, keeps
// the fixture alive until stdin closes or a signal
// arrives, then tears the pod down. Test harnesses in
// other languages drive it through this pipe protocol.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/byte4ever/server_fixtures/config"
	"github.com/byte4ever/server_fixtures/logtail"
	"github.com/byte4ever/server_fixtures/serverclass"
	"github.com/byte4ever/server_fixtures/serverclass/k8s"
)

// kvFlag implements flag.Value for repeated key=value
// flags.
type kvFlag struct {
	values map[string]string
}

func (f *kvFlag) String() string {
	return fmt.Sprintf("%v", f.values)
}

func (f *kvFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)

	const expectedParts = 2
	if len(parts) != expectedParts {
		return fmt.Errorf(
			"incorrect value %q: must be key=value",
			value,
		)
	}

	f.values[parts[0]] = parts[1]

	return nil
}

// cliConfig holds all CLI parameters for the runner.
type cliConfig struct {
	serverType string
	image      string
	labels     map[string]string
	env        map[string]string
	tailLogs   bool
	cleanup    bool
	timeout    time.Duration
	command    []string
}

func parseConfig() (*cliConfig, error) {
	const errCtx = "parse config"

	var (
		labelFlag = kvFlag{
			values: make(map[string]string),
		}
		envFlag = kvFlag{
			values: make(map[string]string),
		}
		serverType string
		image      string
		tailLogs   bool
		cleanup    bool
		timeout    time.Duration
	)

	flag.StringVar(
		&serverType,
		"type", "",
		"workload type tag, e.g. redis",
	)
	flag.StringVar(
		&image,
		"image", "",
		"container image reference",
	)
	flag.Var(
		&labelFlag,
		"label",
		"pod label in form key=value",
	)
	flag.Var(
		&envFlag,
		"env",
		"container env var in form key=value",
	)
	flag.BoolVar(
		&tailLogs,
		"tail", false,
		"tail fixture container logs to stderr",
	)
	flag.BoolVar(
		&cleanup,
		"cleanup", false,
		"delete leaked session pods and exit",
	)
	flag.DurationVar(
		&timeout,
		"timeout", 10*time.Minute,
		"execution timeout",
	)

	flag.Parse()

	if !cleanup {
		if serverType == "" {
			return nil, fmt.Errorf(
				"%s: -type is required", errCtx,
			)
		}

		if image == "" {
			return nil, fmt.Errorf(
				"%s: -image is required", errCtx,
			)
		}

		if flag.NArg() == 0 {
			return nil, fmt.Errorf(
				"%s: workload command is required",
				errCtx,
			)
		}
	}

	return &cliConfig{
		serverType: serverType,
		image:      image,
		labels:     labelFlag.values,
		env:        envFlag.values,
		tailLogs:   tailLogs,
		cleanup:    cleanup,
		timeout:    timeout,
		command:    flag.Args(),
	}, nil
}

func run() error {
	const errCtx = "fixture runner"

	cli, err := parseConfig()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	client, err := k8s.NewClient()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), cli.timeout,
	)
	defer cancel()

	if cli.cleanup {
		return k8s.Cleanup(
			ctx, client, cfg.Namespace, cfg.SessionID,
		)
	}

	srv, err := k8s.New(cfg, client, k8s.Options{
		ServerType: cli.serverType,
		GetCmd: func() []string {
			return cli.command
		},
		Env:    cli.env,
		Image:  cli.image,
		Labels: cli.labels,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	// Cancel context on signal.
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Cancel context when stdin closes: the harness on
	// the other side of the pipe is done testing.
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			_, _, readErr := reader.ReadRune()
			if readErr != nil && readErr == io.EOF {
				cancel()

				return
			}
		}
	}()

	// Registered before Launch so a pod whose launch wait
	// exhausted its retries still gets deleted. Runs with
	// a fresh context so a timeout or signal that
	// interrupted the wait does not also prevent the pod
	// delete. When the pod was never created the absence
	// poll succeeds on its first attempt.
	defer func() {
		teardownCtx, teardownCancel := context.WithTimeout(
			context.Background(), 5*time.Minute,
		)
		defer teardownCancel()

		if err := srv.Teardown(teardownCtx); err != nil {
			slog.Error(
				"teardown failed",
				"pod", srv.Name,
				"error", err,
			)
		}
	}()

	if err := srv.Launch(ctx); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if cli.tailLogs {
		tail := logtail.NewTail(
			srv.Namespace(),
			srv.Name,
			k8s.ContainerName,
			os.Stderr,
		)
		tail.Start(
			ctx,
			client.CoreV1().Pods(srv.Namespace()),
		)
	}

	hostname, err := srv.Hostname(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	//nolint:forbidigo // protocol output
	fmt.Printf("RUNNING %s\n", hostname)

	<-ctx.Done()

	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())

		if errors.Is(err, serverclass.ErrNotInCluster) {
			os.Exit(2)
		}

		os.Exit(1)
	}
}

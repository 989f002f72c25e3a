package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nullspace-labs/lobby-relay/operator"
	"github.com/nullspace-labs/lobby-relay/server"
)

var (
	// default build fields populated by GoReleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	cfgFile := flag.String("config", "settings.env", "Path to config file")
	showHelp := flag.Bool("help", false, "Display help")
	showVersion := flag.Bool("version", false, "Display build information")

	flag.Parse()

	switch {
	case *showVersion:
		fmt.Printf("%-10s %s\n", "version:", version)
		fmt.Printf("%-10s %s\n", "commit:", commit)
		fmt.Printf("%-10s %s\n", "date:", date)
		os.Exit(0)
	case *showHelp:
		flag.PrintDefaults()
		os.Exit(0)
	}

	// optionally populate environment variables with config file
	if err := godotenv.Load(*cfgFile); err != nil {
		fmt.Printf("Config file (%s) not found, defaulting to env vars for app config...\n", *cfgFile)
	} else {
		fmt.Printf("Successfully loaded config file (%s)\n", *cfgFile)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := MakeCommonDeps()
	if err != nil {
		fmt.Printf("startup failed: %s\n", err)
		os.Exit(1)
	}

	sock := Socket(deps)
	consoleReqs := make(chan server.ConsoleRequest)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sock.ListenAndServe(ctx, consoleReqs) })
	if deps.cfg.OperatorSocket != "" {
		g.Go(func() error { return runConsoleUnixSocket(ctx, deps.cfg.OperatorSocket, consoleReqs) })
	} else {
		g.Go(func() error { return runConsoleLines(ctx, os.Stdin, os.Stdout, consoleReqs) })
	}

	if err := g.Wait(); err != nil {
		deps.logger.Error("server initialization failed", "err", err.Error())
		os.Exit(1)
	}
}

// runConsoleLines reads operator command lines from r and submits each as a
// ConsoleRequest, writing the command's output back to w once the event
// loop has processed it (§5, §6).
func runConsoleLines(ctx context.Context, r io.Reader, w io.Writer, reqs chan<- server.ConsoleRequest) error {
	scanner := bufio.NewScanner(r)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			reply := make(chan operator.Result, 1)
			select {
			case reqs <- server.ConsoleRequest{Line: line, Reply: reply}:
			case <-ctx.Done():
				return nil
			}
			select {
			case res := <-reply:
				fmt.Fprintln(w, res.Output)
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// runConsoleUnixSocket accepts operator console connections on a unix
// socket instead of stdin, so the console can be driven remotely (e.g. over
// ssh or a local `nc -U`) without attaching to the process's own terminal.
// Each connection is handled with the same line-in/line-out protocol as the
// stdin frontend (§6).
func runConsoleUnixSocket(ctx context.Context, path string, reqs chan<- server.ConsoleRequest) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen operator socket %s: %w", path, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept operator connection: %w", err)
		}
		go func() {
			defer conn.Close()
			_ = runConsoleLines(ctx, conn, conn, reqs)
		}()
	}
}

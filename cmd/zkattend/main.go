package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siwa2904/zkattend"
	"github.com/siwa2904/zkattend/internal/config"
	"github.com/siwa2904/zkattend/internal/httpapi"
	"github.com/siwa2904/zkattend/internal/store"
	"github.com/siwa2904/zkattend/scanner"
)

const usage = `usage: zkattend <command> [flags]

commands:
  scan               sweep the local /24 for attendance terminals
  users  -host IP    list users enrolled on a device
  fetch  -host IP    pull the attendance log of a device
  serve              run the HTTP API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := zkattend.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zkattend.Log = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "scan":
		err = runScan(ctx, cfg, args)
	case "users":
		err = runUsers(ctx, cfg, args)
	case "fetch":
		err = runFetch(ctx, cfg, args)
	case "serve":
		err = runServe(ctx, cfg, args)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Errorf("%s: %v", cmd, err)
		stop()
		logger.Sync()
		os.Exit(1)
	}
}

func newScanner(cfg *config.Config) *scanner.Scanner {
	s := scanner.New()
	s.Concurrency = cfg.ScanConcurrency
	s.PrimaryTimeout = cfg.ScanPrimaryTimeout
	s.AuxTimeout = cfg.ScanAuxTimeout
	s.IdentifyTimeout = cfg.ScanIdentifyTimeout
	s.Log = zkattend.Log
	return s
}

func newClient(cfg *config.Config, host string, port int) *zkattend.Client {
	return zkattend.NewClient(host,
		zkattend.WithPort(port),
		zkattend.WithTimeout(cfg.Timeout),
		zkattend.WithTimezone(cfg.Timezone),
		zkattend.WithLogger(zkattend.Log),
	)
}

func runScan(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	format := fs.String("format", "table", "output format: json, yaml or table")
	save := fs.Bool("save", false, "store the result in the database")
	fs.Parse(args)

	res, err := newScanner(cfg).Scan(ctx)
	if err != nil {
		return err
	}

	if *save {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		if err := st.SaveScan(ctx, res); err != nil {
			return fmt.Errorf("save scan: %w", err)
		}
		zkattend.Log.Infof("[%s] saved to %s", res.ID, cfg.DBPath)
	}
	return render(os.Stdout, *format, res)
}

func deviceFlags(name string, cfg *config.Config) (*flag.FlagSet, *string, *int, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	host := fs.String("host", "", "device IPv4 address")
	port := fs.Int("port", cfg.DevicePort, "device port")
	format := fs.String("format", "table", "output format: json, yaml or table")
	return fs, host, port, format
}

func runUsers(ctx context.Context, cfg *config.Config, args []string) error {
	fs, host, port, format := deviceFlags("users", cfg)
	fs.Parse(args)
	if *host == "" {
		return errors.New("-host is required")
	}

	c := newClient(cfg, *host, *port)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	users, err := c.ListUsers(ctx)
	if err != nil {
		return err
	}
	return render(os.Stdout, *format, users)
}

func runFetch(ctx context.Context, cfg *config.Config, args []string) error {
	fs, host, port, format := deviceFlags("fetch", cfg)
	save := fs.Bool("save", false, "store the records in the database")
	fs.Parse(args)
	if *host == "" {
		return errors.New("-host is required")
	}

	records, err := newClient(cfg, *host, *port).FetchAttendance(ctx)
	if err != nil {
		return err
	}

	if *save {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		n, err := st.SaveAttendance(ctx, *host, records)
		if err != nil {
			return fmt.Errorf("save attendance: %w", err)
		}
		zkattend.Log.Infof("[%s] stored %d new of %d records", *host, n, len(records))
	}
	return render(os.Stdout, *format, records)
}

func runServe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.HTTPAddr, "listen address")
	fs.Parse(args)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	router := httpapi.NewRouter(&httpapi.Server{
		Scanner:   newScanner(cfg),
		NewDevice: httpapi.ClientFactory(cfg.Timeout, cfg.Timezone, zkattend.Log),
		Store:     st,
		Location:  zkattend.LoadLocation(cfg.Timezone),
		Log:       zkattend.Log,
	})

	// scans and device pulls can take well over a typical write timeout
	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Timeout + time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zkattend.Log.Infof("Server starting on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zkattend.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	zkattend.Log.Info("Server exited")
	return nil
}

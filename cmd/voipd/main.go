// Command voipd is the daemon entry point (spec §6 "CLI surface"):
// --help prints usage, --port=<n> overrides the SIP listener port, and
// absent arguments boot the daemon. Exit code 0 on normal exit, -1 on
// initialization failure or PID conflict.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/voiplink/core/internal/pidfile"
	"github.com/voiplink/core/internal/voiplog"
	"github.com/voiplink/core/pkg/manager"
	"github.com/voiplink/core/pkg/runtime"
)

const defaultSIPPort = 5060

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("voipd", flag.ContinueOnError)
	port := fs.Int("port", defaultSIPPort, "override the SIP listener port")
	listenAddr := fs.String("listen", "0.0.0.0", "SIP listener bind address")
	pidPath := fs.String("pidfile", defaultPidPath(), "path to the double-instance guard PID file")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return -1
	}

	logger := voiplog.Default().WithComponent("voipd")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	release, err := pidfile.Acquire(*pidPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voipd: %v\n", err)
		return -1
	}
	defer release()

	rt, err := runtime.New(runtime.Config{
		UserAgent:     "voiplink/1.0",
		ListenNetwork: "udp",
		ListenAddr:    fmt.Sprintf("%s:%d", *listenAddr, *port),
		Capabilities:  manager.DefaultCapabilities(),
	}, runtime.Handlers{}, logger)
	if err != nil {
		logger.Error(ctx, "initialization failed", err)
		return -1
	}
	defer rt.Close()

	logger.Info(ctx, "voipd listening", voiplog.F("addr", *listenAddr), voiplog.F("port", *port))
	<-ctx.Done()
	logger.Info(ctx, "voipd shutting down")
	return 0
}

func defaultPidPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "voipd.pid")
}

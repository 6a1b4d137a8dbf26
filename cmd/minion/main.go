// Command minion runs one worker process: it asks the master for tasks,
// executes them, reports outcomes, and runs a WatchDog loop alongside to
// throttle itself under host load or network pressure (§4.5, §4.6).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"shuttle/internal/config"
	"shuttle/internal/logging"
	"shuttle/internal/minion"
	"shuttle/internal/watchdog"
)

func main() {
	fs := pflag.NewFlagSet("minion", pflag.ExitOnError)
	cfg := config.RegisterWorkerFlags(fs)
	logDir := fs.String("log_dir", "./logs", "directory for rotated minion logs")
	listenAddr := fs.String("listen_addr", "127.0.0.1:9918", "address this minion listens on for Query/CancelTask")
	masterSockHint := fs.String("master_endpoint", "/tmp/shuttle-master.sock", "master control-socket path, used when nexus_addr is unset")
	nic := fs.String("nic", "eth0", "network interface the WatchDog samples for throughput")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	cfg.Finalize()

	logger, err := logging.New("minion", *logDir)
	if err != nil {
		panic(err)
	}
	entry := logging.Entry(logger, logrus.Fields{"component": "minion"})

	naming := staticNaming{endpoint: cfg.NexusAddr}
	masterSock := *masterSockHint
	if resolved, err := naming.Get(context.Background(), cfg.MasterNexusPath); err == nil && resolved != "" {
		masterSock = resolved
	}

	mn := minion.New(cfg, *listenAddr, masterSock, passthroughExecutor{}, entry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wd := watchdog.New(
		watchdog.NewProcSampler(),
		watchdog.NewSignalController(),
		mn,
		*nic,
		cfg.FlowLimit10Gb,
		cfg.FlowLimit1Gb,
		entry.WithField("subcomponent", "watchdog"),
	)
	go wd.Run(ctx)

	go func() {
		if err := mn.Serve(*listenAddr); err != nil {
			entry.Fatalf("minion RPC server exited: %v", err)
		}
	}()

	if err := mn.Run(ctx); err != nil && ctx.Err() == nil {
		entry.Fatalf("worker loop exited: %v", err)
	}
}

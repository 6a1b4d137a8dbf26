// Command jobmaster runs the MasterService dispatcher: it accepts minion
// RPCs, owns every running JobTracker, and sweeps retired job state on
// gc_interval/backup_interval (§2, §6).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"shuttle/internal/collab"
	"shuttle/internal/config"
	"shuttle/internal/logging"
	"shuttle/internal/master"
)

func main() {
	fs := pflag.NewFlagSet("jobmaster", pflag.ExitOnError)
	runtime := config.RegisterJobRuntimeFlags(fs)
	logDir := fs.String("log_dir", "./logs", "directory for rotated jobmaster logs")
	checkpointDir := fs.String("checkpoint_dir", "./checkpoints", "directory for job checkpoint files")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	runtime.Finalize()

	logger, err := logging.New("jobmaster", *logDir)
	if err != nil {
		panic(err)
	}
	entry := logging.Entry(logger, logrus.Fields{"component": "jobmaster"})

	checkpointer, err := newFileCheckpointer(*checkpointDir)
	if err != nil {
		entry.Fatalf("initializing checkpoint store: %v", err)
	}

	sortFile := func() collab.SortFileWriter { return newLocalSortFile() }
	svc := master.New(runtime, &noopCluster{}, localFS{}, sortFile, master.NewRPCWorkerClient(), checkpointer, entry)

	svc.StartHousekeeping(runtime.GCInterval, runtime.BackupInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		entry.Info("shutting down")
		svc.StopHousekeeping()
		os.Exit(0)
	}()

	sockPath := runtime.MasterPath
	if sockPath == "" {
		sockPath = "/tmp/shuttle-master.sock"
	}
	if err := svc.Serve(sockPath); err != nil {
		entry.Fatalf("master RPC server exited: %v", err)
	}
}

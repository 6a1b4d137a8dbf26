// Package config turns the DEFINE_*-flag surface of the original
// implementation into explicit Go structs built once at process startup
// (§9 "global flags -> config struct"). No package-level mutable flag state
// is read after main() parses its arguments; everything downstream takes a
// *JobRuntimeConfig or *WorkerConfig pointer.
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// JobType distinguishes a map-only job from a full map-reduce job.
type JobType int

const (
	MapReduceJob JobType = iota
	MapOnlyJob
)

// JobDescriptor is the immutable configuration of a single job (§3).
type JobDescriptor struct {
	Name    string
	JobType JobType
	Output  string

	MapTotal    int
	ReduceTotal int

	MapCapacity    int
	ReduceCapacity int

	MapRetry    int
	ReduceRetry int

	IgnoreMapFailures    int
	IgnoreReduceFailures int

	MapAllowDuplicates    bool
	ReduceAllowDuplicates bool

	Priority string

	// InputBlockSize splits map input into chunks no larger than this many
	// bytes; NLine jobs ignore it and split by line count instead.
	InputBlockSize int64
	NLine          bool
	LinesPerSplit  int64

	RetryBound        int
	MaxCountersPerJob int
}

// JobRuntimeConfig is the process-wide tuning the master applies to every
// job it runs; it is distinct from the per-job JobDescriptor (§6).
type JobRuntimeConfig struct {
	GalaxyDeployStep int
	ParallelAttempts int

	ReplicaBegin        int
	ReplicaBeginPercent int
	ReplicaNum          int
	LeftPercent         int

	FirstSleepTime time.Duration
	TimeTolerance  time.Duration

	GCInterval     time.Duration
	BackupInterval time.Duration

	RetryBound        int
	MaxCountersPerJob int

	MasterPort     string
	NexusServer    string
	NexusRootPath  string
	MasterLockPath string
	MasterPath     string
	GalaxyAddress  string
	MinionPath     string
	Recovery       bool

	finalize func()
}

// RegisterJobRuntimeFlags binds §6's recognized master-side keys onto fs
// and returns the struct those flags populate once fs.Parse has run.
func RegisterJobRuntimeFlags(fs *pflag.FlagSet) *JobRuntimeConfig {
	c := &JobRuntimeConfig{}
	fs.IntVar(&c.GalaxyDeployStep, "galaxy_deploy_step", 30,
		"galaxy option to determine the step of deploy")
	fs.IntVar(&c.ParallelAttempts, "parallel_attempts", 5,
		"max running replicas of a certain task")
	fs.IntVar(&c.ReplicaBegin, "replica_begin", 100,
		"the last N tasks suitable for end-game replication")
	fs.IntVar(&c.ReplicaBeginPercent, "replica_begin_percent", 10,
		"the last percentage of tasks suitable for end-game replication")
	fs.IntVar(&c.ReplicaNum, "replica_num", 3,
		"max replicas of a single task during end game")
	fs.IntVar(&c.LeftPercent, "left_percent", 120,
		"percentage of minions to keep once a phase is dismissing workers")
	sleep := fs.Int("first_sleeptime", 10,
		"seconds the monitor waits before its first wake when no attempt has completed yet")
	tolerance := fs.Int("time_tolerance", 120,
		"longest interval in seconds between monitor wakes")
	gc := fs.Int("gc_interval", 600,
		"seconds between sweeps that release terminated job state")
	backupMs := fs.Int("backup_interval", 5000,
		"milliseconds between job-state checkpoint writes")
	fs.IntVar(&c.RetryBound, "retry_bound", 3,
		"default per-item retry budget when a job omits map_retry/reduce_retry")
	fs.IntVar(&c.MaxCountersPerJob, "max_counters_per_job", 1000,
		"cap on distinct counter names accumulated per job")
	fs.StringVar(&c.MasterPort, "master_port", "9917", "master listen port")
	fs.StringVar(&c.NexusServer, "nexus_server_list", "", "server list for the naming/lock service")
	fs.StringVar(&c.NexusRootPath, "nexus_root_path", "/shuttle/", "root path in the naming/lock service")
	fs.StringVar(&c.MasterLockPath, "master_lock_path", "master_lock", "key the master locks to become leader")
	fs.StringVar(&c.MasterPath, "master_path", "master", "key minions read to discover the master")
	fs.StringVar(&c.GalaxyAddress, "galaxy_address", "0.0.0.0:", "cluster backend address")
	fs.StringVar(&c.MinionPath, "minion_path", "ftp://", "fetch path for the minion binary")
	fs.BoolVar(&c.Recovery, "recovery", false, "start in recovery mode and replay persisted job state")

	// These three are seconds/milliseconds on the command line but time.Duration
	// everywhere else; finalize() converts after fs.Parse.
	c.finalize = func() {
		c.FirstSleepTime = time.Duration(*sleep) * time.Second
		c.TimeTolerance = time.Duration(*tolerance) * time.Second
		c.GCInterval = time.Duration(*gc) * time.Second
		c.BackupInterval = time.Duration(*backupMs) * time.Millisecond
	}
	return c
}

// Finalize converts the raw integer flag values collected during Parse into
// their typed time.Duration fields. Call it once after fs.Parse returns.
func (c *JobRuntimeConfig) Finalize() {
	if c.finalize != nil {
		c.finalize()
	}
}

// WorkerConfig is a Minion's process-wide configuration (§6).
type WorkerConfig struct {
	NexusAddr      string
	MasterNexusPath string
	WorkMode       string
	JobID          string
	KillTask       bool
	SuspendTime    time.Duration
	FlowLimit10Gb  int64
	FlowLimit1Gb   int64
	CheckCounters  bool

	finalize func()
}

// RegisterWorkerFlags binds §6's worker-side keys onto fs.
func RegisterWorkerFlags(fs *pflag.FlagSet) *WorkerConfig {
	c := &WorkerConfig{}
	fs.StringVar(&c.NexusAddr, "nexus_addr", "", "naming/lock service address")
	fs.StringVar(&c.MasterNexusPath, "master_nexus_path", "/shuttle/master", "naming service key for the master endpoint")
	fs.StringVar(&c.WorkMode, "work_mode", "map", "map | reduce | map-only")
	fs.StringVar(&c.JobID, "jobid", "", "job id this minion serves")
	fs.BoolVar(&c.KillTask, "kill_task", false, "report the currently running task as killed and exit")
	suspend := fs.Int("suspend_time", 50, "max seconds of randomized backoff between retries")
	fs.Int64Var(&c.FlowLimit10Gb, "flow_limit_10gb", 1100*1024*1024, "bytes/sec NIC threshold on a 10GbE interface")
	fs.Int64Var(&c.FlowLimit1Gb, "flow_limit_1gb", 110*1024*1024, "bytes/sec NIC threshold on a 1GbE interface")
	fs.BoolVar(&c.CheckCounters, "check_counters", true, "parse counters from executor output on completion")
	c.finalize = func() {
		c.SuspendTime = time.Duration(*suspend) * time.Second
	}
	return c
}

// Finalize converts raw flag values collected during Parse into their typed
// fields. Call it once after fs.Parse returns.
func (c *WorkerConfig) Finalize() {
	if c.finalize != nil {
		c.finalize()
	}
}

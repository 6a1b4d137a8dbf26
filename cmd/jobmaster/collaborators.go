package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"shuttle/internal/collab"
)

// The collaborators below are local-disk stand-ins for the out-of-scope
// external systems spec §6 names (cluster backend, filesystem, naming
// service, checkpoint store, sort-file writer). internal/collab defines
// only the interfaces a JobTracker/Minion is written against; these
// implementations exist solely so `jobmaster` runs standalone on one
// machine without a real galaxy/nexus deployment behind it.

type localFS struct{}

func (localFS) Exist(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "stat %s", path)
}

func (localFS) Remove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return errors.Wrapf(err, "removing %s", path)
	}
	return nil
}

type localSortFile struct {
	f *os.File
}

func newLocalSortFile() *localSortFile { return &localSortFile{} }

func (w *localSortFile) Open(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	w.f = f
	return nil
}

func (w *localSortFile) Close() error {
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}

// noopCluster "submits" a worker group by doing nothing beyond handing
// back a synthetic handle: this binary doesn't launch a real container
// fleet, it only exercises JobTracker/MasterService's control-plane logic.
type noopCluster struct{ seq int }

func (c *noopCluster) Submit(spec collab.WorkerGroupSpec) (string, error) {
	c.seq++
	return fmt.Sprintf("%s-handle-%d", spec.JobID, c.seq), nil
}

func (c *noopCluster) Update(handle string, priority collab.JobPriority, capacity int) error {
	return nil
}

func (c *noopCluster) Destroy(handle string) error { return nil }

// fileCheckpointer persists one JSON file per job under dir.
type fileCheckpointer struct{ dir string }

func newFileCheckpointer(dir string) (*fileCheckpointer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating checkpoint dir %s", dir)
	}
	return &fileCheckpointer{dir: dir}, nil
}

func (c *fileCheckpointer) Save(record collab.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshaling job record")
	}
	path := filepath.Join(c.dir, record.JobID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing checkpoint %s", path)
	}
	return nil
}

func (c *fileCheckpointer) Delete(jobID string) error {
	err := os.Remove(filepath.Join(c.dir, jobID+".json"))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "deleting checkpoint for %s", jobID)
	}
	return nil
}

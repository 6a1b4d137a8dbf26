package main

import (
	"context"

	"github.com/pkg/errors"
)

// staticNaming is a local-disk stand-in for collab.NamingService: the
// nexus/ZooKeeper-style lookup spec §6 describes is out of scope here, so
// this binary is simply told the master's endpoint on the command line and
// hands it back verbatim for whatever path it's asked about.
type staticNaming struct {
	endpoint string
}

func (n staticNaming) Get(ctx context.Context, path string) (string, error) {
	if n.endpoint == "" {
		return "", errors.New("no master endpoint configured")
	}
	return n.endpoint, nil
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// FindPIDByName resolves spec.md §6's `--name` attach mode: the PID of
// the first process whose command name matches name exactly.
func FindPIDByName(procfsPath, name string) (int, error) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open procfs at %q: %w", procfsPath, err)
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	for _, p := range procs {
		comm, err := p.Comm()
		if err != nil {
			continue // process may have exited mid-scan
		}
		if comm == name {
			return p.PID, nil
		}
	}

	return 0, fmt.Errorf("no process named %q found", name)
}

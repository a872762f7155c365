// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package spawn

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// dockerCheckTimeout is the maximum time to wait for docker CLI commands.
const dockerCheckTimeout = 5 * time.Second

// DockerInstalled returns true if the docker CLI is on the PATH.
func DockerInstalled() bool {
	_, err := exec.LookPath("docker")
	return err == nil
}

// DockerAvailable returns true if the docker daemon is responding.
// Returns false quickly when the CLI is not installed at all.
func DockerAvailable() bool {
	if !DockerInstalled() {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), dockerCheckTimeout)
	defer cancel()

	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

// ContainerRunning returns true if the named container exists and is
// currently running. Containerized specs are checked before spawn so a
// stopped container fails fast instead of surfacing as docker exec
// noise in the terminal.
func ContainerRunning(name string) bool {
	if !DockerInstalled() {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), dockerCheckTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", name).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

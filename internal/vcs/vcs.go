// Package vcs determines who is running an operation and from which source
// revision, for the provenance fields of catalog records.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/edvin/statekeeper/internal/model"
)

const gitTimeout = 5 * time.Second

// Environment variables consulted before asking git, in priority order.
var (
	operatorVars = []string{"STATEKEEPER_OPERATOR", "GITHUB_ACTOR", "GITLAB_USER_LOGIN"}
	revisionVars = []string{"STATEKEEPER_REVISION", "GITHUB_SHA", "CI_COMMIT_SHA"}
	branchVars   = []string{"STATEKEEPER_BRANCH", "GITHUB_REF_NAME", "CI_COMMIT_REF_NAME"}
)

// Detector resolves provenance from the environment and the git checkout in dir.
type Detector struct {
	dir    string
	getenv func(string) string
	git    func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewDetector creates a Detector for the repository at dir ("" means the
// working directory).
func NewDetector(dir string) *Detector {
	return &Detector{dir: dir, getenv: os.Getenv, git: runGit}
}

// Provenance never fails; fields that cannot be determined are left empty.
func (d *Detector) Provenance(ctx context.Context) model.Provenance {
	p := model.Provenance{
		Operator: d.lookup(operatorVars),
		Revision: d.lookup(revisionVars),
		Branch:   d.lookup(branchVars),
	}
	if p.Operator == "" {
		p.Operator = localOperator()
	}
	if p.Revision == "" {
		p.Revision, _ = d.git(ctx, d.dir, "rev-parse", "--short=12", "HEAD")
	}
	if p.Branch == "" {
		if b, err := d.git(ctx, d.dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && b != "HEAD" {
			p.Branch = b
		}
	}
	return p
}

func (d *Detector) lookup(vars []string) string {
	for _, v := range vars {
		if s := strings.TrimSpace(d.getenv(v)); s != "" {
			return s
		}
	}
	return ""
}

func localOperator() string {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return name
	}
	if name == "" {
		return host
	}
	return name + "@" + host
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s: timeout after %s", args[0], gitTimeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

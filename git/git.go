// Package git wraps the git binary for the workspace operations the
// lifecycle gate performs: clone, pull, and HEAD probing. All inputs are
// passed as discrete argv elements, never through a shell, and callers are
// expected to have validated URLs and branch names first.
package git

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lattixhq/lattix"
)

// defaultTimeout bounds a single git operation. Clones of large
// repositories dominate; pulls and rev-parse are fast.
const defaultTimeout = 5 * time.Minute

// Client shells out to the git binary.
type Client struct {
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the git executable path (default "git").
func WithBinary(bin string) Option {
	return func(c *Client) { c.bin = bin }
}

// WithTimeout bounds each git operation (default 5m).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets a structured logger for command diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a git client.
func New(opts ...Option) *Client {
	c := &Client{bin: "git", timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Clone performs a shallow single-branch clone of url at branch into dir.
func (c *Client) Clone(ctx context.Context, url, branch, dir string) error {
	if err := lattix.ValidateRepoURL(url); err != nil {
		return err
	}
	if err := lattix.ValidateBranch(branch); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	_, err := c.run(ctx, "", "clone", "--depth", "1", "--single-branch", "--branch", branch, "--", url, dir)
	return err
}

// Pull fast-forwards the checkout in dir to the remote head of its branch.
func (c *Client) Pull(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "pull", "--ff-only")
	return err
}

// CurrentCommit returns the full HEAD sha of the checkout in dir.
func (c *Client) CurrentCommit(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	sha := strings.TrimSpace(out)
	if sha == "" {
		return "", fmt.Errorf("rev-parse returned no output in %s", dir)
	}
	return sha, nil
}

// ValidRepo reports whether dir is a usable git checkout.
func (c *Client) ValidRepo(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil || !info.IsDir() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := c.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// ExtractRepoName derives the workspace directory name from a repository
// URL: the last path segment with any ".git" suffix removed.
func (c *Client) ExtractRepoName(url string) string {
	u := lattix.NormalizeRepoURL(url)
	u = strings.TrimSuffix(u, "/")
	// git@host:owner/repo form
	if i := strings.LastIndexByte(u, ':'); i >= 0 && !strings.Contains(u[i:], "/") {
		u = u[i+1:]
	}
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		u = u[i+1:]
	}
	if i := strings.LastIndexByte(u, ':'); i >= 0 {
		u = u[i+1:]
	}
	return strings.TrimSuffix(u, ".git")
}

// run executes one git command with a bounded context, returning stdout.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("git", "args", strings.Join(args, " "), "dir", dir)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// compile-time check
var _ lattix.GitClient = (*Client)(nil)

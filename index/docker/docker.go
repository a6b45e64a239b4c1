// Package docker runs the code parser as a container against a cloned
// workspace. The parser image reads the checkout from a read-only bind
// mount and reports progress and entities as JSON lines on stdout; the
// runner streams them, updates job status, and writes entities through the
// graph store.
package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/lattixhq/lattix"
	"github.com/lattixhq/lattix/index"
)

const (
	defaultImage = "lattixhq/parser:latest"
	// sourceMount is where the checkout appears inside the parser.
	sourceMount = "/src"
	// entityBatch is how many parsed entities accumulate before a graph
	// store write.
	entityBatch = 200
)

// Runner implements lattix.Indexer by launching the parser image.
type Runner struct {
	client client.APIClient
	writer lattix.EntityWriter
	image  string
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithImage overrides the parser image (default lattixhq/parser:latest).
func WithImage(image string) Option {
	return func(r *Runner) { r.image = image }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner connected to the local docker daemon.
func New(writer lattix.EntityWriter, opts ...Option) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	r := &Runner{client: cli, writer: writer, image: defaultImage}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r, nil
}

// parserLine is one JSON line on the parser's stdout. Exactly one of the
// groups is set: a progress step, an entity, an edge, or the terminal
// summary.
type parserLine struct {
	Step    string `json:"step,omitempty"`
	Percent int    `json:"percent,omitempty"`

	Entity *lattix.CodeEntity `json:"entity,omitempty"`
	Edge   *lattix.EntityEdge `json:"edge,omitempty"`

	Done     bool     `json:"done,omitempty"`
	Success  bool     `json:"success,omitempty"`
	Language string   `json:"language,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// IndexAsync launches the parser container and returns immediately with a
// pollable job. The container is removed when the run ends.
func (r *Runner) IndexAsync(ctx context.Context, req lattix.IndexRequest) (lattix.IndexJob, error) {
	job := index.NewTracker()
	job.SetStep("Starting parser", 0)

	created, err := r.client.ContainerCreate(ctx,
		&container.Config{
			Image: r.image,
			Env: []string{
				"REPOSITORY_ID=" + req.RepositoryID,
				"REPOSITORY_URL=" + req.RepoURL,
				"BRANCH=" + req.Branch,
				"COMMIT=" + req.Commit,
				"SOURCE_DIR=" + sourceMount,
			},
		},
		&container.HostConfig{
			AutoRemove: false,
			Mounts: []mount.Mount{{
				Type:     mount.TypeBind,
				Source:   req.Workdir,
				Target:   sourceMount,
				ReadOnly: true,
			}},
		}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create parser container: %w", err)
	}

	go r.drive(context.WithoutCancel(ctx), created.ID, req, job)
	return job, nil
}

// drive runs the container to completion, streaming its output into the
// job tracker and the graph store. Runs detached from the caller's
// cancellation so a dropped client does not orphan a half-written index.
func (r *Runner) drive(ctx context.Context, containerID string, req lattix.IndexRequest, job *index.Tracker) {
	start := time.Now()
	fail := func(reason string) {
		r.logger.Warn("parser run failed", "repository", req.RepositoryID, "reason", reason)
		r.remove(ctx, containerID)
		job.Finish(lattix.IndexResult{
			RepositoryID:   req.RepositoryID,
			DurationMillis: time.Since(start).Milliseconds(),
			Errors:         []string{reason},
		})
	}

	logs, err := r.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		fail("attach: " + err.Error())
		return
	}
	defer logs.Close()

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		fail("start: " + err.Error())
		return
	}

	// Demultiplex the attached stream; stderr is logged, stdout parsed.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, &logWriter{r.logger}, logs.Reader)
		pw.CloseWithError(err)
	}()

	summary, entities, err := r.consume(ctx, pr, req, job)
	if err != nil {
		fail(err.Error())
		return
	}

	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		fail("wait: " + err.Error())
		return
	case st := <-statusCh:
		if st.StatusCode != 0 {
			fail(fmt.Sprintf("parser exited with status %d", st.StatusCode))
			return
		}
	}
	r.remove(ctx, containerID)

	if summary == nil || !summary.Success {
		reason := "parser reported failure"
		if summary != nil && len(summary.Errors) > 0 {
			reason = strings.Join(summary.Errors, "; ")
		}
		job.Finish(lattix.IndexResult{
			RepositoryID:   req.RepositoryID,
			DurationMillis: time.Since(start).Milliseconds(),
			Errors:         []string{reason},
		})
		return
	}

	job.Finish(lattix.IndexResult{
		Success:         true,
		RepositoryID:    req.RepositoryID,
		EntitiesCreated: entities,
		DurationMillis:  time.Since(start).Milliseconds(),
	})
}

// consume reads parser stdout line by line, batching entity writes and
// updating job progress. Returns the terminal summary line.
func (r *Runner) consume(ctx context.Context, stdout io.Reader, req lattix.IndexRequest, job *index.Tracker) (*parserLine, int, error) {
	var (
		summary  *parserLine
		batch    []lattix.CodeEntity
		edges    []lattix.EntityEdge
		entities int
	)
	flush := func() error {
		if len(batch) > 0 {
			if err := r.writer.PutEntities(ctx, batch); err != nil {
				return fmt.Errorf("write entities: %w", err)
			}
			entities += len(batch)
			batch = batch[:0]
		}
		if len(edges) > 0 {
			if err := r.writer.PutEdges(ctx, edges); err != nil {
				return fmt.Errorf("write edges: %w", err)
			}
			edges = edges[:0]
		}
		return nil
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line parserLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // parser chatter, not protocol
		}
		switch {
		case line.Done:
			l := line
			summary = &l
		case line.Entity != nil:
			e := *line.Entity
			e.RepositoryID = req.RepositoryID
			batch = append(batch, e)
			if len(batch) >= entityBatch {
				if err := flush(); err != nil {
					return nil, entities, err
				}
			}
		case line.Edge != nil:
			e := *line.Edge
			e.RepositoryID = req.RepositoryID
			edges = append(edges, e)
		case line.Step != "":
			job.SetStep(line.Step, line.Percent)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, entities, fmt.Errorf("read parser output: %w", err)
	}
	if err := flush(); err != nil {
		return nil, entities, err
	}
	return summary, entities, nil
}

func (r *Runner) remove(ctx context.Context, containerID string) {
	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		r.logger.Debug("container remove failed", "container", containerID, "error", err)
	}
}

// logWriter forwards parser stderr to the structured logger.
type logWriter struct{ logger *slog.Logger }

func (w *logWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Debug("parser", "stderr", msg)
	}
	return len(p), nil
}

// compile-time check
var _ lattix.Indexer = (*Runner)(nil)

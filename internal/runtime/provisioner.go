package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"golang.org/x/sync/singleflight"
)

// ErrProvisioning wraps pull failures after all attempts are exhausted.
var ErrProvisioning = errors.New("image provisioning failed")

// Provisioner makes container images locally available. Concurrent Ensure
// calls for the same reference are coalesced into a single pull.
type Provisioner struct {
	docker   DockerAPI
	attempts int
	backoff  time.Duration
	group    singleflight.Group
}

// ProvisionerOption adjusts optional Provisioner behavior.
type ProvisionerOption func(*Provisioner)

// WithPullBackoff overrides the initial delay between failed pull attempts.
func WithPullBackoff(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) { p.backoff = d }
}

// NewProvisioner creates a Provisioner that retries failed pulls up to
// attempts times with exponential backoff starting at one second.
func NewProvisioner(docker DockerAPI, attempts int, opts ...ProvisionerOption) *Provisioner {
	if attempts < 1 {
		attempts = 1
	}
	p := &Provisioner{
		docker:   docker,
		attempts: attempts,
		backoff:  time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure returns once the image is present locally, pulling it if needed.
// A locally present image is never re-pulled.
func (p *Provisioner) Ensure(ctx context.Context, imageRef string) error {
	_, err, _ := p.group.Do(imageRef, func() (any, error) {
		present, err := p.present(ctx, imageRef)
		if err != nil {
			return nil, err
		}
		if present {
			return nil, nil
		}
		return nil, p.pull(ctx, imageRef)
	})
	return err
}

func (p *Provisioner) present(ctx context.Context, imageRef string) (bool, error) {
	summaries, err := p.docker.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", imageRef)),
	})
	if err != nil {
		return false, fmt.Errorf("listing images: %w", err)
	}
	return len(summaries) > 0, nil
}

func (p *Provisioner) pull(ctx context.Context, imageRef string) error {
	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrProvisioning, imageRef, ctx.Err())
			}
		}
		slog.Info("pulling image", "image", imageRef, "attempt", attempt)
		if lastErr = p.pullOnce(ctx, imageRef); lastErr == nil {
			slog.Info("image pulled", "image", imageRef)
			return nil
		}
		slog.Warn("image pull failed", "image", imageRef, "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrProvisioning, imageRef, p.attempts, lastErr)
}

func (p *Provisioner) pullOnce(ctx context.Context, imageRef string) error {
	reader, err := p.docker.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	// The pull completes only once the progress stream is fully drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull progress: %w", err)
	}
	return nil
}

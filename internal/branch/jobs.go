package branch

import (
	"context"
	"sync"

	"github.com/kilupskalvis/relbranch/internal/models"
)

// runJob moves the branch into its working status, runs the job body, and
// settles the branch afterwards: the done status on success, failed with the
// error message recorded on the branch otherwise. The body is responsible for
// mutating any other branch fields before it returns.
func (s *Service) runJob(ctx context.Context, b *models.Branch, working, done models.BranchStatus, fn func(ctx context.Context) error) error {
	b.Status = working
	if err := s.Primary.UpdateBranch(ctx, b); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		b.Status = models.StatusFailed
		b.Error = err.Error()
		if uerr := s.Primary.UpdateBranch(ctx, b); uerr != nil {
			s.Logger.Error("failed to record branch failure",
				"branch", b.Name, "err", uerr)
		}
		return err
	}

	b.Status = done
	b.Error = ""
	return s.Primary.UpdateBranch(ctx, b)
}

// Jobs runs lifecycle operations in the background and lets callers wait for
// them to settle. Failures land on the branch row, so waiting is only needed
// when the caller wants completion, not for correctness.
type Jobs struct {
	svc *Service
	wg  sync.WaitGroup
}

// NewJobs returns a background runner bound to the service.
func NewJobs(svc *Service) *Jobs {
	return &Jobs{svc: svc}
}

// Go runs fn in the background, logging its outcome.
func (j *Jobs) Go(name string, fn func(ctx context.Context) error) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		if err := fn(context.Background()); err != nil {
			j.svc.Logger.Error("background job failed", "job", name, "err", err)
			return
		}
		j.svc.Logger.Debug("background job finished", "job", name)
	}()
}

// Wait blocks until every started job has settled.
func (j *Jobs) Wait() {
	j.wg.Wait()
}

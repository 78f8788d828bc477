package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/kimhsiao/curio/internal/errors"
)

// SyncResult reports a bulk upload.
type SyncResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Total     int
	Synced    int
	Failed    int
	Errors    []string
}

// Summary renders the result for the user, e.g. "synced 8/10, 2 failed".
func (r *SyncResult) Summary() string {
	if r.Failed == 0 {
		return fmt.Sprintf("synced %d/%d", r.Synced, r.Total)
	}
	return fmt.Sprintf("synced %d/%d, %d failed", r.Synced, r.Total, r.Failed)
}

// UploadLocal copies every local item and the local order to the remote
// store through the Facade's write path. It is the explicit sign-in
// migration; items are upserted by id, so running it again is harmless.
// Remote failures are counted, not returned; local failures abort.
func (s *Session) UploadLocal(ctx context.Context) (*SyncResult, error) {
	if !s.facade.Mode().IsCloud() {
		return nil, apperrors.NotAuthenticated
	}

	result := &SyncResult{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	items, err := s.facade.LocalItems(ctx)
	if err != nil {
		return result, err
	}
	order, err := s.facade.LocalOrder(ctx)
	if err != nil {
		return result, err
	}
	result.Total = len(items)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploadWorkers)
	for _, item := range items {
		g.Go(func() error {
			mirrorErr, err := s.facade.saveItem(gctx, item)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if mirrorErr != nil {
				result.Failed++
				result.Errors = append(result.Errors, mirrorErr.Error())
			} else {
				result.Synced++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	if order != nil {
		if err := s.facade.SaveOrder(ctx, order); err != nil {
			return result, err
		}
	}

	s.log.Info("bulk upload finished", "summary", result.Summary())
	if err := s.Reload(ctx); err != nil {
		s.log.Warn("reload after upload failed", "error", err)
	}
	return result, nil
}

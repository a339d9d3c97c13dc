package file

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

// ScheduleRepository handles schedule-related file operations.
type ScheduleRepository struct {
	store accessor
}

// Save inserts or replaces a schedule.
func (r *ScheduleRepository) Save(_ context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		return errors.New("schedule ID is required")
	}

	return r.store.write(func(d *dataset) error {
		d.schedules[schedule.ID] = schedule.Clone()

		return nil
	})
}

// GetByID returns a live (not deleted) schedule.
func (r *ScheduleRepository) GetByID(_ context.Context, id string) (*models.Schedule, error) {
	var found *models.Schedule

	err := r.store.read(func(d *dataset) error {
		schedule, ok := d.schedules[id]
		if !ok || schedule.DeletedAt != nil {
			return persistence.ErrScheduleNotFound
		}

		found = schedule.Clone()

		return nil
	})

	return found, err
}

// LockByID is GetByID: a file transaction already holds the store mutex.
func (r *ScheduleRepository) LockByID(ctx context.Context, id string) (*models.Schedule, error) {
	return r.GetByID(ctx, id)
}

// List returns a page of live schedules ordered by creation time descending.
func (r *ScheduleRepository) List(_ context.Context, opts persistence.ListSchedulesOptions) (*persistence.ScheduleListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	filtered := make([]*models.Schedule, 0)

	err := r.store.read(func(d *dataset) error {
		for _, schedule := range d.schedules {
			if schedule.DeletedAt != nil {
				continue
			}

			if opts.WorkflowID != "" && schedule.WorkflowID != opts.WorkflowID {
				continue
			}

			if opts.Status != nil && schedule.Status != *opts.Status {
				continue
			}

			filtered = append(filtered, schedule.Clone())
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}

		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	start := min(opts.Offset, total)
	end := min(opts.Offset+opts.Limit, total)

	return &persistence.ScheduleListResult{
		Schedules:   filtered[start:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}, nil
}

// Due returns enabled schedules due at now, oldest NextRunAt first.
func (r *ScheduleRepository) Due(_ context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	due := make([]*models.Schedule, 0)

	err := r.store.read(func(d *dataset) error {
		for _, schedule := range d.schedules {
			if schedule.IsDue(now) {
				due = append(due, schedule.Clone())
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].NextRunAt.Equal(*due[j].NextRunAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}

		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// ExpireEnded flips enabled schedules whose window closed to expired.
func (r *ScheduleRepository) ExpireEnded(_ context.Context, now time.Time) (int64, error) {
	var expired int64

	err := r.store.write(func(d *dataset) error {
		for id, schedule := range d.schedules {
			if schedule.Status != models.ScheduleStatusEnabled || schedule.DeletedAt != nil || !schedule.HasEnded(now) {
				continue
			}

			updated := schedule.Clone()
			updated.Status = models.ScheduleStatusExpired
			updated.NextRunAt = nil
			updated.UpdatedAt = now
			d.schedules[id] = updated
			expired++
		}

		return nil
	})

	return expired, err
}

// SoftDelete marks a schedule deleted and stops it from firing.
func (r *ScheduleRepository) SoftDelete(_ context.Context, id string, at time.Time) error {
	return r.store.write(func(d *dataset) error {
		schedule, ok := d.schedules[id]
		if !ok || schedule.DeletedAt != nil {
			return persistence.ErrScheduleNotFound
		}

		deleted := schedule.Clone()
		deleted.DeletedAt = &at
		deleted.UpdatedAt = at
		deleted.NextRunAt = nil
		d.schedules[id] = deleted

		return nil
	})
}

// Package backend exposes deed domain operations to the conversation layer.
// Every verb returns the answer together with an error; callers treat a
// non-nil error as a failed envelope and leave the user session untouched.
package backend

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/messiah1349/notification-bot/db"
)

var ErrDeedNotFound = errors.New("deed not found")

type Backend struct {
	deeds  *db.Database
	logger *zap.SugaredLogger
}

func New(deeds *db.Database, logger *zap.SugaredLogger) *Backend {
	return &Backend{deeds: deeds, logger: logger}
}

// AddDeed inserts a deed for the owner and returns the assigned id.
func (b *Backend) AddDeed(ctx context.Context, name string, ownerID int64) (int64, error) {
	id, err := b.deeds.Insert(ctx, name, ownerID)
	if err != nil {
		b.logger.Errorw("failed inserting deed", "name", name, "owner", ownerID, "err", err)
		return 0, errors.Wrap(err, "failed adding deed")
	}

	b.logger.Infow("deed inserted", "id", id, "owner", ownerID)
	return id, nil
}

// GetDeed fetches a single deed by id. A missing id is reported as
// ErrDeedNotFound, not as a storage failure.
func (b *Backend) GetDeed(ctx context.Context, deedID int64) (db.Deed, error) {
	deeds, err := b.deeds.GetByFilter(ctx, map[string]any{db.ColumnID: deedID})
	if err != nil {
		b.logger.Errorw("failed fetching deed", "id", deedID, "err", err)
		return db.Deed{}, errors.Wrap(err, "failed fetching deed")
	}

	if len(deeds) == 0 {
		return db.Deed{}, errors.Wrapf(ErrDeedNotFound, "id %d", deedID)
	}

	return deeds[0], nil
}

// GetDeedsForOwner returns the owner's non-done deeds.
func (b *Backend) GetDeedsForOwner(ctx context.Context, ownerID int64) ([]db.Deed, error) {
	deeds, err := b.deeds.GetByFilter(ctx, map[string]any{
		db.ColumnOwnerID:  ownerID,
		db.ColumnDoneFlag: false,
	})
	if err != nil {
		b.logger.Errorw("failed listing deeds", "owner", ownerID, "err", err)
		return nil, errors.Wrap(err, "failed listing deeds")
	}

	return deeds, nil
}

// AddNotification stores the notification time on the deed. Rescheduling
// overwrites a previously set time.
func (b *Backend) AddNotification(ctx context.Context, deedID int64, at time.Time) error {
	err := b.deeds.UpdateWhere(ctx,
		map[string]any{db.ColumnID: deedID},
		map[string]any{db.ColumnNotifyTime: at})
	if err != nil {
		b.logger.Errorw("failed setting notification", "id", deedID, "at", at, "err", err)
		return errors.Wrap(err, "failed setting notification")
	}

	b.logger.Infow("notification set", "id", deedID, "at", at)
	return nil
}

// MarkDeedDone irreversibly flips the done flag.
func (b *Backend) MarkDeedDone(ctx context.Context, deedID int64) error {
	err := b.deeds.UpdateWhere(ctx,
		map[string]any{db.ColumnID: deedID},
		map[string]any{db.ColumnDoneFlag: true})
	if err != nil {
		b.logger.Errorw("failed marking deed done", "id", deedID, "err", err)
		return errors.Wrap(err, "failed marking deed done")
	}

	b.logger.Infow("deed marked done", "id", deedID)
	return nil
}

// RenameDeed replaces the deed's name.
func (b *Backend) RenameDeed(ctx context.Context, deedID int64, name string) error {
	err := b.deeds.UpdateWhere(ctx,
		map[string]any{db.ColumnID: deedID},
		map[string]any{db.ColumnName: name})
	if err != nil {
		b.logger.Errorw("failed renaming deed", "id", deedID, "err", err)
		return errors.Wrap(err, "failed renaming deed")
	}

	b.logger.Infow("deed renamed", "id", deedID)
	return nil
}

// GetActiveDeeds returns every deed that still expects a notification,
// across all owners. Used to rearm the scheduler at startup.
func (b *Backend) GetActiveDeeds(ctx context.Context) ([]db.Deed, error) {
	deeds, err := b.deeds.ListActive(ctx)
	if err != nil {
		b.logger.Errorw("failed listing active deeds", "err", err)
		return nil, errors.Wrap(err, "failed listing active deeds")
	}

	return deeds, nil
}

package holiday

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"remindtab/internal/core"
)

// CompleteYearThreshold is the stored day count above which a year is
// considered synced.
const CompleteYearThreshold = 300

// Fetcher retrieves a year of calendar data.
type Fetcher interface {
	FetchYear(ctx context.Context, year int) ([]core.CalendarDay, error)
}

// Repository persists calendar data.
type Repository interface {
	CountCalendarDays(ctx context.Context, year int) (int, error)
	UpsertCalendarDays(ctx context.Context, days []core.CalendarDay) error
}

// Syncer keeps the stored calendar filled from the provider.
type Syncer struct {
	repo    Repository
	fetcher Fetcher
	logger  *slog.Logger
}

func NewSyncer(repo Repository, fetcher Fetcher, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Syncer{repo: repo, fetcher: fetcher, logger: logger}
}

// EnsureYear fetches the year unless it is already stored. force refetches.
func (s *Syncer) EnsureYear(ctx context.Context, year int, force bool) error {
	if !force {
		count, err := s.repo.CountCalendarDays(ctx, year)
		if err != nil {
			return err
		}
		if count > CompleteYearThreshold {
			s.logger.Debug("calendar year already stored", "year", year, "days", count)
			return nil
		}
	}
	days, err := s.fetcher.FetchYear(ctx, year)
	if err != nil {
		return fmt.Errorf("fetch calendar %d: %w", year, err)
	}
	if err := s.repo.UpsertCalendarDays(ctx, days); err != nil {
		return fmt.Errorf("store calendar %d: %w", year, err)
	}
	s.logger.Info("calendar year synced", "year", year, "days", len(days))
	return nil
}

// EnsureCurrentAndNext syncs the year of now and the following one. Errors
// are logged so that one missing year does not block the other.
func (s *Syncer) EnsureCurrentAndNext(ctx context.Context, now time.Time) {
	for _, year := range []int{now.Year(), now.Year() + 1} {
		if err := s.EnsureYear(ctx, year, false); err != nil {
			s.logger.Warn("calendar sync failed", "year", year, "err", err)
		}
	}
}

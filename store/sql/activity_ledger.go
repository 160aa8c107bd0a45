package sqlstore

import (
	"context"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-federation/core"
)

// ActivityLedger records processed activity ids. The activity_id unique
// constraint makes MarkProcessed return true exactly once even when two
// workers race the same redelivered task.
type ActivityLedger struct {
	db   *bun.DB
	repo repository.Repository[*processedActivityRecord]
}

func (l *ActivityLedger) MarkProcessed(ctx context.Context, activityID string) (bool, error) {
	if l == nil || l.repo == nil {
		return false, sqlstoreNotConfigured("activity ledger")
	}
	activityID = strings.TrimSpace(activityID)
	if activityID == "" {
		return false, sqlstoreInvalid("sqlstore: activity id is required")
	}

	record := &processedActivityRecord{
		ID:          uuid.NewString(),
		ActivityID:  activityID,
		ProcessedAt: time.Now().UTC(),
	}
	if _, err := l.repo.Create(ctx, record); err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, sqlstoreWrap(err, "sqlstore: record processed activity")
	}
	return true, nil
}

var _ core.ActivityLedger = (*ActivityLedger)(nil)

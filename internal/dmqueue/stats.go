package dmqueue

import (
	"context"
	"time"
)

// QueueStats is the dashboard view of the queue.
type QueueStats struct {
	Pending                 int64 `json:"pending"`
	Processing              int64 `json:"processing"`
	Sent                    int64 `json:"sent"`
	Failed                  int64 `json:"failed"`
	DMsSentInLastHour       int   `json:"dms_sent_in_last_hour"`
	WorkerActive            bool  `json:"worker_active"`
	EstimatedMinutesToClear int64 `json:"estimated_minutes_to_clear"`
}

func (d *Dispatcher) Stats(ctx context.Context) (QueueStats, error) {
	counts, err := d.Repo.CountByStatus(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	st, err := d.Ledger.State(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	recent, err := d.Ledger.RecentSends(ctx)
	if err != nil {
		return QueueStats{}, err
	}

	out := QueueStats{
		Pending:           counts[StatusPending],
		Processing:        counts[StatusProcessing],
		Sent:              counts[StatusSent],
		Failed:            counts[StatusFailed],
		DMsSentInLastHour: recent,
		WorkerActive:      st.WorkerActive,
	}
	if out.Pending > 0 {
		total := time.Duration(out.Pending) * d.tickSpacing
		out.EstimatedMinutesToClear = int64((total + time.Minute - 1) / time.Minute)
	}
	return out, nil
}

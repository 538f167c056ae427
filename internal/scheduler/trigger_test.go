package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/model"
)

func TestCronTriggerComputesNextMinuteGranularFire(t *testing.T) {
	tr := Cron("0 2 * * *") // 02:00 daily
	now := time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC)
	next, err := tr.Next(now, "UTC")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 30, 2, 0, 0, 0, time.UTC), next)
}

func TestCronTriggerRespectsNamedTimezone(t *testing.T) {
	tr := Cron("0 9 * * *")
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	next, err := tr.Next(now, "America/New_York")
	require.NoError(t, err)
	require.Equal(t, 9, next.Hour())
	require.Equal(t, "America/New_York", next.Location().String())
}

func TestIntervalTriggerAddsPeriodFromNowNotFromLastRun(t *testing.T) {
	tr := Interval(15 * time.Minute)
	now := time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC)
	next, err := tr.Next(now, "")
	require.NoError(t, err)
	require.Equal(t, now.Add(15*time.Minute), next)
}

func TestTriggerRejectsMalformedExpressions(t *testing.T) {
	_, err := Cron("not a cron expr").Next(time.Now(), "UTC")
	require.Error(t, err)

	_, err = Interval(0).Next(time.Now(), "")
	require.Error(t, err)
}

func TestCronTriggerSkipsSpringForwardGap(t *testing.T) {
	// America/New_York jumps 02:00 -> 03:00 on 2026-03-08; the civil
	// time 02:30 never occurs that day.
	tr := Cron("30 2 * * *")
	now := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	next, err := tr.Next(now, "America/New_York")
	require.NoError(t, err)
	require.NotEqual(t, 2, next.Hour(), "the skipped 02:30 civil time must not fire")
	require.Equal(t, 8, next.Day())
}

func TestCronTriggerFallBackFiresOnceNotTwice(t *testing.T) {
	// America/New_York repeats 01:00-02:00 on 2026-11-01 (clocks fall
	// back from 02:00 to 01:00). The first Next() call after the
	// repeated hour begins must land on its first occurrence; a second
	// Next() computed from that result must advance a full day, not
	// return the same civil instant again.
	tr := Cron("30 1 * * *")
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	first, err := tr.Next(time.Date(2026, 11, 1, 0, 0, 0, 0, loc), "America/New_York")
	require.NoError(t, err)
	require.Equal(t, 1, first.Day())
	require.Equal(t, 1, first.Hour())
	require.Equal(t, 30, first.Minute())

	second, err := tr.Next(first, "America/New_York")
	require.NoError(t, err)
	require.Equal(t, 2, second.Day(), "the repeated 01:30 must fire once, not again the same day")
}

func TestIntervalTriggerKindIsModelInterval(t *testing.T) {
	require.Equal(t, model.TriggerInterval, Interval(time.Minute).Kind)
	require.Equal(t, model.TriggerCron, Cron("* * * * *").Kind)
}

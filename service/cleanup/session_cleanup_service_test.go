package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey-pipeline-service/service/config"
)

type fakeExpirer struct {
	ttl     time.Duration
	expired []string
}

func (f *fakeExpirer) ExpireIdle(_ context.Context, ttl time.Duration) []string {
	f.ttl = ttl
	return f.expired
}

type fakePurger struct {
	before time.Time
	n      int64
	err    error
}

func (f *fakePurger) PurgeStageEvents(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.n, f.err
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	expirer := &fakeExpirer{expired: []string{"s1", "s2"}}
	purger := &fakePurger{n: 7}

	svc := NewSessionCleanupService(expirer, purger, config.SessionConfig{IdleTTL: time.Hour, EventRetention: 24 * time.Hour})
	svc.now = func() time.Time { return now }

	sessions, events := svc.RunOnce(context.Background())
	assert.Equal(t, 2, sessions)
	assert.Equal(t, int64(7), events)
	assert.Equal(t, time.Hour, expirer.ttl)
	assert.Equal(t, now.Add(-24*time.Hour), purger.before)
}

func TestRunOnce_PurgeFailureAndDisabledRetention(t *testing.T) {
	purger := &fakePurger{err: errors.New("db down")}
	svc := NewSessionCleanupService(&fakeExpirer{}, purger, config.SessionConfig{IdleTTL: time.Hour, EventRetention: time.Hour})

	_, events := svc.RunOnce(context.Background())
	assert.Equal(t, int64(0), events)

	untouched := &fakePurger{n: 3}
	svc = NewSessionCleanupService(&fakeExpirer{}, untouched, config.SessionConfig{IdleTTL: time.Hour})
	_, events = svc.RunOnce(context.Background())
	assert.Equal(t, int64(0), events)
	assert.True(t, untouched.before.IsZero())
}

func TestStartScheduledCleanup(t *testing.T) {
	svc := NewSessionCleanupService(&fakeExpirer{}, nil, config.SessionConfig{IdleTTL: time.Hour, SweepCron: "*/30 * * * * *"})

	require.NoError(t, svc.StartScheduledCleanup())
	assert.Error(t, svc.StartScheduledCleanup())
	svc.StopScheduledCleanup()
	svc.StopScheduledCleanup()

	bad := NewSessionCleanupService(&fakeExpirer{}, nil, config.SessionConfig{SweepCron: "not a cron"})
	assert.Error(t, bad.StartScheduledCleanup())
}

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	txCutoff, auditCutoff time.Time
	txErr                 error
	auditCalls            int
}

func (f *fakeArchiver) ArchiveTransactions(_ context.Context, before time.Time) (int64, error) {
	f.txCutoff = before
	return 4, f.txErr
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.auditCutoff = before
	f.auditCalls++
	return 2, nil
}

func newJob(f *fakeArchiver, now time.Time) *Archiver {
	a := NewArchiver(f, 90, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return now }
	return a
}

func TestArchiverRunUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	f := &fakeArchiver{}
	require.NoError(t, newJob(f, now).Run(context.Background()))

	want := now.Add(-90 * 24 * time.Hour)
	assert.Equal(t, want, f.txCutoff)
	assert.Equal(t, want, f.auditCutoff)
}

func TestArchiverRunAttemptsAuditAfterTransactionFailure(t *testing.T) {
	f := &fakeArchiver{txErr: errors.New("bucket gone")}
	err := newJob(f, time.Now()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Equal(t, 1, f.auditCalls)
}

func TestRunCronStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, newJob(&fakeArchiver{}, time.Now()).RunCron(ctx, "0 3 1 * *"))
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	assert.Error(t, newJob(&fakeArchiver{}, time.Now()).RunCron(context.Background(), "every day"))
}

func TestCronNext(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 7, 30, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 1, 15, 10, 8, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 15, 10, 15, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"30 9-17 * * 1-5", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC)},
		{"5,50 10 * * *", time.Date(2025, 1, 15, 10, 50, 0, 0, time.UTC)},
		{"0-30/10 11 * * *", time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			c, err := ParseCron(tc.expr)
			require.NoError(t, err)
			got, err := c.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"x * * * *",
	} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestCronNextNoMatch(t *testing.T) {
	c, err := ParseCron("0 0 31 2 *")
	require.NoError(t, err)
	_, err = c.Next(time.Now())
	assert.Error(t, err)
}

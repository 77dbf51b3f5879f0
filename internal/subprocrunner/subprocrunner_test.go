package subprocrunner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunner_CleanExitAnnouncesAndCollectsLines(t *testing.T) {
	classifier := func(stream Stream, line string) (Outcome, string) {
		if strings.Contains(line, "starting") {
			return Announce, ""
		}
		return Progress, ""
	}

	r := New("sh", []string{"-c", "echo starting download; echo line two; exit 0"}, Stdout, classifier, 0)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	res, err := r.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.True(t, res.Announced)
	require.False(t, res.Cancelled)

	lines := r.LastLogLines(10)
	require.Contains(t, lines, "starting download")
	require.Contains(t, lines, "line two")
}

func TestRunner_FatalLineLatchesFirstDiagnostic(t *testing.T) {
	classifier := func(stream Stream, line string) (Outcome, string) {
		if strings.Contains(line, "error") {
			return ErrorFatal, line
		}
		return Progress, ""
	}

	r := New("sh", []string{"-c", "echo error: first failure; echo error: second failure; exit 1"}, Stdout, classifier, 0)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	res, err := r.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, "error: first failure", res.Diagnostic)
}

func TestRunner_StopOnFatalBreaksDrainEarly(t *testing.T) {
	r := New("sh", []string{"-c", "echo error: boom; sleep 0.2; echo after"}, Stdout, YoutubeRecorderClassifier, 0)
	r.WithStopOnFatal(true)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	res, err := r.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "error: boom", res.Diagnostic)

	lines := r.LastLogLines(10)
	require.NotContains(t, lines, "after", "drain should have stopped before the second line was written")
}

func TestRunner_SpawnBlockedReturnsSentinelExitCode(t *testing.T) {
	r := New("no-such-binary-xyz", nil, Stdout, func(Stream, string) (Outcome, string) { return Ignore, "" }, 0)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	res, err := r.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, spawnBlockedExitCode, res.ExitCode)
	require.Equal(t, "spawn blocked", res.Diagnostic)
}

func TestRunner_CancelledContextSetsCancelledFlag(t *testing.T) {
	classifier := func(Stream, string) (Outcome, string) { return Ignore, "" }
	r := New("sh", []string{"-c", "sleep 5"}, Stdout, classifier, 0)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, res.Cancelled)
}

func TestRunner_StopSendsSigtermThenSigkill(t *testing.T) {
	r := New("sh", []string{"-c", "trap '' TERM; sleep 5"}, Stdout, func(Stream, string) (Outcome, string) { return Ignore, "" }, 0)
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	start := time.Now()
	require.NoError(t, r.Stop(200*time.Millisecond))
	require.Less(t, time.Since(start), 3*time.Second, "SIGKILL escalation should cut the wait short")

	_, _ = r.Wait(ctx)
}

package server

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskmcp/tasksvr/internal/batch"
)

func newStdioServer(s *stack, in io.Reader, out io.Writer) *StdioServer {
	return NewStdioServer(StdioConfig{
		Dispatcher: s.dispatcher,
		Hub:        s.hub,
		Logger:     s.logger,
		In:         in,
		Out:        out,
	})
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestStdioAnswersRequestsLineByLine(t *testing.T) {
	s := newStack(t)
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
			"\n   \n" + // blank frames are skipped
			`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")
	out := &syncBuffer{}

	require.NoError(t, newStdioServer(s, in, out).Run(context.Background()))

	lines := nonEmptyLines(out.String())
	require.Len(t, lines, 2, "the notification must not produce a response")

	var r1 rpcReply
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &r1))
	require.JSONEq(t, "1", string(r1.ID))
	require.JSONEq(t, "{}", string(r1.Result))

	var r2 rpcReply
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &r2))
	require.JSONEq(t, "2", string(r2.ID))
	require.Contains(t, string(r2.Result), "mcp-help")

	require.Equal(t, 0, s.hub.sessionCount(), "the session must be released on exit")
}

func TestStdioStopsOnContextCancel(t *testing.T) {
	s := newStack(t)
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- newStdioServer(s, pr, &syncBuffer{}).Run(ctx) }()

	require.Eventually(t, func() bool { return s.hub.sessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop on cancel")
	}
}

// Server-initiated notifications reach the peer as lines; named stream
// events are SSE-only and never appear on stdout.
func TestStdioForwardsOnlyJSONRPCFrames(t *testing.T) {
	s := newStack(t)
	pr, pw := io.Pipe()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() { done <- newStdioServer(s, pr, out).Run(context.Background()) }()
	require.Eventually(t, func() bool { return s.hub.sessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.hub.JobProgress(context.Background(), &batch.Job{ID: "j1", Status: batch.StatusRunning, TotalTasks: 1})
	s.hub.TasksChanged(context.Background())

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "notifications/resources/list_changed")
	}, 2*time.Second, 10*time.Millisecond)
	require.NotContains(t, out.String(), "job-progress")

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
}

// Submitting a batch over STDIO eventually pushes the list-changed
// notification for the committed tasks.
func TestStdioPushesListChangedAfterBatchCommit(t *testing.T) {
	s := newStack(t)
	pr, pw := io.Pipe()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() { done <- newStdioServer(s, pr, out).Run(context.Background()) }()
	require.Eventually(t, func() bool { return s.hub.sessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	req := `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"mcp-tasks","arguments":{"tasks":[{"title":"from stdio","status":"TODO"}]}}}` + "\n"
	_, err := pw.Write([]byte(req))
	require.NoError(t, err)

	// The submit reply nests its payload as an escaped JSON string, so
	// match the bare field name.
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "jobId")
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "notifications/resources/list_changed")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
}

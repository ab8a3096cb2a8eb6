package events

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FiltersByClient(t *testing.T) {
	b := NewBroker()
	mine := b.Subscribe("c1")
	all := b.Subscribe("")
	defer b.Unsubscribe(mine)
	defer b.Unsubscribe(all)

	b.Publish(Event{ClientID: "c2", Phase: PhaseGenerating})
	b.Publish(Event{ClientID: "c1", JobID: "j", Phase: PhaseDone})

	got := <-mine
	assert.Equal(t, "j", got.JobID)
	assert.False(t, got.At.IsZero())
	assert.Empty(t, mine)

	assert.Len(t, all, 2)
}

func TestBroker_SlowSubscriberDrops(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("c")
	for i := 0; i < 20; i++ {
		b.Publish(Event{ClientID: "c", Phase: PhaseGenerating})
	}
	assert.Len(t, ch, 8)

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	assert.Zero(t, b.Subscribers())

	var nilBroker *Broker
	nilBroker.Publish(Event{ClientID: "c"})
}

func TestServeSSE(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(http.HandlerFunc(b.ServeSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?client_id=c1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	b.Publish(Event{ClientID: "c1", JobID: "j1", Phase: PhaseRefining, Strategy: "url"})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: refining", lines[0])
	assert.Contains(t, lines[1], `"job_id":"j1"`)
	assert.Contains(t, lines[1], `"strategy":"url"`)
}

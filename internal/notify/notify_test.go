package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/cheekschecker/internal/calendar"
	"github.com/TobiSchelling/cheekschecker/internal/participant"
	"github.com/TobiSchelling/cheekschecker/internal/stage"
	"github.com/TobiSchelling/cheekschecker/internal/summary"
)

type recorder struct {
	mu       sync.Mutex
	payloads []map[string]any
	statuses []int
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

		r.mu.Lock()
		defer r.mu.Unlock()
		r.payloads = append(r.payloads, payload)
		status := http.StatusOK
		if n := len(r.payloads) - 1; n < len(r.statuses) {
			status = r.statuses[n]
		}
		w.WriteHeader(status)
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSlackSendsBlocks(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	msg, ok := StageMessage([]stage.Request{{
		BusinessDay: date(2024, 3, 15),
		Stage:       stage.First,
		Counts:      participant.Counts{Male: 3, Female: 6, SingleFemale: 5, Total: 9},
		Ratio:       6.0 / 9.0,
	}}, Options{TargetURL: "https://example.com/cal"})
	require.True(t, ok)

	err := NewSlack(srv.URL, 100).Send(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, rec.payloads, 1)
	assert.Contains(t, rec.payloads[0], "blocks")
}

func TestSlackFallsBackToText(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusBadRequest, http.StatusOK}}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	err := NewSlack(srv.URL, 100).Send(context.Background(), SimpleMessage("title", "body"))
	require.NoError(t, err)
	require.Len(t, rec.payloads, 2)
	assert.NotContains(t, rec.payloads[1], "blocks")
	assert.Equal(t, "title body", rec.payloads[1]["text"])
}

func TestSlackFallbackFailure(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusBadRequest, http.StatusInternalServerError}}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	err := NewSlack(srv.URL, 100).Send(context.Background(), SimpleMessage("title", "body"))
	assert.Error(t, err)
}

func TestSlackTextOnlyErrorHasNoFallback(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusForbidden}}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	err := NewSlack(srv.URL, 100).Send(context.Background(), ErrorMessage("fetch", errors.New("timeout")))
	assert.Error(t, err)
	assert.Len(t, rec.payloads, 1)
}

func TestSlackRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewSlack("http://127.0.0.1:1", 1).Send(ctx, Message{Text: "x"})
	assert.Error(t, err)
}

func TestNewWithoutWebhookLogs(t *testing.T) {
	n := New("", 1)
	_, ok := n.(LogNotifier)
	assert.True(t, ok)
	assert.NoError(t, n.Send(context.Background(), PingMessage()))
}

func TestStageLine(t *testing.T) {
	r := stage.Request{
		BusinessDay: date(2024, 3, 15),
		Stage:       stage.Bonus,
		Counts:      participant.Counts{Female: 6, SingleFemale: 5, Total: 9},
		Ratio:       6.0 / 9.0,
	}
	assert.Equal(t, "[追加] 2024-03-15(金): 単女5 女6 /全9 (67%)", StageLine(r, false))
	assert.Equal(t, "[追加] *2024-03-15(金)*: 単女5 女6 /全9 (67%)", StageLine(r, true))
}

func TestStageMessageMentionAndButton(t *testing.T) {
	reqs := []stage.Request{
		{BusinessDay: date(2024, 3, 15), Stage: stage.First, Counts: participant.Counts{Female: 3, SingleFemale: 3, Total: 5}, Ratio: 0.6},
		{BusinessDay: date(2024, 3, 16), Stage: stage.Bonus, Counts: participant.Counts{Female: 8, SingleFemale: 7, Total: 12}, Ratio: 8.0 / 12.0},
	}
	msg, ok := StageMessage(reqs, Options{TargetURL: "https://example.com/cal", PingChannel: true})
	require.True(t, ok)

	assert.True(t, strings.HasPrefix(msg.Text, "<!channel> 【基準達成通知】"))
	assert.Contains(t, msg.Text, "[初回] 2024-03-15(金)")
	assert.Contains(t, msg.Text, "URL: https://example.com/cal")
	require.NotEmpty(t, msg.Blocks)
	assert.Equal(t, "<!channel>", msg.Blocks[0].Text.Text)

	last := msg.Blocks[len(msg.Blocks)-1]
	assert.Equal(t, "actions", last.Type)
	button := last.Elements[0].(Button)
	assert.Equal(t, "https://example.com/cal", button.URL)
	assert.Equal(t, calendarButton, button.Text.Text)

	_, ok = StageMessage(nil, Options{})
	assert.False(t, ok)
}

func TestStageMessageWithoutPing(t *testing.T) {
	msg, _ := StageMessage([]stage.Request{{BusinessDay: date(2024, 3, 15), Stage: stage.First}}, Options{})
	assert.False(t, strings.Contains(msg.Text, channelMention))
	assert.Equal(t, "*基準達成通知*", msg.Blocks[0].Text.Text)
}

func TestDebugSummaryLimitsDays(t *testing.T) {
	var entries []calendar.DailyEntry
	for d := 1; d <= 15; d++ {
		entries = append(entries, calendar.DailyEntry{BusinessDay: date(2024, 3, d), DayOfMonth: d})
	}
	msg := DebugSummaryMessage(entries, Options{})
	lines := strings.Split(msg.Text, "\n")
	assert.Len(t, lines, 11)
	assert.NotContains(t, msg.Text, "2024-03-11")
}

func TestErrorAndNoDataMessages(t *testing.T) {
	assert.Equal(t, "[ERROR] fetch failed: boom", ErrorMessage("fetch", errors.New("boom")).Text)
	assert.Contains(t, NoDataMessage("週次サマリー").Text, "No data for this period / 集計対象なし")
	assert.Equal(t, "Cheekschecker: Webhook OK Webhook OK", PingMessage().Text)
}

func TestSummaryMessage(t *testing.T) {
	m := summary.Masked{
		Status:      summary.StatusOK,
		GeneratedAt: time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC),
		PeriodStart: "2024-03-04",
		PeriodEnd:   "2024-03-10",
		Days:        6,
		Single:      summary.MaskedStats{Mean: "3-4", Median: "3-4", Max: "5-6"},
		Female:      summary.MaskedStats{Mean: "5-6", Median: "5-6", Max: "9+"},
		Ratio:       summary.MaskedStats{Mean: "40±", Median: "40±", Max: "60±"},
		Top:         []summary.MaskedDay{{BusinessDay: "2024-03-08", Single: "5-6", Female: "9+", Total: "20-29", Ratio: "40±"}},
		Trend:       summary.MaskedTrend{Single: summary.Up, Female: summary.Flat, Ratio: summary.Unknown},
		Weekdays: map[string]summary.MaskedDay{
			"Fri": {Single: "5-6", Female: "9+", Total: "20-29", Ratio: "40±"},
			"Mon": {Single: "1", Female: "2", Total: "<10", Ratio: "<40%"},
		},
	}
	jst := time.FixedZone("JST", 9*3600)
	msg := SummaryMessage("週次サマリー", m, jst)

	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Contains(t, msg.Text, "対象期間: 03/04(月)〜03/10(日)")
	assert.Contains(t, msg.Text, "- 03/08(金) 単女5-6 女9+/全20-29 (40±)")
	assert.Contains(t, msg.Text, "単独女性: ↗")
	assert.Contains(t, msg.Text, "女性比率: 比較対象なし")
	assert.Contains(t, msg.Text, "更新: 03/11 10:00 JST")
	assert.Less(t, strings.Index(msg.Text, "- 月:"), strings.Index(msg.Text, "- 金:"), "weekdays start on Monday")

	empty := SummaryMessage("月次サマリー", summary.Masked{Status: summary.StatusNoData}, nil)
	assert.Contains(t, empty.Text, "集計対象なし")
}

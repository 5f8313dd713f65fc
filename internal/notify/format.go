package notify

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/TobiSchelling/cheekschecker/internal/businessday"
	"github.com/TobiSchelling/cheekschecker/internal/calendar"
	"github.com/TobiSchelling/cheekschecker/internal/stage"
	"github.com/TobiSchelling/cheekschecker/internal/summary"
)

const (
	channelMention  = "<!channel>"
	calendarButton  = "月間カレンダーを開く"
	debugSummaryMax = 10
)

var stageLabels = map[stage.Stage]string{
	stage.First: "初回",
	stage.Bonus: "追加",
}

var weekdayJP = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// Options controls message decoration.
type Options struct {
	TargetURL   string
	PingChannel bool
}

func percent(ratio float64) int {
	return int(math.Round(ratio * 100))
}

func dayLabel(d time.Time) string {
	return fmt.Sprintf("%s(%s)", businessday.Key(d), weekdayJP[d.Weekday()])
}

func shortDay(d time.Time) string {
	return fmt.Sprintf("%02d/%02d(%s)", int(d.Month()), d.Day(), weekdayJP[d.Weekday()])
}

// StageLine renders one stage notification.
func StageLine(r stage.Request, markdown bool) string {
	label, ok := stageLabels[r.Stage]
	if !ok {
		label = "通知"
	}
	day := dayLabel(r.BusinessDay)
	if markdown {
		day = "*" + day + "*"
	}
	return fmt.Sprintf("[%s] %s: 単女%d 女%d /全%d (%d%%)",
		label, day, r.Counts.SingleFemale, r.Counts.Female, r.Counts.Total, percent(r.Ratio))
}

// StageMessage announces stage transitions. It returns false when there is
// nothing to send.
func StageMessage(requests []stage.Request, opts Options) (Message, bool) {
	if len(requests) == 0 {
		return Message{}, false
	}
	plain := []string{"【基準達成通知】"}
	var rich []string
	for _, r := range requests {
		plain = append(plain, "- "+StageLine(r, false))
		rich = append(rich, "• "+StageLine(r, true))
	}
	if opts.TargetURL != "" {
		plain = append(plain, "URL: "+opts.TargetURL)
	}

	blocks := []Block{
		section("*基準達成通知*"),
		section(strings.Join(rich, "\n")),
	}
	if opts.TargetURL != "" {
		blocks = append(blocks, Block{
			Type: "actions",
			Elements: []any{Button{
				Type: "button",
				Text: plainText(calendarButton),
				URL:  opts.TargetURL,
			}},
		})
	}
	return decorate(Message{Text: strings.Join(plain, "\n"), Blocks: blocks}, opts.PingChannel), true
}

// decorate prepends the channel mention when ping is set.
func decorate(msg Message, ping bool) Message {
	if !ping {
		return msg
	}
	msg.Text = channelMention + " " + msg.Text
	if len(msg.Blocks) > 0 {
		msg.Blocks = append([]Block{section(channelMention)}, msg.Blocks...)
	}
	return msg
}

// DebugSummaryMessage lists the first parsed days in date order.
func DebugSummaryMessage(entries []calendar.DailyEntry, opts Options) Message {
	if len(entries) > debugSummaryMax {
		entries = entries[:debugSummaryMax]
	}
	const title = "デバッグサマリー（上位10日）"
	plain := []string{"【" + title + "】"}
	var rich []string
	for _, e := range entries {
		plain = append(plain, calendar.FormatEntry(e))
		rich = append(rich, "• "+calendar.FormatEntry(e))
	}
	if len(rich) == 0 {
		rich = append(rich, "該当なし")
	}
	return decorate(Message{
		Text: strings.Join(plain, "\n"),
		Blocks: []Block{
			section("*" + title + "*"),
			section(strings.Join(rich, "\n")),
		},
	}, opts.PingChannel)
}

// SimpleMessage is a titled one-liner.
func SimpleMessage(title, message string) Message {
	return Message{
		Text:   title + " " + message,
		Blocks: []Block{section(fmt.Sprintf("*%s*\n%s", title, message))},
	}
}

// PingMessage verifies the webhook.
func PingMessage() Message {
	return SimpleMessage("Cheekschecker: Webhook OK", "Webhook OK")
}

// NoDataMessage reports an empty summary period.
func NoDataMessage(title string) Message {
	return SimpleMessage("Cheekschecker "+title, "No data for this period / 集計対象なし")
}

// ErrorMessage reports a failed step as plain text.
func ErrorMessage(step string, err error) Message {
	return Message{Text: fmt.Sprintf("[ERROR] %s failed: %v", step, err)}
}

var trendArrows = map[summary.Direction]string{
	summary.Up:   "↗",
	summary.Down: "↘",
	summary.Flat: "→",
}

func trendText(d summary.Direction) string {
	if arrow, ok := trendArrows[d]; ok {
		return arrow
	}
	return "比較対象なし"
}

// SummaryMessage renders a masked period summary. Times are shown in loc.
func SummaryMessage(title string, m summary.Masked, loc *time.Location) Message {
	if m.Status != summary.StatusOK {
		return NoDataMessage(title)
	}
	if loc == nil {
		loc = time.UTC
	}
	start, _ := businessday.ParseKey(m.PeriodStart)
	end, _ := businessday.ParseKey(m.PeriodEnd)
	headline := fmt.Sprintf("*対象期間*: %s〜%s\n*対象営業日*: %d日", shortDay(start), shortDay(end), m.Days)

	stats := func(name string, s summary.MaskedStats) string {
		return fmt.Sprintf("*%s*\n平均 %s / 中央 %s / 最大 %s", name, s.Mean, s.Median, s.Max)
	}
	fields := []Text{
		*mrkdwn(stats("単独女性", m.Single)),
		*mrkdwn(stats("女性総数", m.Female)),
		*mrkdwn(stats("女性比率", m.Ratio)),
	}

	var hot []string
	for _, d := range m.Top {
		day, err := businessday.ParseKey(d.BusinessDay)
		label := d.BusinessDay
		if err == nil {
			label = shortDay(day)
		}
		hot = append(hot, fmt.Sprintf("• %s 単女%s 女%s/全%s (%s)", label, d.Single, d.Female, d.Total, d.Ratio))
	}
	if len(hot) == 0 {
		hot = append(hot, "該当なし")
	}

	trend := []string{
		"• 単独女性: " + trendText(m.Trend.Single),
		"• 女性総数: " + trendText(m.Trend.Female),
		"• 女性比率: " + trendText(m.Trend.Ratio),
	}

	var weekdays []string
	for i := 1; i <= 7; i++ {
		wd := time.Weekday(i % 7)
		p, ok := m.Weekdays[businessday.ShortName(wd)]
		if !ok {
			continue
		}
		weekdays = append(weekdays, fmt.Sprintf("• %s: 単%s 女%s/全%s (%s)", weekdayJP[wd], p.Single, p.Female, p.Total, p.Ratio))
	}
	if len(weekdays) == 0 {
		weekdays = append(weekdays, "• データ不足")
	}

	updated := "更新: " + m.GeneratedAt.In(loc).Format("01/02 15:04 MST")
	blocks := []Block{
		{Type: "header", Text: plainText("Cheekschecker " + title)},
		section(headline),
		{Type: "section", Fields: fields},
		section("*Hot day Top3*\n" + strings.Join(hot, "\n")),
		section("*傾向 (直前比)*\n" + strings.Join(trend, "\n")),
		section("*曜日別プロファイル*\n" + strings.Join(weekdays, "\n")),
		{Type: "context", Elements: []any{*mrkdwn(updated)}},
	}

	plain := []string{"Cheekschecker " + title, strings.ReplaceAll(headline, "*", "")}
	for _, f := range fields {
		plain = append(plain, strings.ReplaceAll(strings.ReplaceAll(f.Text, "*", ""), "\n", " "))
	}
	plain = append(plain, "Hot day Top3:")
	plain = append(plain, bulletsToDashes(hot)...)
	plain = append(plain, "傾向:")
	plain = append(plain, bulletsToDashes(trend)...)
	plain = append(plain, "曜日別プロファイル:")
	plain = append(plain, bulletsToDashes(weekdays)...)
	plain = append(plain, updated)

	return Message{Text: strings.Join(plain, "\n"), Blocks: blocks}
}

func bulletsToDashes(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.Replace(l, "• ", "- ", 1)
	}
	return out
}

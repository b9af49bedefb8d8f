// internal/notify/format.go
package notify

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/results"
)

// TimeLayout is how timestamps appear in messages.
const TimeLayout = "2006-01-02 15:04:05"

const maxReasonRunes = 300

var markdownV2Escaper = strings.NewReplacer(
	`\`, `\\`, `_`, `\_`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
	`~`, `\~`, "`", "\\`", `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`, `=`, `\=`,
	`|`, `\|`, `{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
)

// EscapeMarkdownV2 escapes free text for a MarkdownV2 message.
func EscapeMarkdownV2(s string) string {
	return markdownV2Escaper.Replace(s)
}

var codeEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`")

// escapeCode escapes text placed inside a `code` span.
func escapeCode(s string) string {
	return codeEscaper.Replace(s)
}

var linkEscaper = strings.NewReplacer(`\`, `\\`, `)`, `\)`)

func link(text, target string) string {
	return fmt.Sprintf("[%s](%s)", EscapeMarkdownV2(text), linkEscaper.Replace(target))
}

func mentions(ms []config.Mention) string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		parts = append(parts, link(m.Name, fmt.Sprintf("tg://user?id=%d", m.UserID)))
	}
	return strings.Join(parts, ", ")
}

func displayURL(site *config.SiteProfile) string {
	if site.DisplayURL != "" {
		return site.DisplayURL
	}
	if u, err := url.Parse(site.URL); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Host, "www.")
	}
	return site.URL
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func statusOf(v results.Verdict) (emoji, status string) {
	switch v {
	case results.Success:
		return "✅", "deposit success"
	case results.Failure:
		return "❌", "deposit failed"
	default:
		return "❓", "deposit unknown"
	}
}

func header(b *strings.Builder, site *config.SiteProfile) {
	fmt.Fprintf(b, "URL: %s\n", link(displayURL(site), site.URL))
	fmt.Fprintf(b, "TEAM : %s\n", EscapeMarkdownV2(site.Team))
}

// Caption renders the photo caption for one record.
func Caption(site *config.SiteProfile, rec results.Record) string {
	var b strings.Builder
	if m := mentions(site.Mentions); m != "" {
		b.WriteString(m)
		b.WriteByte('\n')
	}
	b.WriteString("*Subject: Bot Testing Deposit Gateway*\n")
	header(&b, site)

	emoji, status := statusOf(rec.Result.Verdict)
	c := rec.Combination
	b.WriteString("┌─ *Deposit Testing Result* ──────────┐\n")
	fmt.Fprintf(&b, "│ %s *%s*\n│\n", emoji, EscapeMarkdownV2(status))
	fmt.Fprintf(&b, "│ *Option:* `%s`\n", escapeCode(orNone(c.Option)))
	fmt.Fprintf(&b, "│ *PaymentGateway:* `%s`\n", escapeCode(orNone(c.Method)))
	fmt.Fprintf(&b, "│ *Channel:* `%s`\n", escapeCode(orNone(c.Channel)))
	if c.Bank != "" {
		fmt.Fprintf(&b, "│ *Bank:* `%s`\n", escapeCode(c.Bank))
	}
	b.WriteString("└───────────────────────────┘\n")

	if rec.Result.Reason != "" && rec.Result.Verdict != results.Success {
		b.WriteString("\n*Failed reason*\n")
		fmt.Fprintf(&b, "│ *Failed Reason:* `%s`\n", escapeCode(truncate(rec.Result.Reason, maxReasonRunes)))
	}

	b.WriteString("\n*Time Detail*\n")
	fmt.Fprintf(&b, "├─ *TimeOccurred:* `%s`", rec.Timestamp.Format(TimeLayout))
	return b.String()
}

func block(b *strings.Builder, title string, recs []results.Record) {
	if len(recs) == 0 {
		return
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	fmt.Fprintf(b, "┌─ %s *Result* ────────────┐\n", title)
	for _, r := range recs {
		c := r.Combination
		fmt.Fprintf(b, "│ *• Options:%s ,Method:%s*\n│   ├─ Channel:%s\n│\n",
			EscapeMarkdownV2(c.Option), EscapeMarkdownV2(c.Method), EscapeMarkdownV2(c.Channel))
	}
	b.WriteString("└───────────────────────────┘\n")
}

// Summary renders the end of run summary message.
func Summary(site *config.SiteProfile, sum results.Summary, at time.Time) string {
	var b strings.Builder
	b.WriteString("*Deposit Payment Gateway Testing Result Summary*\n")
	header(&b, site)
	fmt.Fprintf(&b, "TIME: %s\n\n", EscapeMarkdownV2(at.Format(TimeLayout)))

	var body strings.Builder
	block(&body, "✅ Success", sum.Succeeded)
	block(&body, "❌ Failed", sum.Failed)
	block(&body, "❓ Unknown", sum.Unknown)
	if body.Len() == 0 {
		body.WriteString(EscapeMarkdownV2("No combinations were tested.") + "\n")
	}
	b.WriteString(body.String())

	if n := len(sum.NotReached); n > 0 {
		fmt.Fprintf(&b, "\n*Not reached:* %d\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}

// IncompleteAlert is sent in legacy Markdown when every attempt of a site
// run failed.
func IncompleteAlert(team string, attempts int) string {
	return fmt.Sprintf("⚠️ *%s RETRY %d TIMES FAILED*\n"+
		"OVERALL FLOW CAN'T COMPLETE DUE TO NETWORK ISSUE OR INTERFACE CHANGES IN LOGIN PAGE OR CLOUDFLARE BLOCK\n"+
		"KINDLY ASK ENGINEER TO CHECK IF ISSUE PERSISTS CONTINUOUSLY IN TWO HOURS",
		strings.ToUpper(team), attempts)
}

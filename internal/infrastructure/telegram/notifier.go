package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// maxListedFailures bounds how many failed records are spelled out in one
// message.
const maxListedFailures = 10

// Notifier sends run reports to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier. An empty apiBase
// targets the public bot API.
func NewNotifier(botToken, chatID, apiBase string) *Notifier {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  strings.TrimRight(apiBase, "/"),
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// PublishReport posts a Markdown summary of the run.
func (n *Notifier) PublishReport(ctx context.Context, report domain.RunReport) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", FormatReport(report))
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

// FormatReport renders the report as a Markdown message.
func FormatReport(report domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Harvest %s*: %s\n", report.SourceName, report.Status)
	if report.Error != "" {
		fmt.Fprintf(&b, "Error: `%s`\n", report.Error)
	}
	c := report.Counts
	fmt.Fprintf(&b, "created %d, updated %d, unchanged %d, deleted %d, failed %d\n",
		c.Created, c.Updated, c.Unchanged, c.Deleted, c.Failed)
	if !report.FinishedAt.IsZero() && !report.StartedAt.IsZero() {
		fmt.Fprintf(&b, "took %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
	}

	listed := 0
	for _, o := range report.Outcomes {
		if o.Status != domain.OutcomeFailed {
			continue
		}
		if listed == maxListedFailures {
			fmt.Fprintf(&b, "... and %d more failures\n", c.Failed-listed)
			break
		}
		fmt.Fprintf(&b, "- `%s`: %s\n", o.GUID, o.Reason)
		listed++
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintf(&b, "! %s\n", d)
	}
	return strings.TrimRight(b.String(), "\n")
}

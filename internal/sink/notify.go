package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/slurm-admin/slm/internal/model"
)

// deliverTimeout bounds one Deliver call across all sinks in this package.
const deliverTimeout = 5 * time.Second

// JobInfo is the static job context rendered into notification messages.
type JobInfo struct {
	Name  string
	Nodes string
	CPUs  string
}

// TemplateFunc renders a lifecycle event into a webhook request body.
type TemplateFunc func(ev model.LifecycleEvent) ([]byte, error)

var statusEmoji = map[model.EventKind]string{
	model.EventSubmitted:   "📤",
	model.EventRunning:     "▶️",
	model.EventPaused:      "⏸️",
	model.EventResumed:     "▶️",
	model.EventTerminating: "⏹️",
	model.EventCompleted:   "✅",
	model.EventFailed:      "❌",
}

const (
	defaultEmoji = "📊"
	timeFormat   = "2006-01-02 15:04:05"
)

type larkMessage struct {
	MsgType string      `json:"msg_type"`
	Content larkContent `json:"content"`
}

type larkContent struct {
	Text string `json:"text"`
}

// LarkText renders events as Lark custom bot text messages carrying the
// job identity and its resources.
func LarkText(info JobInfo) TemplateFunc {
	return func(ev model.LifecycleEvent) ([]byte, error) {
		emoji, ok := statusEmoji[ev.Kind]
		if !ok {
			emoji = defaultEmoji
		}
		text := fmt.Sprintf(
			"%s [Slurm %s]\n🆔 JobID: %s\n📝 Name: %s\n🖥️ Nodes: %s\n⚙️ CPUs: %s\n⏰ Time: %s\nℹ️ Details: %s",
			emoji, ev.Kind, ev.JobID, info.Name, info.Nodes, info.CPUs,
			ev.Timestamp.Local().Format(timeFormat), ev.Detail,
		)
		return json.Marshal(larkMessage{MsgType: "text", Content: larkContent{Text: text}})
	}
}

// Notification posts every event to a chat webhook. It keeps no state
// between events, a failed delivery degrades that one event and the next
// one is attempted again.
type Notification struct {
	url    string
	render TemplateFunc
	client *http.Client
}

// NewNotification builds a webhook sink delivering events rendered by
// render to url.
func NewNotification(url string, render TemplateFunc) *Notification {
	return &Notification{
		url:    url,
		render: render,
		client: &http.Client{},
	}
}

func (n *Notification) Name() string { return "notification" }

// Deliver renders and posts the event. Rendering, transport and HTTP
// status failures all come back as Degraded.
func (n *Notification) Deliver(ctx context.Context, ev model.LifecycleEvent) model.Outcome {
	body, err := n.render(ev)
	if err != nil {
		slog.WarnContext(ctx, "rendering notification failed", "status", ev.Kind, "error", err)
		return model.Degraded
	}

	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		slog.WarnContext(ctx, "building webhook request failed", "error", err)
		return model.Degraded
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "posting notification failed", "status", ev.Kind, "error", err)
		return model.Degraded
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "webhook returned unexpected status", "code", resp.StatusCode)
		return model.Degraded
	}
	return model.Delivered
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notify is the notification channel router (A6): it routes a
// resolved notifier-agent output to the channel its "channel" field
// names, either posting to Slack or writing to the structured logger.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Message is what a notifier-agent invocation resolves to: the channel
// to route through plus the text to deliver.
type Message struct {
	Channel string
	Text    string
}

// slackPoster is the subset of *slack.Client the router depends on, so
// tests can stub it without a live bot token.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Router posts to Slack when configured, and always falls back to the
// structured logger — "console" routes there by design, and a Slack
// post failure is logged rather than propagated, since a notification
// delivery problem must never fail the owning workflow run.
type Router struct {
	slack        slackPoster
	slackChannel string
	logger       *slog.Logger
}

// New constructs a Router. botToken may be empty, in which case every
// message is routed to the logger regardless of its requested channel.
func New(botToken, defaultSlackChannel string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	var client slackPoster
	if botToken != "" {
		client = slack.New(botToken)
	}
	return &Router{slack: client, slackChannel: defaultSlackChannel, logger: logger}
}

// Notify adapts a notifier node's resolved output — the free-form map a
// container agent hands back, shaped by the alert-notification
// workflow's input template — into a Message and sends it. Satisfies
// scheduler.Notifier without either package importing the other.
func (r *Router) Notify(ctx context.Context, output map[string]interface{}) {
	channel, _ := output["channel"].(string)
	if err := r.Send(ctx, Message{Channel: channel, Text: formatText(output)}); err != nil {
		r.logger.Error("notification delivery failed", "error", err)
	}
}

// formatText renders an alert-notification node's output as a single
// line, matching the fields the mapper's input template resolves
// (alert_name, status, summary, runbook_url).
func formatText(output map[string]interface{}) string {
	alertName, _ := output["alert_name"].(string)
	status, _ := output["status"].(string)
	summary, _ := output["summary"].(string)
	runbookURL, _ := output["runbook_url"].(string)

	text := fmt.Sprintf("[%s] %s", status, alertName)
	if summary != "" {
		text += ": " + summary
	}
	if runbookURL != "" {
		text += " (" + runbookURL + ")"
	}
	return text
}

// Send routes msg. channel "slack" posts via the Slack Web API
// (chat.postMessage); anything else, including "console", logs at info
// level so local/test deployments still see every notification.
func (r *Router) Send(ctx context.Context, msg Message) error {
	if msg.Channel != "slack" || r.slack == nil {
		r.logger.Info("notification", "channel", msg.Channel, "text", msg.Text)
		return nil
	}

	channelID := r.slackChannel
	_, _, err := r.slack.PostMessageContext(ctx, channelID, slack.MsgOptionText(msg.Text, false))
	if err != nil {
		r.logger.Error("slack notification failed, falling back to log", "error", err, "text", msg.Text)
		return fmt.Errorf("post to slack: %w", err)
	}
	return nil
}

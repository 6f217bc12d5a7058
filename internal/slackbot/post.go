package slackbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/steveyegge/agentbridge/internal/format"
	"github.com/steveyegge/agentbridge/internal/telemetry"
	"github.com/steveyegge/agentbridge/internal/util"
)

// Attachment file defaults for long output in file mode.
const (
	DefaultFilename  = "output.txt"
	DefaultFileTitle = "Full Output"
)

// PostMessage posts text, with optional blocks, and returns the message
// timestamp. Rate limits and transient network errors are retried.
func (b *Bot) PostMessage(ctx context.Context, channelID, text string, blocks ...slack.Block) (string, error) {
	if channelID == "" {
		return "", fmt.Errorf("posting message: no channel")
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}

	ts, err := util.Retry(ctx, b.retry, func() (string, error) {
		_, ts, err := b.api.PostMessageContext(ctx, channelID, opts...)
		return ts, err
	})
	telemetry.RecordSlackPost(ctx, channelID, err)
	if err != nil {
		b.logger.Error("post failed", "channel", channelID, "error", err)
		return "", fmt.Errorf("posting to %s: %w", channelID, err)
	}
	return ts, nil
}

// PostFormatted renders content with the bot's formatter and posts it.
// Split output becomes several messages; file output posts a preview and
// uploads the full text. The timestamp of the first message is returned.
func (b *Bot) PostFormatted(ctx context.Context, channelID, content string) (string, error) {
	var first string
	for _, msg := range b.formatter.Messages(content) {
		ts, err := b.PostMessage(ctx, channelID, msg.Text, msg.Blocks...)
		if err != nil {
			return first, err
		}
		if first == "" {
			first = ts
		}
		if msg.Attachment != "" {
			if err := b.UploadFile(ctx, channelID, msg.Attachment, DefaultFilename, DefaultFileTitle); err != nil {
				return first, err
			}
		}
	}
	return first, nil
}

// PostInteractive posts a question with one button per option.
func (b *Bot) PostInteractive(ctx context.Context, channelID, question string, options []string) (string, error) {
	return b.PostMessage(ctx, channelID, question, format.InteractiveQuestion(question, options)...)
}

// PostError posts an error report.
func (b *Bot) PostError(ctx context.Context, channelID, message string) (string, error) {
	return b.PostMessage(ctx, channelID, ":x: "+message, format.ErrorBlocks(message)...)
}

// UploadFile uploads content as a file shared to the channel.
func (b *Bot) UploadFile(ctx context.Context, channelID, content, filename, title string) error {
	if filename == "" {
		filename = DefaultFilename
	}
	_, err := util.Retry(ctx, b.retry, func() (*slack.FileSummary, error) {
		return b.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:  channelID,
			Content:  content,
			FileSize: len(content),
			Filename: filename,
			Title:    title,
		})
	})
	telemetry.RecordSlackPost(ctx, channelID, err)
	if err != nil {
		b.logger.Error("file upload failed", "channel", channelID, "error", err)
		return fmt.Errorf("uploading file to %s: %w", channelID, err)
	}
	return nil
}

// JoinChannel joins a public channel. Missing scopes and private channels
// cannot be joined by the bot; the error says to invite it instead.
func (b *Bot) JoinChannel(ctx context.Context, channelID string) error {
	_, _, _, err := b.api.JoinConversationContext(ctx, channelID)
	if err == nil {
		b.logger.Info("joined channel", "channel", channelID)
		return nil
	}
	if msg := err.Error(); strings.Contains(msg, "missing_scope") || strings.Contains(msg, "channel_not_found") {
		b.logger.Warn("cannot join channel, invite the bot manually with /invite", "channel", channelID, "error", err)
	} else {
		b.logger.Error("join failed", "channel", channelID, "error", err)
	}
	return fmt.Errorf("joining %s: %w", channelID, err)
}

// JoinAll joins every registered channel and reports per-channel success.
func (b *Bot) JoinAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool)
	if b.channels == nil {
		return results
	}
	for _, id := range b.channels.ChannelIDs() {
		results[id] = b.JoinChannel(ctx, id) == nil
	}
	return results
}

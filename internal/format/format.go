// Package format renders agent output as Slack messages: ANSI removal,
// display modes, long-output handling, Markdown to mrkdwn conversion and
// Block Kit layout.
package format

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/slack-go/slack"
)

// Mode selects how output is condensed before posting.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeCompact  Mode = "compact"
	ModeCodeOnly Mode = "code-only"
)

// LongOutput selects what happens to output over the length limit.
type LongOutput string

const (
	LongTruncate LongOutput = "truncate"
	LongSplit    LongOutput = "split"
	LongFile     LongOutput = "file"
)

// Slack layout limits.
const (
	DefaultMaxLength = 3900
	sectionChunkSize = 2900
	maxSections      = 5
	fallbackLength   = 500
	buttonTextLength = 75
	maxButtons       = 5
	filePreviewMax   = 1000
)

// Suffixes appended when output is cut.
const (
	truncatedSuffix = "\n\n... (truncated)"
	continuedSuffix = "\n\n... (continued)"
	fileSuffix      = "\n\n... (full output in file)"
	truncatedNotice = "_Output truncated..._"
)

// ChoiceActionPrefix prefixes the action IDs of interactive buttons.
const ChoiceActionPrefix = "choice_"

var (
	codeBlockRe    = regexp.MustCompile("(?s)```(\\w*)\n(.*?)```")
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
	headerRe       = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	boldRe         = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkRe         = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	choiceActionRe = regexp.MustCompile(`^` + ChoiceActionPrefix + `\d+$`)
)

// Options configures a Formatter.
type Options struct {
	Mode               Mode
	MaxLength          int
	LongOutput         LongOutput
	StripANSI          bool
	PreserveCodeBlocks bool
}

// DefaultOptions returns the defaults used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Mode:               ModeFull,
		MaxLength:          DefaultMaxLength,
		LongOutput:         LongTruncate,
		StripANSI:          true,
		PreserveCodeBlocks: true,
	}
}

// Message is one Slack message ready to post.
type Message struct {
	// Text is the notification fallback.
	Text   string
	Blocks []slack.Block
	// Truncated is set when the content was cut.
	Truncated bool
	// Attachment holds the full content to upload as a file in file mode.
	Attachment string
}

// Formatter renders content according to Options.
type Formatter struct {
	opts Options
}

// New returns a Formatter. Zero fields in opts take their defaults.
func New(opts Options) *Formatter {
	def := DefaultOptions()
	if opts.Mode == "" {
		opts.Mode = def.Mode
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = def.MaxLength
	}
	if opts.LongOutput == "" {
		opts.LongOutput = def.LongOutput
	}
	return &Formatter{opts: opts}
}

// Options returns the effective options.
func (f *Formatter) Options() Options { return f.opts }

// Messages renders content as one or more messages. Split mode yields one
// message per chunk; every other mode yields exactly one.
func (f *Formatter) Messages(content string) []Message {
	content = f.prepare(content)

	if runeLen(content) <= f.opts.MaxLength {
		return []Message{f.build(content, false)}
	}

	switch f.opts.LongOutput {
	case LongSplit:
		chunks := f.split(content)
		msgs := make([]Message, len(chunks))
		for i, c := range chunks {
			msgs[i] = f.build(c, false)
		}
		return msgs
	case LongFile:
		preview := takeRunes(content, min(filePreviewMax, f.opts.MaxLength/2)) + fileSuffix
		msg := f.build(preview, true)
		msg.Attachment = content
		return []Message{msg}
	default:
		return []Message{f.build(f.truncate(content), true)}
	}
}

// Format renders content as a single message, truncating if needed
// regardless of the configured long-output mode.
func (f *Formatter) Format(content string) Message {
	content = f.prepare(content)
	if runeLen(content) <= f.opts.MaxLength {
		return f.build(content, false)
	}
	return f.build(f.truncate(content), true)
}

func (f *Formatter) prepare(content string) string {
	if f.opts.StripANSI {
		content = StripANSI(content)
	}
	switch f.opts.Mode {
	case ModeCodeOnly:
		content = extractCodeBlocks(content)
	case ModeCompact:
		content = compact(content)
	}
	return content
}

// truncate cuts content to fit, preferring a line break near the limit.
func (f *Formatter) truncate(content string) string {
	head, _ := cutNear(content, f.opts.MaxLength)
	return head + truncatedSuffix
}

// split breaks content into chunks that each fit with their suffix.
func (f *Formatter) split(content string) []string {
	var chunks []string
	rest := content
	for runeLen(rest) > f.opts.MaxLength {
		head, tail := cutNear(rest, f.opts.MaxLength)
		chunks = append(chunks, head+continuedSuffix)
		rest = strings.TrimPrefix(tail, "\n")
	}
	if strings.TrimSpace(rest) != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// cutNear splits s at max-50 runes, moving back to the last newline when it
// lies within the final 150 runes of the cut.
func cutNear(s string, max int) (string, string) {
	limit := max - 50
	if limit < 1 {
		limit = 1
	}
	head := takeRunes(s, limit)
	if i := strings.LastIndex(head, "\n"); i > 0 && utf8.RuneCountInString(head[:i]) > max-200 {
		head = head[:i]
	}
	return head, s[len(head):]
}

func (f *Formatter) build(content string, truncated bool) Message {
	mrkdwn := ToMrkdwn(content)
	if f.opts.PreserveCodeBlocks {
		mrkdwn = toMrkdwnOutsideFences(content)
	}

	var blocks []slack.Block
	chunks := chunkRunes(mrkdwn, sectionChunkSize)
	for i, chunk := range chunks {
		if i == maxSections {
			truncated = true
			break
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, chunk, false, false),
			nil, nil,
		))
	}
	if truncated {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, truncatedNotice, false, false),
		))
	}

	return Message{
		Text:      takeRunes(content, fallbackLength),
		Blocks:    blocks,
		Truncated: truncated,
	}
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// ToMrkdwn converts common Markdown to Slack mrkdwn: headers and **bold**
// become *bold*, [text](url) becomes <url|text>, and runs of blank lines
// collapse.
func ToMrkdwn(s string) string {
	s = headerRe.ReplaceAllString(s, "*$1*")
	s = boldRe.ReplaceAllString(s, "*$1*")
	s = linkRe.ReplaceAllString(s, "<$2|$1>")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// toMrkdwnOutsideFences converts only the text between code fences, leaving
// fenced code exactly as the agent wrote it.
func toMrkdwnOutsideFences(s string) string {
	parts := strings.Split(s, "```")
	for i := 0; i < len(parts); i += 2 {
		p := headerRe.ReplaceAllString(parts[i], "*$1*")
		p = boldRe.ReplaceAllString(p, "*$1*")
		p = linkRe.ReplaceAllString(p, "<$2|$1>")
		parts[i] = blankRunRe.ReplaceAllString(p, "\n\n")
	}
	return strings.TrimSpace(strings.Join(parts, "```"))
}

func extractCodeBlocks(s string) string {
	matches := codeBlockRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, "```"+m[1]+"\n"+strings.TrimSpace(m[2])+"\n```")
	}
	return strings.Join(parts, "\n\n")
}

func compact(s string) string {
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// InteractiveQuestion lays out a question with up to five choice buttons.
// Each button's value is the full option text.
func InteractiveQuestion(question string, options []string) []slack.Block {
	if len(options) > maxButtons {
		options = options[:maxButtons]
	}
	buttons := make([]slack.BlockElement, 0, len(options))
	for i, opt := range options {
		buttons = append(buttons, slack.NewButtonBlockElement(
			fmt.Sprintf("%s%d", ChoiceActionPrefix, i),
			opt,
			slack.NewTextBlockObject(slack.PlainTextType, takeRunes(opt, buttonTextLength), false, false),
		))
	}
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf(":question: *%s*", question), false, false),
			nil, nil,
		),
		slack.NewActionBlock("", buttons...),
	}
}

// IsChoiceAction reports whether actionID came from InteractiveQuestion.
func IsChoiceAction(actionID string) bool {
	return choiceActionRe.MatchString(actionID)
}

// ErrorBlocks lays out an error report.
func ErrorBlocks(msg string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, ":x: *Error*\n\n```"+msg+"```", false, false),
			nil, nil,
		),
	}
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// takeRunes returns the first n runes of s.
func takeRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func chunkRunes(s string, size int) []string {
	var out []string
	for s != "" {
		head := takeRunes(s, size)
		out = append(out, head)
		s = s[len(head):]
	}
	return out
}

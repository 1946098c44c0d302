package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roasbeef/otpwatch/internal/record"
)

// MaxMessageRunes is the per-message size cap applied before handing text to
// an endpoint. Telegram rejects messages over 4096 characters; the headroom
// covers the escaping and framing added around split chunks.
const MaxMessageRunes = 4000

// EscapeMarkdownV2 escapes text for safe embedding in a Telegram MarkdownV2
// message.
func EscapeMarkdownV2(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, text)
}

// FormatRecord renders a record as the user-facing notification message. The
// payload goes in a code block so one-tap copy works for the passcode.
func FormatRecord(rec record.Record) Message {
	var b strings.Builder

	b.WriteString("🔔 *New OTP received*\n\n")
	fmt.Fprintf(&b, "📱 *Sender:* %s\n", EscapeMarkdownV2(rec.Sender))
	fmt.Fprintf(
		&b, "🕐 *Observed:* %s\n",
		EscapeMarkdownV2(rec.ObservedAt.Format("2006-01-02 15:04:05 MST")),
	)
	b.WriteString("\n💬 *Message:*\n")
	fmt.Fprintf(&b, "```\n%s\n```", escapeCodeBlock(rec.Payload))

	return Message{Text: b.String(), Markdown: true}
}

// escapeCodeBlock escapes the only characters MarkdownV2 treats specially
// inside a pre block.
func escapeCodeBlock(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	return strings.ReplaceAll(text, "`", "\\`")
}

// SplitText splits text into chunks of at most maxRunes runes, preferring to
// break on line boundaries so a split message stays readable.
func SplitText(text string, maxRunes int) []string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxRunes {
			chunks = append(chunks, string(runes))
			break
		}

		cut := maxRunes
		// Look backwards for a newline to break on, but never shrink
		// a chunk below half the cap.
		for i := maxRunes - 1; i > maxRunes/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]

		// Drop the newline we broke on.
		if len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}

	return chunks
}

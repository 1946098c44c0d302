package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/roasbeef/otpwatch/internal/record"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestEscapeMarkdownV2 asserts the characters Telegram treats specially come
// back escaped.
func TestEscapeMarkdownV2(t *testing.T) {
	t.Parallel()

	escaped := EscapeMarkdownV2("code_1 *now* [x](y) a-b. end!")
	require.Equal(t, `code\_1 \*now\* \[x\]\(y\) a\-b\. end\!`, escaped)
}

// TestFormatRecord asserts the notification carries the sender and payload,
// with the payload framed as a code block.
func TestFormatRecord(t *testing.T) {
	t.Parallel()

	rec := record.FromRaw(record.RawRecord{
		Sender:  "ACME",
		Message: "Your code is 123-456. Don't share it!",
	}, time.Unix(1700000000, 0).UTC())

	msg := FormatRecord(rec)
	require.True(t, msg.Markdown)
	require.Contains(t, msg.Text, "ACME")

	// The payload lands inside a code block, unescaped except for the
	// block delimiters themselves.
	require.Contains(
		t, msg.Text, "```\nYour code is 123-456. Don't share it!\n```",
	)
}

// TestFormatRecordEscapesBackticks asserts a payload cannot break out of its
// code block.
func TestFormatRecordEscapesBackticks(t *testing.T) {
	t.Parallel()

	rec := record.FromRaw(record.RawRecord{
		Sender:  "ACME",
		Message: "evil ``` breakout",
	}, time.Unix(1700000000, 0).UTC())

	msg := FormatRecord(rec)
	require.NotContains(t, msg.Text, "evil ``` breakout")
	require.Contains(t, msg.Text, "evil \\`\\`\\` breakout")
}

// TestSplitTextShort asserts that text within the cap is passed through as a
// single chunk.
func TestSplitTextShort(t *testing.T) {
	t.Parallel()

	chunks := SplitText("hello", 10)
	require.Equal(t, []string{"hello"}, chunks)
}

// TestSplitTextPrefersLineBreaks asserts long text splits on a newline
// rather than mid-line.
func TestSplitTextPrefersLineBreaks(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("aaaa\n", 10) // 50 runes
	chunks := SplitText(text, 22)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len([]rune(chunk)), 22)
	}

	// Every chunk is whole lines.
	for _, chunk := range chunks {
		for _, line := range strings.Split(
			strings.TrimRight(chunk, "\n"), "\n",
		) {
			if line != "" {
				require.Equal(t, "aaaa", line)
			}
		}
	}
}

// TestSplitTextProperties checks the structural invariants of the splitter
// for arbitrary input: no chunk over the cap, nothing lost except the
// newlines chosen as break points.
func TestSplitTextProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringOfN(
			rapid.RuneFrom([]rune("ab\ncd 0123456789")), 0, 500, -1,
		).Draw(rt, "text")
		maxRunes := rapid.IntRange(4, 64).Draw(rt, "max_runes")

		chunks := SplitText(text, maxRunes)

		var totalRunes int
		for _, chunk := range chunks {
			n := len([]rune(chunk))
			require.LessOrEqual(rt, n, maxRunes)
			totalRunes += n
		}

		// Break points drop at most one newline per boundary.
		textRunes := len([]rune(text))
		require.LessOrEqual(rt, totalRunes, textRunes)
		require.GreaterOrEqual(
			rt, totalRunes, textRunes-max(len(chunks)-1, 0),
		)
	})
}

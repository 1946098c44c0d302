package record

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	// markupRe strips any HTML tag remnants that survive scraping.
	markupRe = regexp.MustCompile(`<[^>]*>`)

	// spaceRe collapses runs of whitespace into a single space.
	spaceRe = regexp.MustCompile(`\s+`)
)

// zeroWidthReplacer removes zero-width and BOM code points that the upstream
// page occasionally injects between re-renders of the same message.
var zeroWidthReplacer = strings.NewReplacer(
	"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "",
)

// normalize reduces a scraped field to its canonical form: markup stripped,
// zero-width characters removed, whitespace collapsed, surrounding space
// trimmed. Two upstream renderings of the same logical content normalize to
// the same string, while any material difference survives.
func normalize(s string) string {
	s = markupRe.ReplaceAllString(s, " ")
	s = zeroWidthReplacer.Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// Fingerprint derives the stable identity of a raw record. It hashes the
// normalized sender and message content only: upstream row ids may be absent
// or reused, and the upstream timestamp jitters between re-renders of the
// same message, so neither participates in identity.
func Fingerprint(raw RawRecord) string {
	h := sha256.New()
	h.Write([]byte(normalize(raw.Sender)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(raw.Message)))

	return hex.EncodeToString(h.Sum(nil))
}

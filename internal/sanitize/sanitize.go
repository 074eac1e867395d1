// Package sanitize prepares untrusted message text for analysis by a language model.
//
// Stages run in a fixed order: markup stripping and entity decoding, injection-phrase redaction,
// PII redaction, then whitespace normalization and truncation. The pipeline is
// pure and total, and applying it to its own output is a no-op.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxLength is the default bound, in runes, on sanitized text
const DefaultMaxLength = 4000

// phoneRegion is the region assumed for numbers written without a country code
const phoneRegion = "US"

// Placeholder tokens substituted for redacted spans
const (
	InstructionPlaceholder = "[REDACTED_INSTRUCTION]"
	EmailPlaceholder       = "[EMAIL]"
	PhonePlaceholder       = "[PHONE]"
	CardPlaceholder        = "[CARD_NUMBER]"
	GovIDPlaceholder       = "[GOV_ID]"
	URIPlaceholder         = "[REMOVED_URI]"
	TruncationMarker       = "[TRUNCATED]"
)

var (
	reEntity    = regexp.MustCompile(`&(?:#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6}|[A-Za-z][A-Za-z0-9]{1,31});?`)
	reActiveURI = regexp.MustCompile(`(?i)\b(?:(?:javascript|vbscript)\s*:|data:[a-z]+/[a-z0-9.+\-]+[;,])[^\s"'<>)]*`)

	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget|override|bypass)\s+(?:all\s+|any\s+)?(?:of\s+)?(?:the\s+|your\s+|my\s+)?(?:previous|prior|above|earlier|preceding|system|original)\s+(?:instructions?|prompts?|rules|directions|directives|guidelines|context)\b`),
		regexp.MustCompile(`(?i)\b(?:disregard|forget|abandon)\s+(?:your|the)\s+(?:role|instructions?|rules|guidelines)\b`),
		regexp.MustCompile(`(?i)\bnew\s+(?:instructions?|rules|role)\s*:`),
		regexp.MustCompile(`(?i)\byou\s+are\s+now\b`),
		regexp.MustCompile(`(?i)\b(?:act|behave|respond)\s+as\s+(?:if\s+you\s+(?:are|were)\s+)?(?:an?\s+)?(?:different|unrestricted|jailbroken)\b`),
		regexp.MustCompile(`(?i)\b(?:sudo|admin|administrator|root|developer|god|dan|jailbreak)\s+mode\b`),
		regexp.MustCompile(`(?i)(?:^|\b)(?:system|assistant)\s*:`),
		regexp.MustCompile(`(?i)<\|[a-z_]+\|>`),
		regexp.MustCompile(`(?i)\[/?(?:INST|SYS)\]`),
		regexp.MustCompile(`(?i)\b(?:mark|classify|label|rate)\s+this\s+(?:email|message)\s+as\s+(?:safe|legitimate|benign|not\s+phishing)\b`),
	}

	reEmail = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)
	reCard  = regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`)
	reSSN   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	reNINO  = regexp.MustCompile(`\b[A-CEGHJ-PR-TW-Z]{2}\s?\d{2}\s?\d{2}\s?\d{2}\s?[A-D]\b`)
	rePhone = []*regexp.Regexp{
		regexp.MustCompile(`\+\d{1,3}(?:[\s.\-]?\(?\d{1,4}\)?){2,5}`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[\s.\-]?\d{4}\b`),
		regexp.MustCompile(`\b\d{3}[\s.\-]\d{3}[\s.\-]\d{4}\b`),
		regexp.MustCompile(`\b0\d{2,4}[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}\b`),
	}
	// digit runs the fixed phone formats miss, confirmed with libphonenumber metadata
	rePhoneCandidate = regexp.MustCompile(`\+?\d[\d \-.()]{6,}\d`)

	reHorizontalSpace = regexp.MustCompile(`[ \t\f\v\r\x{00A0}\x{200B}\x{FEFF}]+`)
	reLineEdges       = regexp.MustCompile(` *\n *`)
	reBlankLines      = regexp.MustCompile(`\n{3,}`)
)

// hiddenElements have their content dropped along with their tags
var hiddenElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"object":   true,
	"embed":    true,
	"template": true,
	"head":     true,
}

// Sanitizer runs the sanitization pipeline with a configured length bound
type Sanitizer struct {
	maxLength int
}

// New creates a Sanitizer; a non-positive maxLength selects DefaultMaxLength
func New(maxLength int) *Sanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Sanitizer{maxLength: maxLength}
}

// Sanitize runs the pipeline with DefaultMaxLength
func Sanitize(text string) string {
	return New(DefaultMaxLength).Sanitize(text)
}

// MaxLength returns the configured rune bound
func (s *Sanitizer) MaxLength() int {
	return s.maxLength
}

// Sanitize strips markup, redacts injection phrasing and PII, and bounds the length
func (s *Sanitizer) Sanitize(text string) string {
	return s.SanitizeWithLimit(text, s.maxLength)
}

// SanitizeWithLimit is Sanitize with an explicit rune bound for short fields
func (s *Sanitizer) SanitizeWithLimit(text string, maxLength int) string {
	if text == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = s.maxLength
	}

	text = norm.NFKC.String(strings.ToValidUTF8(text, ""))
	text = StripMarkup(text)
	text = RedactInjections(text)
	text = RedactPII(text)
	text = NormalizeWhitespace(text)
	return Truncate(text, maxLength)
}

// StripMarkup removes HTML tags, comments, hidden element content and active URIs,
// and decodes character references. References that decode to markup characters
// stay encoded so the result is stable under repeated stripping.
func StripMarkup(text string) string {
	for i := 0; i < 3; i++ {
		stripped := stripTags(text)
		stripped = DecodeEntities(stripped)
		stripped = reActiveURI.ReplaceAllString(stripped, URIPlaceholder)
		if stripped == text {
			break
		}
		text = stripped
	}
	return text
}

func stripTags(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	z := html.NewTokenizer(strings.NewReader(text))
	hiddenDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if hiddenDepth == 0 {
				b.Write(z.Raw())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if hiddenElements[string(name)] {
				hiddenDepth++
			} else if isBlockElement(string(name)) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if hiddenElements[string(name)] && hiddenDepth > 0 {
				hiddenDepth--
			} else if isBlockElement(string(name)) {
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "br" {
				b.WriteByte('\n')
			}
		}
	}
}

// DecodeEntities replaces character references with the text they stand for,
// except where the decoded text would contain '<', '>' or '&'
func DecodeEntities(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}
	return reEntity.ReplaceAllStringFunc(text, func(ref string) string {
		decoded := norm.NFKC.String(html.UnescapeString(ref))
		if decoded == ref || strings.ContainsAny(decoded, "<>&") {
			return ref
		}
		return decoded
	})
}

func isBlockElement(name string) bool {
	switch name {
	case "p", "div", "br", "li", "tr", "table", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote":
		return true
	}
	return false
}

// RedactInjections replaces known prompt-injection phrasing with a neutral placeholder
func RedactInjections(text string) string {
	for _, re := range injectionPatterns {
		text = re.ReplaceAllString(text, InstructionPlaceholder)
	}
	return text
}

// RedactPII replaces emails, card numbers, government ids and phone numbers with typed placeholders
func RedactPII(text string) string {
	text = reEmail.ReplaceAllString(text, EmailPlaceholder)
	text = reCard.ReplaceAllString(text, CardPlaceholder)
	text = reSSN.ReplaceAllString(text, GovIDPlaceholder)
	text = reNINO.ReplaceAllString(text, GovIDPlaceholder)
	for _, re := range rePhone {
		text = re.ReplaceAllString(text, PhonePlaceholder)
	}
	return rePhoneCandidate.ReplaceAllStringFunc(text, func(candidate string) string {
		if isPhoneNumber(candidate) {
			return PhonePlaceholder
		}
		return candidate
	})
}

func isPhoneNumber(candidate string) bool {
	num, err := phonenumbers.Parse(candidate, phoneRegion)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

// ContainsPII reports whether text still holds an email or phone-like pattern
func ContainsPII(text string) bool {
	if reEmail.MatchString(text) || reCard.MatchString(text) || reSSN.MatchString(text) {
		return true
	}
	for _, re := range rePhone {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// NormalizeWhitespace collapses horizontal whitespace and runs of blank lines
func NormalizeWhitespace(text string) string {
	text = reHorizontalSpace.ReplaceAllString(text, " ")
	text = reLineEdges.ReplaceAllString(text, "\n")
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Truncate bounds text to maxLength runes, appending TruncationMarker when it cuts
func Truncate(text string, maxLength int) string {
	if maxLength <= 0 || utf8.RuneCountInString(text) <= maxLength {
		return text
	}

	// already-truncated output keeps its marker
	if body, ok := strings.CutSuffix(text, "\n"+TruncationMarker); ok && utf8.RuneCountInString(body) <= maxLength {
		return text
	}

	count := 0
	cut := len(text)
	for i := range text {
		if count == maxLength {
			cut = i
			break
		}
		count++
	}

	return strings.TrimRight(text[:cut], " \n") + "\n" + TruncationMarker
}

package bot

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	phonePattern = regexp.MustCompile(`^\+998[0-9]{9}$`)
	jshirPattern = regexp.MustCompile(`^[0-9]{14}$`)
	shoutPattern = regexp.MustCompile(`^[A-Z\s!]{50,}$`)
	scriptTag    = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	separators   = strings.NewReplacer(" ", "", "-", "", "\t", "")
)

// NormalizePhone strips spaces and dashes and reports whether the result is an
// Uzbek number: +998 followed by nine digits.
func NormalizePhone(phone string) (string, bool) {
	cleaned := separators.Replace(strings.TrimSpace(phone))
	return cleaned, phonePattern.MatchString(cleaned)
}

// ValidJSHIR reports whether s is a 14-digit passport personal number.
func ValidJSHIR(s string) bool {
	return jshirPattern.MatchString(separators.Replace(strings.TrimSpace(s)))
}

// ValidFullName reports whether name has at least minWords words, only
// letters (apostrophes allowed inside Uzbek names) and at most maxLen characters.
func ValidFullName(name string, minWords, maxLen int) bool {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 2 || n > maxLen {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) && r != '\'' && r != '‘' && r != 'ʻ' {
			return false
		}
	}
	return len(strings.Fields(name)) >= minWords
}

// Sanitize removes script blocks and angle brackets and trims whitespace.
func Sanitize(s string) string {
	s = scriptTag.ReplaceAllString(s, "")
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	return strings.TrimSpace(s)
}

// Ticket text rejections.
var (
	ErrTextEmpty    = errors.New("text is empty")
	ErrTextTooShort = errors.New("text is too short")
	ErrTextTooLong  = errors.New("text is too long")
	ErrTextSpam     = errors.New("text looks like spam")
)

// CheckText validates ticket text length (in characters, after trimming) and
// rejects long runs of one character and long all-caps shouting.
func CheckText(text string, minLen, maxLen int) error {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	switch {
	case n == 0:
		return ErrTextEmpty
	case n < minLen:
		return ErrTextTooShort
	case n > maxLen:
		return ErrTextTooLong
	}
	if longestRun(text) > 20 || shoutPattern.MatchString(text) {
		return ErrTextSpam
	}
	return nil
}

func longestRun(s string) int {
	longest, run := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		longest = max(longest, run)
	}
	return longest
}

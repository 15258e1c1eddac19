package storage

import (
	"fmt"
	"net/url"
	"unicode/utf8"
)

const (
	titleMinLen       = 3
	titleMaxLen       = 140
	descriptionMinLen = 3
	descriptionMaxLen = 1000
	authorMaxLen      = 80
	contentMinLen     = 1
	contentMaxLen     = 1000
)

// ValidatePost checks the user-supplied fields of a new post. Lengths are
// counted in runes. URL is optional but must be an absolute http(s) URL
// when present. Violations are reported wrapped in ErrInvalidInput.
func ValidatePost(p Post) error {
	if n := utf8.RuneCountInString(p.Title); n < titleMinLen || n > titleMaxLen {
		return fmt.Errorf("%w: title must be %d-%d characters", ErrInvalidInput, titleMinLen, titleMaxLen)
	}
	if n := utf8.RuneCountInString(p.Description); n < descriptionMinLen || n > descriptionMaxLen {
		return fmt.Errorf("%w: description must be %d-%d characters", ErrInvalidInput, descriptionMinLen, descriptionMaxLen)
	}
	if p.URL != "" {
		u, err := url.Parse(p.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidInput)
		}
	}

	return nil
}

// ValidateComment checks the user-supplied fields of a new comment. Content
// is counted in runes with no trimming, so whitespace-only content passes.
func ValidateComment(c Comment) error {
	if utf8.RuneCountInString(c.Author) > authorMaxLen {
		return fmt.Errorf("%w: author must be at most %d characters", ErrInvalidInput, authorMaxLen)
	}
	if n := utf8.RuneCountInString(c.Content); n < contentMinLen || n > contentMaxLen {
		return fmt.Errorf("%w: content must be %d-%d characters", ErrInvalidInput, contentMinLen, contentMaxLen)
	}

	return nil
}

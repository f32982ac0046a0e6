// Package normalize computes comparison keys for records and owns markdown fencing.
//
// Every function here is pure: the same input yields the same output across
// processes, and stored records are never modified.
package normalize

import (
	"regexp"
	"strings"

	"github.com/starford/scenecorpus/internal/apperr"
)

const fence = "```"

var langTagRe = regexp.MustCompile(`^[A-Za-z0-9_+.-]*$`)

// Defence strips one outer markdown fence from code. Code that is not fenced
// is returned unchanged. Unbalanced fences, a missing newline after the opening
// marker, or a body that still contains a fence line are reported as
// apperr.ErrAmbiguousFence and code is returned as given, so
// Defence(Defence(x)) == Defence(x) holds for every x.
func Defence(code string) (string, error) {
	t := strings.TrimSpace(code)
	opens := strings.HasPrefix(t, fence)
	closes := strings.HasSuffix(t, fence)
	if !opens && !closes {
		return code, nil
	}
	if opens != closes || len(t) < 2*len(fence) {
		return code, apperr.ErrAmbiguousFence
	}

	first := strings.IndexByte(t, '\n')
	last := strings.LastIndexByte(t, '\n')
	if first < 0 || last < first {
		return code, apperr.ErrAmbiguousFence
	}
	if tag := strings.TrimSpace(t[len(fence):first]); !langTagRe.MatchString(tag) {
		return code, apperr.ErrAmbiguousFence
	}
	if strings.TrimSpace(t[last+1:]) != fence {
		return code, apperr.ErrAmbiguousFence
	}

	var body string
	if last > first {
		body = t[first+1 : last]
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), fence) {
			return code, apperr.ErrAmbiguousFence
		}
	}
	return strings.Trim(body, "\r\n"), nil
}

// IsFenced reports whether code starts or ends with a fence marker.
func IsFenced(code string) bool {
	t := strings.TrimSpace(code)
	return strings.HasPrefix(t, fence) || strings.HasSuffix(t, fence)
}

// Fence wraps code in a python fence for export. It refuses code that already
// carries a fence so a record can never be fenced twice.
func Fence(code string) (string, error) {
	if IsFenced(code) {
		return "", apperr.ErrAlreadyFenced
	}
	return fence + "python\n" + strings.TrimRight(code, "\r\n") + "\n" + fence, nil
}

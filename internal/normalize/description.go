package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DescriptionKey trims and collapses whitespace after NFC composition. It is
// case-sensitive.
func DescriptionKey(desc string) string {
	return strings.Join(strings.Fields(norm.NFC.String(desc)), " ")
}

// FoldKey case-folds a description key. Keys that differ only after folding
// are flagged as near-duplicates; they are never merged.
func FoldKey(key string) string {
	return cases.Fold().String(key)
}

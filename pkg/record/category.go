package record

import (
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Other is the catch-all category available for both types.
const Other = "Lainnya"

// Categories lists the allowed categories per transaction type.
var Categories = map[Type][]string{
	Income:  {"Gaji", "Freelance", "Bisnis", "Investasi", "Bonus", "Hadiah", Other},
	Expense: {"Makanan", "Transport", "Hiburan", "Belanja", "Tagihan", "Kesehatan", "Pendidikan", Other},
}

// maxSuggestDistance bounds how different a suggestion may be from the input.
const maxSuggestDistance = 3

// ValidateCategory checks that category belongs to t.
func ValidateCategory(t Type, category string) error {
	known, ok := Categories[t]
	if !ok {
		return ErrInvalidType
	}
	if slices.Contains(known, category) {
		return nil
	}
	return &CategoryError{Type: t, Category: category, Suggestion: Suggest(t, category)}
}

// Suggest returns the known category of type t closest to the input,
// or "" when nothing is within a few edits.
func Suggest(t Type, category string) string {
	input := strings.ToLower(strings.TrimSpace(category))
	if input == "" {
		return ""
	}

	best := ""
	bestDist := maxSuggestDistance + 1
	for _, c := range Categories[t] {
		d := levenshtein.ComputeDistance(input, strings.ToLower(c))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

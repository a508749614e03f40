package domain

import (
	"regexp"
	"slices"
)

var mccPattern = regexp.MustCompile(`^[0-9]{4}$`)

// normalizeCategories de-duplicates and sorts merchant category codes.
func normalizeCategories(codes []string) []string {
	if len(codes) == 0 {
		return []string{}
	}
	out := slices.Clone(codes)
	slices.Sort(out)
	return slices.Compact(out)
}

func validateCategories(allowed, blocked []string) []Violation {
	var violations []Violation

	for _, code := range allowed {
		if !mccPattern.MatchString(code) {
			violations = append(violations, Violation{Field: "allowed_categories", Message: "invalid merchant category code " + code})
		}
	}
	for _, code := range blocked {
		if !mccPattern.MatchString(code) {
			violations = append(violations, Violation{Field: "blocked_categories", Message: "invalid merchant category code " + code})
		}
		if slices.Contains(allowed, code) {
			violations = append(violations, Violation{Field: "blocked_categories", Message: "category " + code + " cannot be both allowed and blocked"})
		}
	}

	return violations
}

// Package cli holds helpers shared by the command-line entrypoints
package cli

import (
	"fmt"
	"strings"
	"unicode"
)

// shell metacharacters that have no business in a path argument
var forbiddenSubstrings = []string{";", "&&", "||", "|", "`", "$(", "../", "..\\"}

// ValidateInput rejects argument values that look like injection attempts:
// shell metacharacters, parent-directory traversal, and control characters.
func ValidateInput(input string) error {
	for _, sub := range forbiddenSubstrings {
		if strings.Contains(input, sub) {
			return fmt.Errorf("argument contains forbidden sequence %q", sub)
		}
	}
	for _, r := range input {
		if unicode.IsControl(r) {
			return fmt.Errorf("argument contains control character %q", r)
		}
	}
	return nil
}

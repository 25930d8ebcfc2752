// Package normalize turns raw reducer output into a self-describing test.
package normalize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/fentz26/crashcorpus/internal/directive"
)

// bookkeeping matches lines the compiler emits that carry no meaning for a
// reproduction and differ between otherwise identical outputs.
var bookkeeping = []*regexp.Regexp{
	regexp.MustCompile(`^source_filename\b`),
	regexp.MustCompile(`^; ModuleID\b`),
	regexp.MustCompile(`^; Function Attrs:`),
}

// IsBookkeeping reports whether a candidate line should be dropped.
func IsBookkeeping(line string) bool {
	for _, re := range bookkeeping {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Header returns the comment block of the original test.
func Header(original string) ([]string, error) {
	return directive.ReadCommentLines(original)
}

// Apply returns candidate content with bookkeeping lines and any copy of a
// header line removed, and header prepended. Apply is idempotent:
// Apply(h, Apply(h, c)) == Apply(h, c).
func Apply(header []string, candidate string) string {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[strings.TrimRight(h, "\r\n")] = true
	}

	var b strings.Builder
	for _, h := range header {
		b.WriteString(h)
	}
	for _, line := range strings.SplitAfter(candidate, "\n") {
		if line == "" {
			continue
		}
		bare := strings.TrimRight(line, "\r\n")
		if IsBookkeeping(bare) || seen[bare] {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// Rewrite normalizes the candidate file in place.
func Rewrite(header []string, candidate string) error {
	info, err := os.Stat(candidate)
	if err != nil {
		return fmt.Errorf("stat candidate: %w", err)
	}
	data, err := os.ReadFile(candidate)
	if err != nil {
		return fmt.Errorf("read candidate: %w", err)
	}
	out := Apply(header, string(data))
	if err := os.WriteFile(candidate, []byte(out), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write candidate: %w", err)
	}
	return nil
}

// RewriteFrom normalizes candidate using the comment block of original.
func RewriteFrom(original, candidate string) error {
	header, err := Header(original)
	if err != nil {
		return err
	}
	return Rewrite(header, candidate)
}

// ReplaceRunLine swaps only the RUN line of path, leaving the body as is.
func ReplaceRunLine(path string, d *directive.Directive) error {
	return directive.ReplaceRunLine(path, d)
}

package directive

import (
	"fmt"
	"os"
	"strings"
)

// Extract returns the RUN directive of the test at path. Errors that describe
// a malformed test wrap ErrNoDirective; I/O errors are returned as-is.
func Extract(path string) (*Directive, error) {
	prefix, ok := RunPrefix(path)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported extension for %s", ErrNoDirective, path)
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		body := line[len(prefix):]
		// A FileCheck pipeline is not part of the reproduction.
		if i := strings.Index(body, "|"); i >= 0 {
			body = body[:i]
		}
		body = strings.TrimSpace(body)
		if !strings.Contains(body, Placeholder) {
			return nil, fmt.Errorf("%w: no %s in RUN line of %s", ErrNoDirective, Placeholder, path)
		}
		return Parse(body)
	}
	return nil, fmt.Errorf("%w: no RUN line in %s", ErrNoDirective, path)
}

// Valid reports whether path carries a usable directive.
func Valid(path string) bool {
	_, err := Extract(path)
	return err == nil
}

// RunLine formats d as a complete RUN line for a file like path.
func RunLine(path string, d *Directive) (string, error) {
	prefix, ok := RunPrefix(path)
	if !ok {
		return "", fmt.Errorf("%w: unsupported extension for %s", ErrNoDirective, path)
	}
	return prefix + " " + d.String() + "\n", nil
}

// ReadCommentLines returns every comment line of the file, newline
// terminated, except the bookkeeping lines the IR printer emits itself.
func ReadCommentLines(path string) ([]string, error) {
	prefix, ok := CommentPrefix(path)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported extension for %s", ErrNoDirective, path)
	}
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		if IsPrinterComment(trimmed) {
			continue
		}
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		out = append(out, line)
	}
	return out, nil
}

// IsPrinterComment reports comment lines emitted by the IR printer.
func IsPrinterComment(trimmed string) bool {
	return strings.HasPrefix(trimmed, "; Function Attrs") || strings.HasPrefix(trimmed, "; ModuleID")
}

// ReplaceRunLine rewrites every RUN line of path with d, leaving the rest of
// the file untouched.
func ReplaceRunLine(path string, d *Directive) error {
	prefix, ok := RunPrefix(path)
	if !ok {
		return fmt.Errorf("%w: unsupported extension for %s", ErrNoDirective, path)
	}
	newLine, err := RunLine(path, d)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			b.WriteString(newLine)
			continue
		}
		b.WriteString(line)
	}
	return os.WriteFile(path, []byte(b.String()), info.Mode().Perm())
}

// readLines splits a file into lines, each keeping its terminator.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

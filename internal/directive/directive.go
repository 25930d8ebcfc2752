// Package directive extracts and rewrites the RUN directives embedded in
// self-describing test files.
//
// A directive is the reproduction command of a test, written in its leading
// comment block as
//
//	; RUN: opt -instcombine -S < %s | FileCheck %s
//
// Everything after the first '|' is output verification and is discarded.
// The placeholder %s stands for the path of the test itself and must occur
// at least once.
package directive

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Placeholder is the token standing for "path to this file".
const Placeholder = "%s"

// ErrNoDirective indicates a file carries no valid RUN directive. It marks a
// malformed or unsupported test, not a failure of the caller.
var ErrNoDirective = errors.New("no valid run directive")

// commentPrefixes is the fixed extension to comment-prefix mapping.
var commentPrefixes = map[string]string{
	".ll":  ";",
	".c":   "//",
	".cc":  "//",
	".cpp": "//",
	".cxx": "//",
	".s":   "#",
}

// CommentPrefix returns the line-comment prefix for path's extension.
func CommentPrefix(path string) (string, bool) {
	p, ok := commentPrefixes[filepath.Ext(path)]
	return p, ok
}

// RunPrefix returns "<comment> RUN:" for path's extension.
func RunPrefix(path string) (string, bool) {
	p, ok := CommentPrefix(path)
	if !ok {
		return "", false
	}
	return p + " RUN:", true
}

// StderrToStdout is the Stderr value of a `2>&1` that precedes any stdout
// redirection: stderr joins the captured stdout stream.
const StderrToStdout = "&1"

// Directive is a parsed command template. Name is the command, Args its
// arguments and Stdin the operand of a '<' redirection, if any. Stdout and
// Stderr are redirection targets; a Stderr equal to Stdout shares the file.
// Any of Args and the redirection targets may contain the placeholder.
type Directive struct {
	Raw    string
	Name   string
	Args   []string
	Stdin  string
	Stdout string
	Stderr string
}

// redirectOps are the supported redirection operators, longest first.
var redirectOps = []string{"2>&1", "&>", "1>", "2>", ">", "<"}

// splitRedirect recognizes a redirection word. It returns an empty op for an
// ordinary argument and an error for a redirection the executor cannot
// reproduce, such as appends, here-documents or descriptor duplication
// other than 2>&1.
func splitRedirect(w string) (op, target string, err error) {
	if !looksLikeRedirect(w) {
		return "", "", nil
	}
	for _, candidate := range redirectOps {
		if !strings.HasPrefix(w, candidate) {
			continue
		}
		target = w[len(candidate):]
		if candidate == "2>&1" && target != "" {
			break
		}
		if target != "" && strings.ContainsAny(target[:1], "<>&") {
			break
		}
		return candidate, target, nil
	}
	return "", "", fmt.Errorf("%w: unsupported redirection %q", ErrNoDirective, w)
}

// looksLikeRedirect reports words of the form [n]<..., [n]>... or &>...
func looksLikeRedirect(w string) bool {
	if strings.HasPrefix(w, "&>") {
		return true
	}
	i := 0
	for i < len(w) && w[i] >= '0' && w[i] <= '9' {
		i++
	}
	return i < len(w) && (w[i] == '<' || w[i] == '>')
}

// Parse tokenizes a directive body using shell word rules.
func Parse(text string) (*Directive, error) {
	text = strings.TrimSpace(text)
	words, err := shellquote.Split(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDirective, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrNoDirective)
	}

	d := &Directive{Raw: text, Name: words[0]}
	for i := 1; i < len(words); i++ {
		w := words[i]
		op, target, err := splitRedirect(w)
		if err != nil {
			return nil, err
		}
		if op == "" {
			d.Args = append(d.Args, w)
			continue
		}
		if op != "2>&1" && target == "" {
			if i+1 >= len(words) {
				return nil, fmt.Errorf("%w: dangling %q", ErrNoDirective, op)
			}
			i++
			target = words[i]
		}
		switch op {
		case "<":
			d.Stdin = target
		case ">", "1>":
			d.Stdout = target
		case "2>":
			d.Stderr = target
		case "&>":
			d.Stdout, d.Stderr = target, target
		case "2>&1":
			d.Stderr = StderrToStdout
			if d.Stdout != "" {
				d.Stderr = d.Stdout
			}
		}
	}
	return d, nil
}

// HasPlaceholder reports whether the template refers to its own file.
func (d *Directive) HasPlaceholder() bool {
	if strings.Contains(d.Stdin, Placeholder) {
		return true
	}
	for _, a := range d.Args {
		if strings.Contains(a, Placeholder) {
			return true
		}
	}
	return false
}

// Substitute returns a copy with every placeholder replaced by value.
func (d *Directive) Substitute(value string) *Directive {
	out := d.clone()
	for i, a := range out.Args {
		out.Args[i] = strings.ReplaceAll(a, Placeholder, value)
	}
	out.Stdin = strings.ReplaceAll(out.Stdin, Placeholder, value)
	out.Stdout = strings.ReplaceAll(out.Stdout, Placeholder, value)
	out.Stderr = strings.ReplaceAll(out.Stderr, Placeholder, value)
	out.Raw = out.String()
	return out
}

// HasArg reports whether flag occurs as a whole argument.
func (d *Directive) HasArg(flag string) bool {
	for _, a := range d.Args {
		if a == flag {
			return true
		}
	}
	return false
}

// ReplaceArg returns a copy in which every argument equal to old is replaced
// by the tokens in repl. An empty repl removes the argument.
func (d *Directive) ReplaceArg(old string, repl ...string) *Directive {
	out := d.clone()
	out.Args = out.Args[:0]
	for _, a := range d.Args {
		if a == old {
			out.Args = append(out.Args, repl...)
			continue
		}
		out.Args = append(out.Args, a)
	}
	out.Raw = out.String()
	return out
}

// WithoutArg returns a copy with every argument equal to flag removed.
func (d *Directive) WithoutArg(flag string) *Directive {
	return d.ReplaceArg(flag)
}

// WithName returns a copy running a different command.
func (d *Directive) WithName(name string) *Directive {
	out := d.clone()
	out.Name = name
	out.Raw = out.String()
	return out
}

// AppendArgs returns a copy with extra arguments.
func (d *Directive) AppendArgs(args ...string) *Directive {
	out := d.clone()
	out.Args = append(out.Args, args...)
	out.Raw = out.String()
	return out
}

// String renders the template back to a RUN-line body.
func (d *Directive) String() string {
	parts := make([]string, 0, len(d.Args)+6)
	parts = append(parts, quote(d.Name))
	for _, a := range d.Args {
		parts = append(parts, quote(a))
	}
	if d.Stdin != "" {
		parts = append(parts, "<", quote(d.Stdin))
	}
	return strings.Join(append(parts, d.Redirections(quote)...), " ")
}

// Redirections renders the output redirections in an order that reproduces
// them, with each target passed through render.
func (d *Directive) Redirections(render func(string) string) []string {
	var parts []string
	if d.Stderr == StderrToStdout {
		parts = append(parts, "2>&1")
	}
	if d.Stdout != "" {
		parts = append(parts, ">", render(d.Stdout))
	}
	switch {
	case d.Stderr == "" || d.Stderr == StderrToStdout:
	case d.Stderr == d.Stdout:
		parts = append(parts, "2>&1")
	default:
		parts = append(parts, "2>", render(d.Stderr))
	}
	return parts
}

func (d *Directive) clone() *Directive {
	out := *d
	out.Args = append([]string(nil), d.Args...)
	return &out
}

const shellSpecial = " \t\n'\"\\$`|&;()<>*?[]{}!#~"

// quote leaves plain tokens untouched so rendered RUN lines stay readable.
func quote(tok string) string {
	if tok == "" {
		return "''"
	}
	if strings.ContainsAny(tok, shellSpecial) {
		return shellquote.Join(tok)
	}
	return tok
}

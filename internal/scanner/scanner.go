// Package scanner is the Header Scanner (component C): it invokes the
// configured compiler in dependency-listing mode (-MM) for a translation
// unit and parses the Makefile-rule output into an ordered list of
// resolved header paths.
//
// The rule shape produced by -MM — "target: dep dep dep \<newline>  dep
// dep" — is a degenerate Makefile rule, so the tokenizer here (backslash-
// continuation joining, then whitespace splitting) is grounded on the
// retrieval pack's Makefile-rule parser (rule_parser.go's parseInputs /
// newWordScanner in the secondary example repo providing a Makefile
// evaluator): a bare prerequisite list with no recipe, which is exactly
// the shape -MM emits.
package scanner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"

	"github.com/syswonder/ruxgo/internal/rgerrors"
)

// Scan runs "compiler -MM -MT _ <flags...> src" and returns the ordered
// prerequisite list the compiler reports for src: src itself followed by
// the headers it depends on (the rule's placeholder target "_" is
// discarded). A non-zero exit or
// unparsable output is returned as a *rgerrors.ScanError, which the build
// planner treats as "this unit is dirty" rather than aborting the build.
func Scan(ctx context.Context, compiler, src string, cflags []string) ([]string, error) {
	argv := append([]string{"-MM", "-MT", "_"}, cflags...)
	argv = append(argv, src)
	cmd := exec.CommandContext(ctx, compiler, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &rgerrors.ScanError{Source: src, Cause: xerrors.Errorf("%s -MM: %w: %s", compiler, err, stderr.String())}
	}
	return parseRule(stdout.Bytes())
}

// parseRule joins backslash-newline continuations, splits the joined rule
// on the first ':', and whitespace-tokenizes the prerequisite side,
// keeping a backslash-escaped space inside its token.
func parseRule(out []byte) ([]string, error) {
	joined := joinContinuations(string(out))
	idx := strings.IndexByte(joined, ':')
	if idx < 0 {
		return nil, xerrors.New("no rule separator ':' in scanner output")
	}
	prereqs := joined[idx+1:]
	fields := strings.Fields(prereqs)
	headers := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		for strings.HasSuffix(f, "\\") && f != "\\" && i+1 < len(fields) {
			i++
			f += " " + fields[i]
		}
		f = unescapeToken(f)
		if f == "" || f == "\\" {
			continue
		}
		headers = append(headers, f)
	}
	return headers, nil
}

func joinContinuations(s string) string {
	var b strings.Builder
	lines := strings.Split(s, "\n")
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasSuffix(trimmed, "\\") {
			b.WriteString(trimmed[:len(trimmed)-1])
			b.WriteByte(' ')
			continue
		}
		b.WriteString(trimmed)
		b.WriteByte(' ')
	}
	return b.String()
}

// unescapeToken undoes the "\ " and "\#" escaping compilers emit for
// spaces and '#' inside -MM prerequisite paths.
func unescapeToken(tok string) string {
	if !strings.Contains(tok, "\\") {
		return tok
	}
	var b strings.Builder
	for i := 0; i < len(tok); i++ {
		if tok[i] == '\\' && i+1 < len(tok) && (tok[i+1] == ' ' || tok[i+1] == '#') {
			b.WriteByte(tok[i+1])
			i++
			continue
		}
		b.WriteByte(tok[i])
	}
	return b.String()
}

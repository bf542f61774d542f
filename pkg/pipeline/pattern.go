package pipeline

import (
	"path"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/pattern"
)

// metaMode matches the expansion mode of the Matcher: "*" and "?" stop at slashes and braces expand
const metaMode = pattern.Filenames | pattern.Braces

// CompilePattern converts a slash separated glob into an anchored regular expression.
// "*" never crosses a slash while a "**" segment matches any number of directories. A backslash escapes
// the following character.
func CompilePattern(glob string) (*regexp.Regexp, error) {
	glob = path.Clean(glob)
	parts := strings.Split(glob, "/")

	var buf strings.Builder
	buf.WriteString("^")
	for idx, part := range parts {
		last := idx == len(parts)-1
		if part == "**" {
			if last {
				buf.WriteString(".*")
			} else {
				buf.WriteString("(?:[^/]*/)*")
			}
			continue
		}

		expr, err := pattern.Regexp(part, metaMode)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid pattern %s", glob)
		}

		buf.WriteString(expr)
		if !last {
			buf.WriteString("/")
		}
	}
	buf.WriteString("$")

	re, err := regexp.Compile(buf.String())
	if err != nil {
		return nil, eris.Wrapf(err, "invalid pattern %s", glob)
	}

	return re, nil
}

// HasMeta reports whether p contains unescaped glob meta characters
func HasMeta(p string) bool {
	return pattern.HasMeta(p, metaMode)
}

// QuoteMeta escapes all glob meta characters in p. The result is a pattern that only matches p itself.
// Directories that end up in patterns (project root, script directory) have to pass through this.
func QuoteMeta(p string) string {
	return pattern.QuoteMeta(p, metaMode)
}

func unquote(p string) string {
	if !strings.Contains(p, "\\") {
		return p
	}

	var buf strings.Builder
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' && i+1 < len(p) {
			i++
		}
		buf.WriteByte(p[i])
	}

	return buf.String()
}

// SplitPattern splits glob in front of the first segment containing meta characters. literal is unescaped
// and can be used as a plain path; rest is empty if glob contains no meta characters at all.
func SplitPattern(glob string) (literal, rest string) {
	parts := strings.Split(glob, "/")
	for idx, part := range parts {
		if !HasMeta(part) {
			continue
		}

		switch {
		case idx == 0:
			literal = ""
		case idx == 1 && parts[0] == "":
			literal = "/"
		default:
			literal = unquote(strings.Join(parts[:idx], "/"))
		}
		return literal, strings.Join(parts[idx:], "/")
	}

	return unquote(glob), ""
}

// GlobBase returns the unescaped directory part of a glob in front of its first meta character.
func GlobBase(glob string) string {
	literal, rest := SplitPattern(glob)
	if rest == "" {
		return path.Dir(literal)
	}

	if literal == "" {
		return "."
	}

	return literal
}

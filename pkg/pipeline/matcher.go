package pipeline

import (
	"context"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// Match is a single file found by the Matcher
type Match struct {
	Path string
	// Base is the directory part of the pattern that matched Path
	Base string
}

// Matcher resolves glob patterns to files. Relative patterns are resolved against Root.
type Matcher struct {
	Root string
}

// NewMatcher returns a Matcher for the given root directory
func NewMatcher(root string) *Matcher {
	return &Matcher{Root: root}
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	return ioutil.ReadDir(path)
}

// absPattern resolves a relative pattern against the escaped root
func (m *Matcher) absPattern(item string) string {
	item = filepath.ToSlash(item)
	if filepath.IsAbs(filepath.FromSlash(item)) {
		return path.Clean(item)
	}

	return path.Join(QuoteMeta(filepath.ToSlash(m.Root)), item)
}

// globWord builds the shell word for a relative glob. Segments without meta characters are single quoted
// so spaces, quotes and "$" are never interpreted by the shell expander.
func globWord(glob string) *syntax.Word {
	word := &syntax.Word{}
	for idx, segment := range strings.Split(glob, "/") {
		if idx > 0 {
			word.Parts = append(word.Parts, &syntax.Lit{Value: "/"})
		}

		if HasMeta(segment) {
			word.Parts = append(word.Parts, &syntax.Lit{Value: segment})
		} else if segment != "" {
			word.Parts = append(word.Parts, &syntax.SglQuoted{Value: unquote(segment)})
		}
	}

	return word
}

// Match resolves the given patterns in order. A pattern starting with "!" removes previous matches.
// The result contains each regular file at most once, at the position of its first match. No matches
// at all is not an error.
//
// Relative patterns are resolved against the root which is taken literally. Meta characters in absolute
// patterns have to be escaped with a backslash to match literally (see QuoteMeta).
func (m *Matcher) Match(ctx context.Context, patterns []string) ([]Match, error) {
	result := []Match{}
	seen := make(map[string]bool)

	add := func(item, match, base string) error {
		if seen[match] {
			return nil
		}

		info, err := os.Stat(match)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return nil
			}

			return &MatcherError{Pattern: item, Err: err}
		}

		if info.IsDir() {
			return nil
		}

		seen[match] = true
		result = append(result, Match{Path: match, Base: base})
		return nil
	}

	for _, item := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if strings.HasPrefix(item, "!") {
			exclude, err := CompilePattern(m.absPattern(item[1:]))
			if err != nil {
				return nil, &MatcherError{Pattern: item, Err: err}
			}

			kept := result[:0]
			for _, match := range result {
				if exclude.MatchString(filepath.ToSlash(match.Path)) {
					delete(seen, match.Path)
					continue
				}
				kept = append(kept, match)
			}
			result = kept
			continue
		}

		literal, glob := SplitPattern(m.absPattern(item))
		if glob == "" {
			match := filepath.FromSlash(literal)
			if err := add(item, match, filepath.Dir(match)); err != nil {
				return nil, err
			}
			continue
		}

		// The literal directory never goes through the expander; it's only used as the working directory.
		base := filepath.FromSlash(literal)
		if base == "" {
			base = "."
		}

		cfg := expand.Config{
			Env:      expand.ListEnviron("PWD=" + base),
			ReadDir:  shellReadDir,
			GlobStar: true,
			NullGlob: true,
		}

		matches, err := expand.Fields(&cfg, globWord(glob))
		if err != nil {
			return nil, &MatcherError{Pattern: item, Err: err}
		}

		for _, match := range matches {
			if err := add(item, filepath.Join(base, filepath.FromSlash(match)), base); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

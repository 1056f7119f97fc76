// Package gitignore matches paths against gitignore rules.
//
// Each gitignore line is compiled into doublestar globs, so the syntax
// accepted here is the gitignore syntax described at
// https://git-scm.com/docs/gitignore (wildcards, **, rooted patterns,
// negation, directory-only patterns and nested files).
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!keep.log")
//	_ = m.AddFromFile("/repo/src/.gitignore", "src")
//
//	if m.Match("src/debug.log", false) {
//	    // ignored
//	}
package gitignore

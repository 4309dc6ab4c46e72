// Package guardian judges whether a tool output can be trusted and keeps the
// durable record of every pause it causes.
//
// Inspect runs a fixed sequence of checks over one output: explicit error
// markers, empty output, repeated near-identical segments, text in a script
// other than the project's language, and (when topic keywords are
// configured) long output that never mentions the project. The first check
// that fires with enough confidence produces an anomaly verdict. The Guardian
// never touches loop state; the caller pauses and persists an AnomalyRecord
// through the Store.
//
// Records are Markdown files with YAML frontmatter, one per anomaly, and are
// never deleted. A resolution (retry, ignore or skip plus an instruction) is
// appended to a record exactly once.
package guardian

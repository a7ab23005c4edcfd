// Package language normalizes the language identifiers that flow through
// jobs, page records, and prompts. Operators write whatever form they know
// ("la", "lat", "Latin", "ancient greek"); storage keeps one canonical code
// and prompt text gets a readable name.
package language

package synth

import "fmt"

// Defaults for the completion request.
const (
	DefaultSystemPrompt = "You are a helpful assistant that writes SQL queries for DuckDB."
	DefaultMaxTokens    = 512
	DefaultTemperature  = 0.1
)

const generateTemplate = `You are an expert SQL developer. The target database is DuckDB (https://duckdb.org/), which is similar to PostgreSQL/SQLite but has its own quirks.

Given the following table schema (actual loaded tables and columns):
%s

And the following rule description:
%s

Write a valid DuckDB SQL query for this rule. Output only the SQL code, nothing else.`

// GeneratePrompt builds the prompt asking for SQL that implements rule
// over the tables in descriptor.
func GeneratePrompt(descriptor, rule string) string {
	return fmt.Sprintf(generateTemplate, descriptor, rule)
}

// FixPrompt extends the generation prompt with the failed SQL, the
// engine's error and a repair instruction.
func FixPrompt(descriptor, rule, sql, errText string) string {
	return GeneratePrompt(descriptor, rule) +
		"\n\nPrevious SQL:\n" + sql +
		"\n\nDuckDB error: " + errText +
		"\nPlease fix the SQL and output only the corrected SQL code."
}

package dbutil

import (
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

var limitRegex = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Finalize turns builder output into postgres syntax: "LIMIT ?,?" becomes
// "LIMIT ? OFFSET ?", backtick quoted identifiers become double quoted and
// placeholders are rebound to $n.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	query = strings.ReplaceAll(query, "`", `"`)
	loc := limitRegex.FindStringIndex(query)
	if loc != nil {
		prefix := query[:loc[0]]
		qCount := strings.Count(prefix, "?")
		if qCount+1 < len(args) {
			args[qCount], args[qCount+1] = args[qCount+1], args[qCount]
			query = limitRegex.ReplaceAllString(query, "LIMIT ? OFFSET ?")
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

// FinalizeFor applies Finalize only for drivers that bind with $n. Drivers
// using "?" understand the builder output as is.
func FinalizeFor(driver string, query string, args []interface{}) (string, []interface{}) {
	if sqlx.BindType(driver) != sqlx.DOLLAR {
		return query, args
	}
	return Finalize(query, args)
}

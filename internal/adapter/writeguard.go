package adapter

import "strings"

// writeKeywords are the statement-leading keywords considered a write for
// the purposes of the read-only policy. Anything else (SELECT, WITH ... AS
// MATERIALIZED used read-only, SHOW, EXPLAIN) is allowed through.
var writeKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "TRUNCATE", "ALTER", "DROP", "CREATE", "GRANT", "REVOKE",
}

func isWriteStatement(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	for _, kw := range writeKeywords {
		if len(trimmed) >= len(kw) && strings.EqualFold(trimmed[:len(kw)], kw) {
			return true
		}
	}
	return false
}

package hook

import "regexp"

var ledgerLastPattern = regexp.MustCompile(`ledger\.last\(([A-Za-z0-9_]+)\)`)

// extractLedgerLastTopic returns the topic named in the first
// ledger.last(TOPIC) reference in s, or "" if there is none.
func extractLedgerLastTopic(s string) string {
	m := ledgerLastPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// rewriteLedgerLast rewrites ledger.last(TOPIC) to the plain dotted path
// ledger.last so the ordinary {{path.to.field}} resolver can walk into
// it, since the parenthesized topic argument is consumed once up front
// to populate data["ledger"]["last"].
func rewriteLedgerLast(s string) string {
	return ledgerLastPattern.ReplaceAllString(s, "ledger.last")
}

package storage

import "github.com/lib/pq"

// pqStringArray scans/values a Postgres text[] column as []string. The
// driver underneath is pgx, but pq.Array's wire format (the `{a,b,c}`
// array literal) is driver-agnostic, so it is reused here purely as a
// scan/value adapter rather than as a connection driver.
type pqStringArray = pq.StringArray

func pqArray(ss []string) pqStringArray {
	return pqStringArray(ss)
}

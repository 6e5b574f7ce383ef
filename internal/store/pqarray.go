package store

import "github.com/lib/pq"

// pqStringArray adapts a *[]string destination for scanning a Postgres
// text[] column via lib/pq.
func pqStringArray(dest *[]string) *pq.StringArray {
	return (*pq.StringArray)(dest)
}

// pqStringArrayValue adapts a []string for use as a text[] query
// argument via lib/pq.
func pqStringArrayValue(v []string) pq.StringArray {
	return pq.StringArray(v)
}

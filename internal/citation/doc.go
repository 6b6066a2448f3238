// Package citation defines the shared vocabulary of the resolver: citation
// keys, raw records, chain pointers and the error taxonomy.
//
// A Record is a CSL-JSON-like mapping. Terminal records carry citation
// content; chained records are aliases:
//
//	{"chained": {"cite_prefix": "doi", "cite_key": "10.1000/xyz", "set_properties": {"page": "3-5"}}}
//
// Once a Source has fetched a record and the orchestrator has stamped its id
// ("prefix:key"), the record is treated as immutable. Resolution builds new
// maps rather than editing stored ones.
package citation

// Package tokens persists account credentials in a local SQLite database.
//
// Each record is addressed by its identity key: the tuple
// (provider, flow, client ID, user identifier). An empty user identifier is
// the anonymous slot; lookups without an identifier return the most recently
// accessed record for the (provider, flow, client ID) triple, matching how a
// user expects "the account I used last" to behave across sessions.
//
// The store itself never interprets identifiers. The tilde convention
// ("~alice" forces reauthorization, then persists under "alice") belongs to
// the auth engine.
package tokens

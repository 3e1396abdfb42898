// Package domain contains the core domain types for the chainstate context.
package domain

// Capability classifies an RPC connection by the query types it can serve.
type Capability string

const (
	// CapabilityHistorical marks connections suitable for archival range queries.
	CapabilityHistorical Capability = "historical"
	// CapabilityNode marks connections suitable for live node queries.
	CapabilityNode Capability = "node"
	// CapabilityCombined marks connections that serve both query types.
	CapabilityCombined Capability = "combined"
)

// Satisfies reports whether a connection tagged with c can serve a request
// for the given capability. A combined connection serves everything; any
// other tag only serves requests for that same tag.
func (c Capability) Satisfies(want Capability) bool {
	if c == CapabilityCombined {
		return true
	}
	return c == want
}

// Valid reports whether c is a known capability tag.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityHistorical, CapabilityNode, CapabilityCombined:
		return true
	}
	return false
}

package sessions

import "github.com/ggoodman/mcp-coffee-shop/mcp"

// Session represents a negotiated MCP session. Implementations MUST be safe
// for concurrent use.
type Session interface {
	SessionID() string
	// ProtocolVersion is the negotiated MCP protocol version. It is empty
	// until the handshake completes.
	ProtocolVersion() string
	// ClientInfo is the identity the client declared during initialize.
	ClientInfo() mcp.ImplementationInfo
	// Capabilities is the client capability set declared during initialize.
	Capabilities() CapabilitySet
	// State reports where the session is in its lifecycle.
	State() State
}

// CapabilitySet captures the client capability surface negotiated at
// initialize. The server records it for logging and tools may inspect it.
type CapabilitySet struct {
	Roots            bool `json:"roots,omitempty"`
	RootsListChanged bool `json:"roots_list_changed,omitempty"`
	Sampling         bool `json:"sampling,omitempty"`
	Elicitation      bool `json:"elicitation,omitempty"`
}

// CapabilitySetFrom flattens the wire capabilities declared by a client.
func CapabilitySetFrom(c mcp.ClientCapabilities) CapabilitySet {
	cs := CapabilitySet{
		Sampling:    c.Sampling != nil,
		Elicitation: c.Elicitation != nil,
	}
	if c.Roots != nil {
		cs.Roots = true
		cs.RootsListChanged = c.Roots.ListChanged
	}
	return cs
}

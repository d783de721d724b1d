package wire

// Packet is the in-memory representation of one of the five wire variants.
// Which optional fields are meaningful depends on Kind; see the codec's
// Build/Parse for the exact per-kind tail layout.
type Packet struct {
	Kind      Kind
	AckStatus AckStatus
	Checksum  uint16
	ModuleID  uint32
	NodeID    uint32

	Sequence      uint32
	FragmentIndex uint32

	// Meaningful only for HEADER and FULL.
	TotalLength   uint32
	FragmentCount uint32

	// Meaningful only for DATA and FULL.
	Payload []byte
}

// ModuleName resolves the packet's module id against reg, producing a
// synthetic "unknown(N)" tag for unregistered ids.
func (p *Packet) ModuleName(reg *ModuleRegistry) string {
	return reg.NameForID(p.ModuleID)
}

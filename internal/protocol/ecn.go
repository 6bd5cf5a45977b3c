package protocol

// ECN is the ECN codepoint of a packet, as carried in the IP header.
type ECN uint8

const (
	// ECNNon is Not-ECT
	ECNNon ECN = iota
	// ECT1 is ECT(1)
	ECT1
	// ECT0 is ECT(0)
	ECT0
	// ECNCE is CE
	ECNCE
)

func (e ECN) String() string {
	switch e {
	case ECNNon:
		return "Not-ECT"
	case ECT1:
		return "ECT(1)"
	case ECT0:
		return "ECT(0)"
	case ECNCE:
		return "CE"
	default:
		return "invalid ECN value"
	}
}

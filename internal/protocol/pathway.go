package protocol

import (
	"fmt"
	"net/netip"
)

// A Pathway identifies one network route between a local and a remote address.
// It is comparable and is used as the key for per-connection path lookup.
type Pathway struct {
	Local  netip.AddrPort
	Remote netip.AddrPort
}

func (p Pathway) String() string {
	return fmt.Sprintf("%s <-> %s", p.Local, p.Remote)
}

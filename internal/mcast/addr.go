// Package mcast implements the multicast-facing pieces of the chat
// daemon: per-group address derivation, the transient group-message
// sender, and the UDP discovery responder.
package mcast

import "fmt"

// BasePort is the first port in the group multicast pool; group id
// id is assigned port BasePort+id.
const BasePort = 7000

// DeriveAddress computes the IPv4 multicast address and UDP port for
// group id, per SPEC_FULL.md §3: 239.0.0.(1+id) on port 7000+id.
func DeriveAddress(id uint32) (addr string, port uint16) {
	return fmt.Sprintf("239.0.0.%d", 1+id), uint16(BasePort + id)
}

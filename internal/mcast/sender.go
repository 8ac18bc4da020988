package mcast

import (
	"fmt"
	"net"
)

// SendGroupMessage opens a transient UDP socket addressed to the
// group's multicast endpoint and writes payload as a single datagram
// (SPEC_FULL.md §4.9). No TTL or loopback options are set, so system
// defaults apply (TTL 1, loopback enabled).
func SendGroupMessage(addr string, port uint16, payload []byte) error {
	raddr := &net.UDPAddr{IP: net.ParseIP(addr), Port: int(port)}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return fmt.Errorf("mcast: dial group %s:%d: %w", addr, port, err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("mcast: send to group %s:%d: %w", addr, port, err)
	}
	return nil
}

// FormatGroupMessage renders the plain-text group-message line sent
// to the multicast address: "[name] <login> display : message".
func FormatGroupMessage(groupName, senderLogin, senderDisplay, message string) string {
	return fmt.Sprintf("[%s] <%s> %s : %s", groupName, senderLogin, senderDisplay, message)
}

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
)

// headerSize is the fixed 4-byte [type(u16 BE)][length(u16 BE)] header
// that precedes every record's payload.
const headerSize = 4

// WriteRecord writes the 4-byte header followed by the payload in
// full, looping over short writes until complete. It fails with a
// wrapped I/O error on any short, zero, or failed write.
func WriteRecord(w io.Writer, typ RecordType, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("protocol: payload length %d exceeds u16 range", len(payload))
	}
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[0:2], uint16(typ))
	binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))

	if err := writeFull(w, header); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if err := writeFull(w, payload); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// writeFull loops over w.Write until all of buf has been written,
// failing on any zero-length write (which would otherwise loop
// forever) or any write error.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// ReadRecord reads exactly one record: a 4-byte header followed by
// exactly the declared payload length. A zero-length payload yields
// an empty, non-nil byte slice. It fails with a wrapped I/O error on
// short read or peer close mid-record.
func ReadRecord(r io.Reader) (RecordType, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("protocol: read header: %w", err)
	}
	typ := RecordType(binary.BigEndian.Uint16(header[0:2]))
	length := binary.BigEndian.Uint16(header[2:4])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("protocol: read payload: %w", err)
		}
	}
	return typ, payload, nil
}

// EncodeCommand packs a Command into a 4-byte big-endian payload for
// a COMMAND record. See DESIGN.md for why big-endian was chosen over
// the host-order reading the original protocol used.
func EncodeCommand(cmd Command) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(cmd))
	return buf
}

// DecodeCommand unpacks a COMMAND record's payload.
func DecodeCommand(payload []byte) (Command, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("protocol: command payload must be 4 bytes, got %d", len(payload))
	}
	return Command(binary.BigEndian.Uint32(payload)), nil
}

// EncodeStatus packs a Status into a 4-byte big-endian payload for a
// STATUS record.
func EncodeStatus(s Status) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(s))
	return buf
}

// DecodeStatus unpacks a STATUS record's payload.
func DecodeStatus(payload []byte) (Status, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("protocol: status payload must be 4 bytes, got %d", len(payload))
	}
	return Status(binary.BigEndian.Uint32(payload)), nil
}

// EncodeUint16 packs a single 16-bit big-endian integer payload.
func EncodeUint16(v uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return buf
}

// DecodeUint16 unpacks a UINT16 record's payload.
func DecodeUint16(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("protocol: uint16 payload must be 2 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint16(payload), nil
}

// EncodeGroupInfo packs a GroupInfo into its fixed-width GROUP_INFO
// payload: name[32] || mcast_ip[16] || mcast_port(u16) || id(u32).
func EncodeGroupInfo(gi GroupInfo) ([]byte, error) {
	if len(gi.Name) > groupInfoNameLen {
		return nil, fmt.Errorf("protocol: group name %q exceeds %d bytes", gi.Name, groupInfoNameLen)
	}
	if len(gi.McastAddr) > groupInfoIPLen {
		return nil, fmt.Errorf("protocol: mcast address %q exceeds %d bytes", gi.McastAddr, groupInfoIPLen)
	}
	buf := make([]byte, GroupInfoSize)
	copy(buf[0:groupInfoNameLen], gi.Name)
	copy(buf[groupInfoNameLen:groupInfoNameLen+groupInfoIPLen], gi.McastAddr)
	off := groupInfoNameLen + groupInfoIPLen
	binary.BigEndian.PutUint16(buf[off:off+2], gi.McastPort)
	binary.BigEndian.PutUint32(buf[off+2:off+6], gi.ID)
	return buf, nil
}

// DecodeGroupInfo unpacks a GROUP_INFO payload.
func DecodeGroupInfo(payload []byte) (GroupInfo, error) {
	if len(payload) != GroupInfoSize {
		return GroupInfo{}, fmt.Errorf("protocol: group_info payload must be %d bytes, got %d", GroupInfoSize, len(payload))
	}
	name := strings.TrimRight(string(payload[0:groupInfoNameLen]), "\x00")
	ip := strings.TrimRight(string(payload[groupInfoNameLen:groupInfoNameLen+groupInfoIPLen]), "\x00")
	off := groupInfoNameLen + groupInfoIPLen
	port := binary.BigEndian.Uint16(payload[off : off+2])
	id := binary.BigEndian.Uint32(payload[off+2 : off+6])
	return GroupInfo{Name: name, McastAddr: ip, McastPort: port, ID: id}, nil
}

// EncodeServerInfo packs a ServerInfo into its SERVER_INFO payload.
func EncodeServerInfo(si ServerInfo) []byte {
	buf := make([]byte, ServerInfoSize)
	copy(buf[0:4], si.IPv4[:])
	binary.BigEndian.PutUint16(buf[4:6], si.Port)
	return buf
}

// DecodeServerInfo unpacks a SERVER_INFO payload.
func DecodeServerInfo(payload []byte) (ServerInfo, error) {
	if len(payload) != ServerInfoSize {
		return ServerInfo{}, fmt.Errorf("protocol: server_info payload must be %d bytes, got %d", ServerInfoSize, len(payload))
	}
	var si ServerInfo
	copy(si.IPv4[:], payload[0:4])
	si.Port = binary.BigEndian.Uint16(payload[4:6])
	return si, nil
}

// ServerInfoFromAddr builds a ServerInfo from an IPv4 address and TCP
// port, for convenience at the discovery responder call site.
func ServerInfoFromAddr(ip net.IP, port uint16) (ServerInfo, error) {
	v4 := ip.To4()
	if v4 == nil {
		return ServerInfo{}, fmt.Errorf("protocol: %s is not an IPv4 address", ip)
	}
	var si ServerInfo
	copy(si.IPv4[:], v4)
	si.Port = port
	return si, nil
}

// EncodeActiveUsers renders active-session entries as newline
// terminated "<login> display" lines, stopping before the line that
// would push the payload past 1024 bytes.
func EncodeActiveUsers(entries [][2]string) []byte {
	var b strings.Builder
	for _, e := range entries {
		line := e[0] + " " + e[1] + "\n"
		if b.Len()+len(line) > MaxPayload {
			break
		}
		b.WriteString(line)
	}
	return []byte(b.String())
}

// ParseActiveUsers parses an ACTIVE_USERS payload into login/display
// pairs, skipping malformed lines.
func ParseActiveUsers(payload []byte) [][2]string {
	var out [][2]string
	for _, line := range strings.Split(string(payload), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, [2]string{parts[0], parts[1]})
	}
	return out
}

// EncodeGroupList renders group names as a newline-separated payload.
func EncodeGroupList(names []string) []byte {
	return []byte(strings.Join(names, "\n"))
}

// ParseGroupList splits a GROUP_LIST payload into group names.
func ParseGroupList(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	var out []string
	for _, name := range strings.Split(string(payload), "\n") {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

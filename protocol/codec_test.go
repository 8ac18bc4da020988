package protocol

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRecordRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     RecordType
		payload []byte
	}{
		{"empty payload", TypeDiscover, nil},
		{"zero length explicit", TypeStatus, []byte{}},
		{"short payload", TypeLogin, []byte("alice")},
		{"max field length", TypeUsername, bytes.Repeat([]byte("a"), MaxFieldLen)},
		{"max message length", TypeMessage, bytes.Repeat([]byte("x"), MaxPayload)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteRecord(&buf, tc.typ, tc.payload))

			gotType, gotPayload, err := ReadRecord(&buf)
			require.NoError(t, err)
			assert.Equal(t, tc.typ, gotType)
			assert.Equal(t, len(tc.payload), len(gotPayload))
			want := tc.payload
			if want == nil {
				// a zero-length record decodes to an empty, non-nil payload
				want = []byte{}
			}
			assert.Equal(t, want, gotPayload)
			assert.NotNil(t, gotPayload, "zero-length payload must be empty, not nil")
		})
	}
}

func TestReadRecordShortHeaderIsError(t *testing.T) {
	buf := bytes.NewReader([]byte{0x00, 0x01})
	_, _, err := ReadRecord(buf)
	assert.Error(t, err)
}

func TestReadRecordShortPayloadIsError(t *testing.T) {
	// Header declares 10 bytes of payload but only 3 are present.
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x04, 0x00, 0x0A})
	buf.Write([]byte{'a', 'b', 'c'})
	_, _, err := ReadRecord(&buf)
	assert.Error(t, err)
}

func TestReadRecordPeerCloseMidRecord(t *testing.T) {
	r, w := io.Pipe()
	go func() {
		w.Write([]byte{0x00, 0x04, 0x00, 0x05})
		w.Write([]byte{'a', 'b'})
		w.Close()
	}()
	_, _, err := ReadRecord(r)
	assert.Error(t, err)
}

func TestWriteRecordHeaderIsBigEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, RecordType(0x0102), []byte("ab")))
	header := buf.Bytes()[:4]
	assert.Equal(t, []byte{0x01, 0x02, 0x00, 0x02}, header)
}

func TestWriteRecordRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRecord(&buf, TypeMessage, make([]byte, 0x10000))
	assert.Error(t, err)
}

func TestCommandRoundTrip(t *testing.T) {
	payload := EncodeCommand(CmdSendToUser)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x06}, payload)

	cmd, err := DecodeCommand(payload)
	require.NoError(t, err)
	assert.Equal(t, CmdSendToUser, cmd)
}

func TestDecodeCommandWrongLength(t *testing.T) {
	_, err := DecodeCommand([]byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusOK, StatusError, StatusAuthenticationError, StatusAlreadyLoggedIn, StatusUserNotFound, StatusAlreadyInGroup, StatusGroupNotFound} {
		payload := EncodeStatus(s)
		got, err := DecodeStatus(payload)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestUint16RoundTrip(t *testing.T) {
	payload := EncodeUint16(42)
	got, err := DecodeUint16(payload)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)
}

func TestGroupInfoRoundTrip(t *testing.T) {
	gi := GroupInfo{Name: "devs", McastAddr: "239.0.0.2", McastPort: 7001, ID: 1}
	payload, err := EncodeGroupInfo(gi)
	require.NoError(t, err)
	assert.Len(t, payload, GroupInfoSize)

	got, err := DecodeGroupInfo(payload)
	require.NoError(t, err)
	assert.Equal(t, gi, got)
}

func TestEncodeGroupInfoRejectsOversizeName(t *testing.T) {
	_, err := EncodeGroupInfo(GroupInfo{Name: strings.Repeat("a", 33)})
	assert.Error(t, err)
}

func TestServerInfoRoundTrip(t *testing.T) {
	si, err := ServerInfoFromAddr(mustParseIPv4(t, "192.168.1.42"), 6000)
	require.NoError(t, err)

	payload := EncodeServerInfo(si)
	assert.Len(t, payload, ServerInfoSize)

	got, err := DecodeServerInfo(payload)
	require.NoError(t, err)
	assert.Equal(t, si, got)
}

func TestActiveUsersRoundTrip(t *testing.T) {
	entries := [][2]string{{"alice", "Alice"}, {"bob", "Bob"}}
	payload := EncodeActiveUsers(entries)
	got := ParseActiveUsers(payload)
	assert.Equal(t, entries, got)
}

func TestActiveUsersCapsAt1024Bytes(t *testing.T) {
	var entries [][2]string
	for i := 0; i < 200; i++ {
		entries = append(entries, [2]string{"loginloginloginlogin", "displaydisplaydisplay"})
	}
	payload := EncodeActiveUsers(entries)
	assert.LessOrEqual(t, len(payload), MaxPayload)
}

func TestGroupListRoundTrip(t *testing.T) {
	names := []string{"devs", "ops", "random"}
	payload := EncodeGroupList(names)
	got := ParseGroupList(payload)
	assert.Equal(t, names, got)
}

func TestParseGroupListEmpty(t *testing.T) {
	assert.Nil(t, ParseGroupList(nil))
}

func mustParseIPv4(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	require.NotNil(t, ip)
	return ip
}

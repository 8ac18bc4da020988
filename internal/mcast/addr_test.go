package mcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveAddress(t *testing.T) {
	cases := []struct {
		id       uint32
		wantAddr string
		wantPort uint16
	}{
		{1, "239.0.0.2", 7001},
		{2, "239.0.0.3", 7002},
		{254, "239.0.0.255", 7254},
	}
	for _, tc := range cases {
		addr, port := DeriveAddress(tc.id)
		assert.Equal(t, tc.wantAddr, addr)
		assert.Equal(t, tc.wantPort, port)
	}
}

package hcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHPACKRoundTrip(t *testing.T) {
	c := NewHPACKCoder()
	fields := []Field{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/x"},
		{Name: "authorization", Value: "secret", Sensitive: true},
	}
	block, err := c.Encode(nil, fields)
	require.NoError(t, err)

	d := NewHPACKCoder()
	got, err := d.Decode(block)
	require.NoError(t, err)
	require.Equal(t, fields, got)
}

func TestOpaqueQPACKIgnoresTableGrowth(t *testing.T) {
	c := NewOpaqueQPACK()
	c.SetMaxDynamicTableSize(4096)
	block, err := c.Encode(nil, []Field{{Name: "x-test", Value: "1"}})
	require.NoError(t, err)
	got, err := c.Decode(block)
	require.NoError(t, err)
	require.Equal(t, "x-test", got[0].Name)
}

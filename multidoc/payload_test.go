package multidoc

import (
	"bytes"
	"testing"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		for _, size := range []int{0, 1, 10, 11, 31, 1000} {
			doc := bytes.Repeat([]byte{0xab}, size)
			payload, err := encodePayload(doc, compress)
			require.NoError(t, err)
			assert.Zero(t, len(payload)%ChunkSize)

			joined, err := joinChunks(splitChunks(payload))
			require.NoError(t, err)
			assert.Equal(t, payload, joined)

			got, err := decodePayload(joined)
			require.NoError(t, err)
			assert.Equal(t, doc, got)
		}
	}
}

func TestPayload_Tampering(t *testing.T) {
	payload, err := encodePayload([]byte("hello world"), false)
	require.NoError(t, err)

	flip := func(i int) []byte {
		p := append([]byte(nil), payload...)
		p[i] ^= 0x01
		return p
	}

	cases := map[string][]byte{
		"unknown flag":    flip(0),
		"length":          flip(4),
		"body":            flip(headerSize),
		"digest":          flip(headerSize + 11),
		"padding":         flip(len(payload) - 1),
		"truncated":       payload[:len(payload)-1],
		"extra chunk":     append(append([]byte(nil), payload...), make([]byte, ChunkSize)...),
		"shorter than id": payload[:headerSize],
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodePayload(p)
			assert.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
		})
	}
}

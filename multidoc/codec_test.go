package multidoc

import (
	"encoding/json"
	"testing"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal_Decryptable(t *testing.T) {
	store, err := Create([]byte(`{"user":"A"}`), "pwA", []byte("keyA"), testConfig())
	require.NoError(t, err)
	store, err = Update(store, []byte(`{"user":"B"}`), "pwB", []byte("keyB"))
	require.NoError(t, err)

	data, err := Marshal(store)
	require.NoError(t, err)

	loaded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, store.Metadata, loaded.Metadata)
	assert.Equal(t, store.Records(), loaded.Records())

	again, err := Marshal(loaded)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is canonical")

	got, err := Decrypt(loaded, "pwB", []byte("keyB"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"user":"B"}`), got)
}

func TestMarshal_HidesPartitionKeys(t *testing.T) {
	store, err := Create([]byte("secret document"), "password", []byte("tenant-key"), testConfig())
	require.NoError(t, err)

	data, err := Marshal(store)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "tenant-key")
	assert.NotContains(t, string(data), "password")
	assert.NotContains(t, string(data), "secret document")
	assert.Contains(t, string(data), string(PartitionIDOf([]byte("tenant-key"))))
}

func TestUnmarshal_Rejects(t *testing.T) {
	store, err := Create([]byte("doc"), "pw", []byte("key"), testConfig())
	require.NoError(t, err)
	valid, err := Marshal(store)
	require.NoError(t, err)

	mutate := func(fn func(f map[string]any)) []byte {
		var f map[string]any
		require.NoError(t, json.Unmarshal(valid, &f))
		fn(f)
		out, err := json.Marshal(f)
		require.NoError(t, err)
		return out
	}
	meta := func(f map[string]any) map[string]any { return f["metadata"].(map[string]any) }
	firstShare := func(f map[string]any) map[string]any { return f["shares"].([]any)[0].(map[string]any) }

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{")},
		{"wrong version", mutate(func(f map[string]any) { meta(f)["format_version"] = "0" })},
		{"wrong chunk size", mutate(func(f map[string]any) { meta(f)["chunk_size"] = 32 })},
		{"bad salt", mutate(func(f map[string]any) { meta(f)["salt"] = "!!" })},
		{"short salt", mutate(func(f map[string]any) { meta(f)["salt"] = "AAAA" })},
		{"threshold too small", mutate(func(f map[string]any) { meta(f)["threshold"] = 1 })},
		{"zero share id", mutate(func(f map[string]any) { firstShare(f)["id"] = 0 })},
		{"share id above space", mutate(func(f map[string]any) { firstShare(f)["id"] = 10001 })},
		{"negative chunk", mutate(func(f map[string]any) { firstShare(f)["chunk"] = -1 })},
		{"non-decimal value", mutate(func(f map[string]any) { firstShare(f)["value"] = "0x10" })},
		{"duplicate share", mutate(func(f map[string]any) {
			shares := f["shares"].([]any)
			f["shares"] = append(shares, shares[0])
		})},
		{"chunk count above document limit", mutate(func(f map[string]any) {
			for _, p := range meta(f)["partitions"].(map[string]any) {
				p.(map[string]any)["chunk_count"] = float64(int64(1) << 62)
			}
		})},
		{"share beyond every partition", mutate(func(f map[string]any) { firstShare(f)["chunk"] = 1 })},
		{"empty partition", mutate(func(f map[string]any) {
			for _, p := range meta(f)["partitions"].(map[string]any) {
				p.(map[string]any)["chunk_count"] = 0
			}
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, interfaces.ErrUnsupportedFormat)
		})
	}
}

func TestDecrypt_OversizedChunkCount(t *testing.T) {
	store, err := Create([]byte("doc"), "pw", []byte("key"), testConfig())
	require.NoError(t, err)

	pid := PartitionIDOf([]byte("key"))
	for _, count := range []int{MaxChunkCount + 1, 1 << 62} {
		store.Metadata.Partitions[pid] = interfaces.PartitionInfo{ChunkCount: count}
		assert.NotPanics(t, func() {
			_, err = Decrypt(store, "pw", []byte("key"))
		})
		assert.ErrorIs(t, err, interfaces.ErrDecryptionFailed)

		_, err = Update(store, []byte("new"), "pw", []byte("key"))
		assert.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
	}
}

func TestDecrypt_InsufficientSharesHidesCounts(t *testing.T) {
	store, err := Create([]byte("doc"), "pw", []byte("key"), testConfig())
	require.NoError(t, err)

	for k := range store.Shares {
		delete(store.Shares, k)
		break
	}
	_, err = Decrypt(store, "pw", []byte("key"))
	require.ErrorIs(t, err, interfaces.ErrInsufficientShares)
	assert.NotRegexp(t, `\d`, err.Error())
}

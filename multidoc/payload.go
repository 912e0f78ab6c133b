package multidoc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/sharing"
	"github.com/ulikunitz/xz/lzma"
	"github.com/zeebo/blake3"
)

// ChunkSize is the number of payload bytes carried by one shared chunk.
const ChunkSize = sharing.SecretBytes

// MaxDocumentSize bounds documents accepted by Create and Update.
const MaxDocumentSize = 16 << 20

// ErrDocumentTooLarge is returned for documents above MaxDocumentSize.
var ErrDocumentTooLarge = errors.New("document too large")

// Payload layout, padded with zeros to a multiple of ChunkSize:
//
//	flags(1) | body length(4, big endian) | body | blake3(body)[:16]
const (
	flagCompressed = 1 << 0
	headerSize     = 5
	digestSize     = 16
)

// MaxChunkCount is the chunk count of a MaxDocumentSize payload. Stored
// bodies never exceed MaxDocumentSize, compressed or not.
const MaxChunkCount = (headerSize + MaxDocumentSize + digestSize + ChunkSize - 1) / ChunkSize

func encodePayload(doc []byte, compress bool) ([]byte, error) {
	if len(doc) > MaxDocumentSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, len(doc))
	}

	var flags byte
	body := doc
	if compress {
		compressed, err := compressLZMA(doc)
		if err != nil {
			return nil, err
		}
		if len(compressed) < len(doc) {
			flags |= flagCompressed
			body = compressed
		}
	}

	size := headerSize + len(body) + digestSize
	if rem := size % ChunkSize; rem != 0 {
		size += ChunkSize - rem
	}

	payload := make([]byte, size)
	payload[0] = flags
	binary.BigEndian.PutUint32(payload[1:headerSize], uint32(len(body)))
	copy(payload[headerSize:], body)
	digest := blake3.Sum256(body)
	copy(payload[headerSize+len(body):], digest[:digestSize])
	return payload, nil
}

// decodePayload validates framing, padding and digest. Every failure maps to
// ErrDecryptionFailed so callers cannot tell which check tripped.
func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) < headerSize+digestSize || len(payload)%ChunkSize != 0 {
		return nil, interfaces.ErrDecryptionFailed
	}

	flags := payload[0]
	if flags&^flagCompressed != 0 {
		return nil, interfaces.ErrDecryptionFailed
	}

	bodyLen := int(binary.BigEndian.Uint32(payload[1:headerSize]))
	end := headerSize + bodyLen + digestSize
	if bodyLen > len(payload) || end > len(payload) || len(payload)-end >= ChunkSize {
		return nil, interfaces.ErrDecryptionFailed
	}
	for _, b := range payload[end:] {
		if b != 0 {
			return nil, interfaces.ErrDecryptionFailed
		}
	}

	body := payload[headerSize : headerSize+bodyLen]
	digest := blake3.Sum256(body)
	if !bytes.Equal(digest[:digestSize], payload[headerSize+bodyLen:end]) {
		return nil, interfaces.ErrDecryptionFailed
	}

	if flags&flagCompressed == 0 {
		return append([]byte(nil), body...), nil
	}
	doc, err := decompressLZMA(body)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	return doc, nil
}

func splitChunks(payload []byte) []*big.Int {
	chunks := make([]*big.Int, 0, len(payload)/ChunkSize)
	for off := 0; off < len(payload); off += ChunkSize {
		chunks = append(chunks, new(big.Int).SetBytes(payload[off:off+ChunkSize]))
	}
	return chunks
}

func joinChunks(values []*big.Int) ([]byte, error) {
	payload := make([]byte, len(values)*ChunkSize)
	for i, v := range values {
		if v.Sign() < 0 || v.BitLen() > 8*ChunkSize {
			return nil, interfaces.ErrDecryptionFailed
		}
		v.FillBytes(payload[i*ChunkSize : (i+1)*ChunkSize])
	}
	return payload, nil
}

func compressLZMA(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create lzma writer: %w", err)
	}
	if _, err := w.Write(doc); err != nil {
		return nil, fmt.Errorf("failed to compress document: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressLZMA(body []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(doc) > MaxDocumentSize {
		return nil, ErrDocumentTooLarge
	}
	return doc, nil
}

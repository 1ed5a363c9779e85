package durabletier

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/luoarch/go-auth-store/internal/authstate"
)

// EncryptionAlgorithm selects the at-rest cipher a Codec uses, mirroring
// HybridConfig's security.encryptionAlgorithm.
type EncryptionAlgorithm string

const (
	EncryptionNone          EncryptionAlgorithm = ""
	EncryptionAEADSecretbox EncryptionAlgorithm = "aead-secretbox"
	EncryptionAES256GCM     EncryptionAlgorithm = "aes-256-gcm"
)

// CompressionAlgorithm selects the codec's pre-encryption compression
// pass, mirroring HybridConfig's security.compressionAlgorithm.
type CompressionAlgorithm string

const (
	CompressionNone   CompressionAlgorithm = ""
	CompressionSnappy CompressionAlgorithm = "snappy"
	CompressionGzip   CompressionAlgorithm = "gzip"
)

// Codec implements per-field serialization: marshal -> compress ->
// encrypt -> base64, grounded on the teacher pack's cuemby-warren
// pkg/security/secrets.go Encrypt/Decrypt pair for the AES-256-GCM path.
// Compression uses klauspost/compress (s2 for "snappy", gzip for
// "gzip") rather than stdlib compress/gzip, matching the compression
// library already present across the example pack's dependency graphs.
// Deserialization rejects byte sequences shorter than the nonce width
// per spec.md §4.2.
type Codec struct {
	gcm         cipher.AEAD
	secretKey   *[32]byte
	compression CompressionAlgorithm
}

// CodecOptions configures NewCodec. A nil/zero MasterKey disables
// encryption; an empty Compression disables compression.
type CodecOptions struct {
	MasterKey   []byte
	Encryption  EncryptionAlgorithm
	Compression CompressionAlgorithm
}

// NewCodec builds a Codec per opts. MasterKey must be 32 bytes when
// Encryption is non-empty; both supported algorithms consume a 256-bit
// key (AES-256-GCM directly, secretbox via a fixed-size key array).
func NewCodec(opts CodecOptions) (*Codec, error) {
	c := &Codec{compression: opts.Compression}

	switch opts.Encryption {
	case EncryptionNone:
		return c, nil
	case EncryptionAES256GCM:
		if len(opts.MasterKey) != 32 {
			return nil, fmt.Errorf("durabletier: master key must be 32 bytes for AES-256, got %d", len(opts.MasterKey))
		}
		block, err := aes.NewCipher(opts.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("durabletier: failed to construct cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("durabletier: failed to construct GCM: %w", err)
		}
		c.gcm = gcm
		return c, nil
	case EncryptionAEADSecretbox:
		if len(opts.MasterKey) != 32 {
			return nil, fmt.Errorf("durabletier: master key must be 32 bytes for secretbox, got %d", len(opts.MasterKey))
		}
		var key [32]byte
		copy(key[:], opts.MasterKey)
		c.secretKey = &key
		return c, nil
	default:
		return nil, fmt.Errorf("durabletier: unknown encryption algorithm %q", opts.Encryption)
	}
}

// Encode marshals v to JSON, optionally compresses and encrypts it
// (nonce-prefixed), and base64-encodes the result for storage in a text
// column.
func (c *Codec) Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", authstate.NewStorageError(authstate.TierDurable, "encode", "marshal_failed", err)
	}

	compressed, err := c.compress(raw)
	if err != nil {
		return "", authstate.NewStorageError(authstate.TierDurable, "encode", "compression_failed", err)
	}

	switch {
	case c.gcm != nil:
		nonce := make([]byte, c.gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return "", authstate.NewStorageError(authstate.TierDurable, "encode", "nonce_generation_failed", err)
		}
		sealed := c.gcm.Seal(nonce, nonce, compressed, nil)
		return base64.StdEncoding.EncodeToString(sealed), nil
	case c.secretKey != nil:
		var nonce [24]byte
		if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
			return "", authstate.NewStorageError(authstate.TierDurable, "encode", "nonce_generation_failed", err)
		}
		sealed := secretbox.Seal(nonce[:], compressed, &nonce, c.secretKey)
		return base64.StdEncoding.EncodeToString(sealed), nil
	default:
		return base64.StdEncoding.EncodeToString(compressed), nil
	}
}

// Decode reverses Encode into v. It rejects ciphertext shorter than the
// nonce width with a typed storage error, per spec.md §4.2.
func (c *Codec) Decode(encoded string, v any) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return authstate.NewStorageError(authstate.TierDurable, "decode", "base64_decode_failed", err)
	}

	var plain []byte
	switch {
	case c.gcm != nil:
		nonceSize := c.gcm.NonceSize()
		if len(data) < nonceSize {
			return authstate.NewStorageError(authstate.TierDurable, "decode", "ciphertext_too_short", fmt.Errorf("got %d bytes, need at least %d", len(data), nonceSize))
		}
		nonce, ciphertext := data[:nonceSize], data[nonceSize:]
		plain, err = c.gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return authstate.NewStorageError(authstate.TierDurable, "decode", "decrypt_failed", err)
		}
	case c.secretKey != nil:
		const nonceSize = 24
		if len(data) < nonceSize {
			return authstate.NewStorageError(authstate.TierDurable, "decode", "ciphertext_too_short", fmt.Errorf("got %d bytes, need at least %d", len(data), nonceSize))
		}
		var nonce [24]byte
		copy(nonce[:], data[:nonceSize])
		opened, ok := secretbox.Open(nil, data[nonceSize:], &nonce, c.secretKey)
		if !ok {
			return authstate.NewStorageError(authstate.TierDurable, "decode", "decrypt_failed", fmt.Errorf("secretbox authentication failed"))
		}
		plain = opened
	default:
		plain = data
	}

	raw, err := c.decompress(plain)
	if err != nil {
		return authstate.NewStorageError(authstate.TierDurable, "decode", "decompression_failed", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return authstate.NewStorageError(authstate.TierDurable, "decode", "unmarshal_failed", err)
	}
	return nil
}

func (c *Codec) compress(raw []byte) ([]byte, error) {
	switch c.compression {
	case CompressionNone:
		return raw, nil
	case CompressionSnappy:
		return s2.EncodeSnappy(nil, raw), nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("durabletier: unknown compression algorithm %q", c.compression)
	}
}

func (c *Codec) decompress(data []byte) ([]byte, error) {
	switch c.compression {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return s2.Decode(nil, data)
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("durabletier: unknown compression algorithm %q", c.compression)
	}
}

package authstate

import (
	"encoding/base64"
	"fmt"
)

// bytesKind is the tagged shape that byte-like values sometimes arrive as
// after crossing a JSON boundary: {"kind":"bytes","data":[...]} or
// {"type":"Buffer","data":[...]}. ReviveBuffers walks a patch or snapshot
// and either turns these back into []byte or rejects malformed ones,
// matching spec.md's buffer-revival invariant.
const (
	bytesTagKind   = "kind"
	bytesTagType   = "type"
	bytesKindValue = "bytes"
	bytesTypeValue = "Buffer"
	bytesDataField = "data"
)

// ReviveBuffers performs a one-time recursive walk over a snapshot's creds
// and keys, reviving any {kind:"bytes",data:[...]} encoding into a raw
// []byte, and returns a validation error if a byte-like encoding cannot be
// revived (non-numeric elements, out-of-range values).
func ReviveBuffers(s AuthSnapshot) (AuthSnapshot, error) {
	out := s.Clone()
	if out.Creds != nil {
		revived, err := reviveMap(out.Creds)
		if err != nil {
			return AuthSnapshot{}, fmt.Errorf("authstate: creds: %w", err)
		}
		out.Creds = revived
	}
	for keyType, inner := range out.Keys {
		for keyId, bundle := range inner {
			revived, err := reviveMap(map[string]any(bundle))
			if err != nil {
				return AuthSnapshot{}, fmt.Errorf("authstate: keys[%s][%s]: %w", keyType, keyId, err)
			}
			out.Keys[keyType][keyId] = KeyBundle(revived)
		}
	}
	return out, nil
}

// ReviveBuffersInPatch applies the same normalization to a patch's creds,
// keys, and appState sub-records.
func ReviveBuffersInPatch(p AuthPatch) (AuthPatch, error) {
	out := p
	if p.Creds != nil {
		revived, err := reviveMap(p.Creds)
		if err != nil {
			return AuthPatch{}, fmt.Errorf("authstate: patch.creds: %w", err)
		}
		out.Creds = revived
	}
	if p.Keys != nil {
		out.Keys = KeysMap{}
		for keyType, inner := range p.Keys {
			innerOut := KeyTypeMap{}
			for keyId, bundle := range inner {
				if bundle == nil {
					innerOut[keyId] = nil
					continue
				}
				revived, err := reviveMap(map[string]any(bundle))
				if err != nil {
					return AuthPatch{}, fmt.Errorf("authstate: patch.keys[%s][%s]: %w", keyType, keyId, err)
				}
				innerOut[keyId] = KeyBundle(revived)
			}
			out.Keys[keyType] = innerOut
		}
	}
	if p.AppState != nil {
		revived, err := reviveMap(p.AppState)
		if err != nil {
			return AuthPatch{}, fmt.Errorf("authstate: patch.appState: %w", err)
		}
		out.AppState = revived
	}
	return out, nil
}

func reviveMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		revived, err := reviveValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = revived
	}
	return out, nil
}

func reviveValue(v any) (any, error) {
	switch vv := v.(type) {
	case map[string]any:
		if isBytesEncoding(vv) {
			return reviveBytesEncoding(vv)
		}
		return reviveMap(vv)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			revived, err := reviveValue(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = revived
		}
		return out, nil
	default:
		return v, nil
	}
}

func isBytesEncoding(m map[string]any) bool {
	kind, hasKind := m[bytesTagKind]
	typ, hasType := m[bytesTagType]
	_, hasData := m[bytesDataField]
	if !hasData {
		return false
	}
	if hasKind {
		if s, ok := kind.(string); ok && s == bytesKindValue {
			return true
		}
	}
	if hasType {
		if s, ok := typ.(string); ok && s == bytesTypeValue {
			return true
		}
	}
	return false
}

// reviveBytesEncoding converts {"kind":"bytes","data":[...]} into a raw
// []byte. Elements must be JSON numbers in [0,255]; anything else is a
// rejected encoding, per spec.md's "reject or revive" invariant.
func reviveBytesEncoding(m map[string]any) ([]byte, error) {
	raw, ok := m[bytesDataField]
	if !ok {
		return nil, fmt.Errorf("byte-like encoding missing %q field", bytesDataField)
	}

	// Some transports carry the data field already as a base64 string.
	if s, ok := raw.(string); ok {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("byte-like encoding has non-base64 string data: %w", err)
		}
		return decoded, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("byte-like encoding's %q field is neither an array nor a base64 string", bytesDataField)
	}
	out := make([]byte, len(items))
	for i, item := range items {
		n, ok := toByteValue(item)
		if !ok {
			return nil, fmt.Errorf("byte-like encoding element %d (%v) is not a valid byte", i, item)
		}
		out[i] = n
	}
	return out, nil
}

func toByteValue(v any) (byte, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n > 255 || n != float64(int(n)) {
			return 0, false
		}
		return byte(n), true
	case int:
		if n < 0 || n > 255 {
			return 0, false
		}
		return byte(n), true
	default:
		return 0, false
	}
}

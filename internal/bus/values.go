package bus

import (
	"fmt"
	"net/netip"
)

// AssociationsFromValue normalizes the decoded forms an Associations property
// can arrive in: native triples, or generic tuples from a wire decoder.
func AssociationsFromValue(v any) ([]Association, error) {
	switch list := v.(type) {
	case []Association:
		return list, nil
	case [][3]string:
		out := make([]Association, 0, len(list))
		for _, t := range list {
			out = append(out, Association{Forward: t[0], Reverse: t[1], Endpoint: t[2]})
		}
		return out, nil
	case [][]any:
		out := make([]Association, 0, len(list))
		for i, t := range list {
			a, err := associationFromTuple(t)
			if err != nil {
				return nil, fmt.Errorf("association[%d]: %w", i, err)
			}
			out = append(out, a)
		}
		return out, nil
	case []any:
		out := make([]Association, 0, len(list))
		for i, raw := range list {
			t, ok := raw.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: association[%d] is %T", ErrUnexpectedType, i, raw)
			}
			a, err := associationFromTuple(t)
			if err != nil {
				return nil, fmt.Errorf("association[%d]: %w", i, err)
			}
			out = append(out, a)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: associations are %T", ErrUnexpectedType, v)
	}
}

func associationFromTuple(t []any) (Association, error) {
	if len(t) != 3 {
		return Association{}, fmt.Errorf("%w: tuple of %d fields", ErrUnexpectedType, len(t))
	}
	var fields [3]string
	for i, f := range t {
		s, ok := f.(string)
		if !ok {
			return Association{}, fmt.Errorf("%w: field %d is %T", ErrUnexpectedType, i, f)
		}
		fields[i] = s
	}
	return Association{Forward: fields[0], Reverse: fields[1], Endpoint: fields[2]}, nil
}

// AddressFromValue accepts the string form of a remote address or the
// packed 32-bit IPv4 form some deployments publish.
func AddressFromValue(v any) (string, error) {
	switch addr := v.(type) {
	case string:
		return addr, nil
	case uint32:
		return netip.AddrFrom4([4]byte{
			byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr),
		}).String(), nil
	default:
		return "", fmt.Errorf("%w: remote address is %T", ErrUnexpectedType, v)
	}
}

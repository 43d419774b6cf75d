package contracts

import "encoding/json"

// Encode wraps a payload in a fresh envelope and marshals it for the wire.
func Encode(kind string, payload any) ([]byte, error) {
	env, err := NewEnvelope(kind, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

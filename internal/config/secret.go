package config

const redacted = "[REDACTED]"

// Secret holds a credential that must never reach logs or serialized output.
// Every formatting path prints a redaction marker; Reveal is the only way to
// read the value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Reveal returns the underlying credential
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return redacted, nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// GoString covers the %#v verb
func (s Secret) GoString() string {
	if s == "" {
		return `""`
	}
	return `"` + redacted + `"`
}

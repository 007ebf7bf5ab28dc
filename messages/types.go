package messages

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Base64 is a byte payload carried as a base64 string on the wire.
type Base64 []byte

func (b Base64) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

func (b *Base64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("base64 field: %w", err)
	}
	// Servers may emit MIME-style encodings with embedded newlines.
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("base64 field: %w", err)
	}
	*b = decoded
	return nil
}

// AudioConfig describes an audio payload's encoding.
type AudioConfig struct {
	MimeType     string `json:"mime_type"`
	SamplingRate *int   `json:"sampling_rate,omitempty"`
}

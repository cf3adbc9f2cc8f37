package oci

import (
	"bytes"
	"encoding/json"
)

// submitResponse is the success body of submitRawEmail.
type submitResponse struct {
	MessageID            string                `json:"messageId"`
	EnvelopeID           string                `json:"envelopeId"`
	SuppressedRecipients []suppressedRecipient `json:"suppressedRecipients"`
}

// suppressedRecipient is an EmailAddress object in the documented API.
// Some responses carry bare address strings instead, so both are accepted.
type suppressedRecipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (s *suppressedRecipient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Email)
	}
	type plain suppressedRecipient
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = suppressedRecipient(p)
	return nil
}

// errorResponse is the standard OCI error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeErrorResponse(body []byte) errorResponse {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	return e
}

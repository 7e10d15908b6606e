package processing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qrtrail/scanhistory/pkg/scanning"
)

// CaptureMessage is one scan published by a capture client. Data and Type
// are pointers so an absent field can be told apart from an empty one.
type CaptureMessage struct {
	Data     *string            `json:"data"`
	Type     *string            `json:"type"`
	Location *scanning.Location `json:"location,omitempty"`
}

// ParseCaptureMessage unmarshals the JSON payload into a CaptureMessage.
// Payload contents are taken verbatim; only the presence of data and type is
// checked.
func ParseCaptureMessage(raw []byte) (CaptureMessage, error) {
	var msg CaptureMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return CaptureMessage{}, fmt.Errorf("unmarshal capture: %w", err)
	}
	if msg.Data == nil {
		return CaptureMessage{}, errors.New("missing data field")
	}
	if msg.Type == nil {
		return CaptureMessage{}, errors.New("missing type field")
	}
	return msg, nil
}

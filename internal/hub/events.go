package hub

import (
	"encoding/json"

	"chat-hub/internal/models"
)

func encodeFrame(event models.EventType, data any) ([]byte, error) {
	return json.Marshal(models.OutboundFrame{Event: event, Data: data})
}

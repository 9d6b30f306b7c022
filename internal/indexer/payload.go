package indexer

import "encoding/json"

func marshalPayload(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

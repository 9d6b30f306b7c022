package decoder

// Payload variants, one per EventType. event_data in the store holds
// exactly one of these, marshaled to JSON with normalized fields: lower-case
// hex for addresses/hashes, decimal strings for big integers.

type RegisteredPayload struct {
	AgentID  string `json:"agent_id"`
	Owner    string `json:"owner"`
	TokenURI string `json:"token_uri"`
}

type MetadataSetPayload struct {
	AgentID    string `json:"agent_id"`
	IndexedKey string `json:"indexed_key"`
	Key        string `json:"key"`
	Value      string `json:"value"`
}

type URIUpdatedPayload struct {
	AgentID   string `json:"agent_id"`
	NewURI    string `json:"new_uri"`
	UpdatedBy string `json:"updated_by"`
}

type NewFeedbackPayload struct {
	AgentID      string `json:"agent_id"`
	Client       string `json:"client"`
	Score        uint8  `json:"score"`
	Tag1         string `json:"tag1"`
	Tag2         string `json:"tag2"`
	FeedbackURI  string `json:"feedback_uri"`
	FeedbackHash string `json:"feedback_hash"`
}

type FeedbackRevokedPayload struct {
	AgentID       string `json:"agent_id"`
	Client        string `json:"client"`
	FeedbackIndex uint64 `json:"feedback_index"`
	Revoker       string `json:"revoker"`
}

type ResponseAppendedPayload struct {
	AgentID       string `json:"agent_id"`
	Client        string `json:"client"`
	FeedbackIndex uint64 `json:"feedback_index"`
	Responder     string `json:"responder"`
	ResponseURI   string `json:"response_uri"`
	ResponseHash  string `json:"response_hash"`
}

type ValidationRequestPayload struct {
	ValidatorAddress string `json:"validator_address"`
	AgentID           string `json:"agent_id"`
	RequestURI        string `json:"request_uri"`
	RequestHash       string `json:"request_hash"`
}

type ValidationResponsePayload struct {
	ValidatorAddress string `json:"validator_address"`
	AgentID           string `json:"agent_id"`
	RequestHash       string `json:"request_hash"`
	Response          uint8  `json:"response"`
	ResponseURI       string `json:"response_uri"`
	ResponseHash      string `json:"response_hash"`
	Tag               string `json:"tag"`
}

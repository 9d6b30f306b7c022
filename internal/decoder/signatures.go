package decoder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Topic0 signature hashes for the eight monitored registry events. Computed
// as keccak256 of the canonical event signature string.
var (
	// Registered(uint256 indexed agentId, address indexed owner, string tokenURI)
	registeredSig = crypto.Keccak256Hash([]byte("Registered(uint256,address,string)"))

	// MetadataSet(uint256 indexed agentId, string indexed indexedKey, string key, string value)
	metadataSetSig = crypto.Keccak256Hash([]byte("MetadataSet(uint256,string,string,string)"))

	// URIUpdated(uint256 indexed agentId, string newURI, address indexed updatedBy)
	uriUpdatedSig = crypto.Keccak256Hash([]byte("URIUpdated(uint256,string,address)"))

	// NewFeedback(uint256 indexed agentId, address indexed client, uint8 score,
	//             bytes32 indexed tag1, bytes32 tag2, string feedbackURI, bytes32 feedbackHash)
	newFeedbackSig = crypto.Keccak256Hash([]byte("NewFeedback(uint256,address,uint8,bytes32,bytes32,string,bytes32)"))

	// FeedbackRevoked(uint256 indexed agentId, address indexed client, uint64 feedbackIndex, address indexed revoker)
	feedbackRevokedSig = crypto.Keccak256Hash([]byte("FeedbackRevoked(uint256,address,uint64,address)"))

	// ResponseAppended(uint256 indexed agentId, address indexed client, uint64 feedbackIndex,
	//                  address responder, string responseURI, bytes32 responseHash)
	responseAppendedSig = crypto.Keccak256Hash([]byte("ResponseAppended(uint256,address,uint64,address,string,bytes32)"))

	// ValidationRequest(address indexed validatorAddress, uint256 indexed agentId, string requestURI, bytes32 requestHash)
	validationRequestSig = crypto.Keccak256Hash([]byte("ValidationRequest(address,uint256,string,bytes32)"))

	// ValidationResponse(address indexed validatorAddress, uint256 indexed agentId, bytes32 indexed requestHash,
	//                     uint8 response, string responseURI, bytes32 responseHash, string tag)
	validationResponseSig = crypto.Keccak256Hash([]byte("ValidationResponse(address,uint256,bytes32,uint8,string,bytes32,string)"))
)

// EventType is the closed set of decodable event tags.
type EventType string

const (
	Registered       EventType = "Registered"
	MetadataSet      EventType = "MetadataSet"
	URIUpdated       EventType = "UriUpdated"
	NewFeedback      EventType = "NewFeedback"
	FeedbackRevoked  EventType = "FeedbackRevoked"
	ResponseAppended EventType = "ResponseAppended"
	ValidationRequest  EventType = "ValidationRequest"
	ValidationResponse EventType = "ValidationResponse"
)

// signatureTable maps topic0 to the event type it decodes to. Looked up
// once per log to decide whether the Decoder has a handler at all.
var signatureTable = map[common.Hash]EventType{
	registeredSig:         Registered,
	metadataSetSig:        MetadataSet,
	uriUpdatedSig:         URIUpdated,
	newFeedbackSig:        NewFeedback,
	feedbackRevokedSig:    FeedbackRevoked,
	responseAppendedSig:   ResponseAppended,
	validationRequestSig:  ValidationRequest,
	validationResponseSig: ValidationResponse,
}

// HasSignature reports whether topic0 is one of the eight monitored events.
func HasSignature(topic0 common.Hash) bool {
	_, ok := signatureTable[topic0]
	return ok
}

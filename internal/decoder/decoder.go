// Package decoder maps raw chain logs to typed, normalized Event payloads
// for the eight monitored Identity/Reputation/Validation events.
package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	stringTy  abi.Type
	bytes32Ty abi.Type
	uint8Ty   abi.Type
	uint64Ty  abi.Type
)

func init() {
	var err error
	if stringTy, err = abi.NewType("string", "", nil); err != nil {
		panic(err)
	}
	if bytes32Ty, err = abi.NewType("bytes32", "", nil); err != nil {
		panic(err)
	}
	if uint8Ty, err = abi.NewType("uint8", "", nil); err != nil {
		panic(err)
	}
	if uint64Ty, err = abi.NewType("uint64", "", nil); err != nil {
		panic(err)
	}
}

// Decoded is a decoded log ready for storage: the normalized payload plus
// the envelope fields the store needs.
type Decoded struct {
	EventType EventType
	Payload   any
}

// Decode maps a raw log to its normalized Event payload. It returns
// ok=false when the log's topic0 is not one of the eight monitored
// signatures (the caller should skip the log, not treat it as an error).
func Decode(log types.Log) (Decoded, bool, error) {
	if len(log.Topics) == 0 {
		return Decoded{}, false, nil
	}

	eventType, ok := signatureTable[log.Topics[0]]
	if !ok {
		return Decoded{}, false, nil
	}

	var (
		payload any
		err     error
	)

	switch eventType {
	case Registered:
		payload, err = decodeRegistered(log)
	case MetadataSet:
		payload, err = decodeMetadataSet(log)
	case URIUpdated:
		payload, err = decodeURIUpdated(log)
	case NewFeedback:
		payload, err = decodeNewFeedback(log)
	case FeedbackRevoked:
		payload, err = decodeFeedbackRevoked(log)
	case ResponseAppended:
		payload, err = decodeResponseAppended(log)
	case ValidationRequest:
		payload, err = decodeValidationRequest(log)
	case ValidationResponse:
		payload, err = decodeValidationResponse(log)
	default:
		return Decoded{}, false, fmt.Errorf("decoder: unhandled event type %s", eventType)
	}

	if err != nil {
		return Decoded{}, false, fmt.Errorf("decoder: %s: %w", eventType, err)
	}

	return Decoded{EventType: eventType, Payload: payload}, true, nil
}

func requireTopics(log types.Log, n int, name string) error {
	if len(log.Topics) != n {
		return fmt.Errorf("%s: expected %d topics, got %d", name, n, len(log.Topics))
	}
	return nil
}

// addressHex normalizes an address to lower-case hex, per the store's
// wire format for address fields (hashes are left as Hash.Hex renders
// them, which is already lower-case since EIP-55 mixed-casing applies
// only to addresses).
func addressHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func topicAddress(topic common.Hash) string {
	return addressHex(common.BytesToAddress(topic.Bytes()))
}

func topicUint(topic common.Hash) *big.Int {
	return new(big.Int).SetBytes(topic.Bytes())
}

// decodeRegistered: Registered(uint256 indexed agentId, address indexed owner, string tokenURI)
func decodeRegistered(log types.Log) (RegisteredPayload, error) {
	if err := requireTopics(log, 3, "Registered"); err != nil {
		return RegisteredPayload{}, err
	}

	args := abi.Arguments{{Type: stringTy}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return RegisteredPayload{}, fmt.Errorf("failed to unpack tokenURI: %w", err)
	}

	return RegisteredPayload{
		AgentID:  topicUint(log.Topics[1]).String(),
		Owner:    topicAddress(log.Topics[2]),
		TokenURI: unpacked[0].(string),
	}, nil
}

// decodeMetadataSet: MetadataSet(uint256 indexed agentId, string indexed indexedKey, string key, string value)
func decodeMetadataSet(log types.Log) (MetadataSetPayload, error) {
	if err := requireTopics(log, 3, "MetadataSet"); err != nil {
		return MetadataSetPayload{}, err
	}

	args := abi.Arguments{{Type: stringTy}, {Type: stringTy}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return MetadataSetPayload{}, fmt.Errorf("failed to unpack key/value: %w", err)
	}

	return MetadataSetPayload{
		AgentID:    topicUint(log.Topics[1]).String(),
		IndexedKey: log.Topics[2].Hex(),
		Key:        unpacked[0].(string),
		Value:      unpacked[1].(string),
	}, nil
}

// decodeURIUpdated: URIUpdated(uint256 indexed agentId, string newURI, address indexed updatedBy)
func decodeURIUpdated(log types.Log) (URIUpdatedPayload, error) {
	if err := requireTopics(log, 3, "UriUpdated"); err != nil {
		return URIUpdatedPayload{}, err
	}

	args := abi.Arguments{{Type: stringTy}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return URIUpdatedPayload{}, fmt.Errorf("failed to unpack newURI: %w", err)
	}

	return URIUpdatedPayload{
		AgentID:   topicUint(log.Topics[1]).String(),
		NewURI:    unpacked[0].(string),
		UpdatedBy: topicAddress(log.Topics[2]),
	}, nil
}

// decodeNewFeedback: NewFeedback(uint256 indexed agentId, address indexed client, uint8 score,
//                                 bytes32 indexed tag1, bytes32 tag2, string feedbackURI, bytes32 feedbackHash)
func decodeNewFeedback(log types.Log) (NewFeedbackPayload, error) {
	if err := requireTopics(log, 4, "NewFeedback"); err != nil {
		return NewFeedbackPayload{}, err
	}

	args := abi.Arguments{{Type: uint8Ty}, {Type: bytes32Ty}, {Type: stringTy}, {Type: bytes32Ty}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return NewFeedbackPayload{}, fmt.Errorf("failed to unpack score/tag2/feedbackURI/feedbackHash: %w", err)
	}

	tag2 := unpacked[1].([32]byte)
	feedbackHash := unpacked[3].([32]byte)

	return NewFeedbackPayload{
		AgentID:      topicUint(log.Topics[1]).String(),
		Client:       topicAddress(log.Topics[2]),
		Score:        unpacked[0].(uint8),
		Tag1:         log.Topics[3].Hex(),
		Tag2:         common.Hash(tag2).Hex(),
		FeedbackURI:  unpacked[2].(string),
		FeedbackHash: common.Hash(feedbackHash).Hex(),
	}, nil
}

// decodeFeedbackRevoked: FeedbackRevoked(uint256 indexed agentId, address indexed client,
//                                         uint64 feedbackIndex, address indexed revoker)
func decodeFeedbackRevoked(log types.Log) (FeedbackRevokedPayload, error) {
	if err := requireTopics(log, 4, "FeedbackRevoked"); err != nil {
		return FeedbackRevokedPayload{}, err
	}

	args := abi.Arguments{{Type: uint64Ty}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return FeedbackRevokedPayload{}, fmt.Errorf("failed to unpack feedbackIndex: %w", err)
	}

	return FeedbackRevokedPayload{
		AgentID:       topicUint(log.Topics[1]).String(),
		Client:        topicAddress(log.Topics[2]),
		FeedbackIndex: unpacked[0].(uint64),
		Revoker:       topicAddress(log.Topics[3]),
	}, nil
}

// decodeResponseAppended: ResponseAppended(uint256 indexed agentId, address indexed client, uint64 feedbackIndex,
//                                           address responder, string responseURI, bytes32 responseHash)
func decodeResponseAppended(log types.Log) (ResponseAppendedPayload, error) {
	if err := requireTopics(log, 3, "ResponseAppended"); err != nil {
		return ResponseAppendedPayload{}, err
	}

	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		return ResponseAppendedPayload{}, err
	}

	args := abi.Arguments{{Type: uint64Ty}, {Type: addressTy}, {Type: stringTy}, {Type: bytes32Ty}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return ResponseAppendedPayload{}, fmt.Errorf("failed to unpack feedbackIndex/responder/responseURI/responseHash: %w", err)
	}

	responseHash := unpacked[3].([32]byte)

	return ResponseAppendedPayload{
		AgentID:       topicUint(log.Topics[1]).String(),
		Client:        topicAddress(log.Topics[2]),
		FeedbackIndex: unpacked[0].(uint64),
		Responder:     addressHex(unpacked[1].(common.Address)),
		ResponseURI:   unpacked[2].(string),
		ResponseHash:  common.Hash(responseHash).Hex(),
	}, nil
}

// decodeValidationRequest: ValidationRequest(address indexed validatorAddress, uint256 indexed agentId,
//                                             string requestURI, bytes32 requestHash)
func decodeValidationRequest(log types.Log) (ValidationRequestPayload, error) {
	if err := requireTopics(log, 3, "ValidationRequest"); err != nil {
		return ValidationRequestPayload{}, err
	}

	args := abi.Arguments{{Type: stringTy}, {Type: bytes32Ty}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return ValidationRequestPayload{}, fmt.Errorf("failed to unpack requestURI/requestHash: %w", err)
	}

	requestHash := unpacked[1].([32]byte)

	return ValidationRequestPayload{
		ValidatorAddress: topicAddress(log.Topics[1]),
		AgentID:          topicUint(log.Topics[2]).String(),
		RequestURI:       unpacked[0].(string),
		RequestHash:      common.Hash(requestHash).Hex(),
	}, nil
}

// decodeValidationResponse: ValidationResponse(address indexed validatorAddress, uint256 indexed agentId,
//                                               bytes32 indexed requestHash, uint8 response, string responseURI,
//                                               bytes32 responseHash, string tag)
func decodeValidationResponse(log types.Log) (ValidationResponsePayload, error) {
	if err := requireTopics(log, 4, "ValidationResponse"); err != nil {
		return ValidationResponsePayload{}, err
	}

	args := abi.Arguments{{Type: uint8Ty}, {Type: stringTy}, {Type: bytes32Ty}, {Type: stringTy}}
	unpacked, err := args.Unpack(log.Data)
	if err != nil {
		return ValidationResponsePayload{}, fmt.Errorf("failed to unpack response/responseURI/responseHash/tag: %w", err)
	}

	responseHash := unpacked[2].([32]byte)

	return ValidationResponsePayload{
		ValidatorAddress: topicAddress(log.Topics[1]),
		AgentID:          topicUint(log.Topics[2]).String(),
		RequestHash:      log.Topics[3].Hex(),
		Response:         unpacked[0].(uint8),
		ResponseURI:      unpacked[1].(string),
		ResponseHash:     common.Hash(responseHash).Hex(),
		Tag:              unpacked[3].(string),
	}, nil
}

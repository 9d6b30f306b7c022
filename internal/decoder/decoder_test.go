package decoder

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func packData(t *testing.T, args abi.Arguments, values ...any) []byte {
	t.Helper()
	data, err := args.Pack(values...)
	require.NoError(t, err)
	return data
}

func uintTopic(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecodeRegistered(t *testing.T) {
	owner := common.HexToAddress("0xabCDef1234567890AbcDEF1234567890aBCDEF12")
	args := abi.Arguments{{Type: stringTy}}
	log := types.Log{
		Topics: []common.Hash{registeredSig, uintTopic(42), addressTopic(owner)},
		Data:   packData(t, args, "ipfs://agent-42"),
	}

	decoded, ok, err := Decode(log)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Registered, decoded.EventType)

	payload := decoded.Payload.(RegisteredPayload)
	require.Equal(t, "42", payload.AgentID)
	require.Equal(t, strings.ToLower(owner.Hex()), payload.Owner)
	require.Equal(t, "ipfs://agent-42", payload.TokenURI)
}

func TestDecodeNewFeedback(t *testing.T) {
	client := common.HexToAddress("0xaBcD2222222222222222222222222222222222Ef")
	tag1 := common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000aa")
	tag2 := [32]byte(common.HexToHash("0xbbbb000000000000000000000000000000000000000000000000000000bb"))
	feedbackHash := [32]byte(common.HexToHash("0xcccc000000000000000000000000000000000000000000000000000000cc"))

	args := abi.Arguments{{Type: uint8Ty}, {Type: bytes32Ty}, {Type: stringTy}, {Type: bytes32Ty}}
	log := types.Log{
		Topics: []common.Hash{newFeedbackSig, uintTopic(7), addressTopic(client), tag1},
		Data:   packData(t, args, uint8(5), tag2, "ipfs://feedback", feedbackHash),
	}

	decoded, ok, err := Decode(log)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, NewFeedback, decoded.EventType)

	payload := decoded.Payload.(NewFeedbackPayload)
	require.Equal(t, "7", payload.AgentID)
	require.Equal(t, strings.ToLower(client.Hex()), payload.Client)
	require.Equal(t, uint8(5), payload.Score)
	require.Equal(t, tag1.Hex(), payload.Tag1)
	require.Equal(t, common.Hash(tag2).Hex(), payload.Tag2)
	require.Equal(t, "ipfs://feedback", payload.FeedbackURI)
	require.Equal(t, common.Hash(feedbackHash).Hex(), payload.FeedbackHash)
}

func TestDecodeValidationResponse(t *testing.T) {
	validator := common.HexToAddress("0xaBcD3333333333333333333333333333333333Ef")
	requestHash := common.HexToHash("0xdddd000000000000000000000000000000000000000000000000000000dd")
	responseHash := [32]byte(common.HexToHash("0xeeee000000000000000000000000000000000000000000000000000000ee"))

	args := abi.Arguments{{Type: uint8Ty}, {Type: stringTy}, {Type: bytes32Ty}, {Type: stringTy}}
	log := types.Log{
		Topics: []common.Hash{validationResponseSig, addressTopic(validator), uintTopic(99), requestHash},
		Data:   packData(t, args, uint8(1), "ipfs://response", responseHash, "tag-x"),
	}

	decoded, ok, err := Decode(log)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ValidationResponse, decoded.EventType)

	payload := decoded.Payload.(ValidationResponsePayload)
	require.Equal(t, strings.ToLower(validator.Hex()), payload.ValidatorAddress)
	require.Equal(t, "99", payload.AgentID)
	require.Equal(t, requestHash.Hex(), payload.RequestHash)
	require.Equal(t, uint8(1), payload.Response)
	require.Equal(t, "ipfs://response", payload.ResponseURI)
	require.Equal(t, common.Hash(responseHash).Hex(), payload.ResponseHash)
	require.Equal(t, "tag-x", payload.Tag)
}

func TestDecodeUnknownSignatureReturnsFalse(t *testing.T) {
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}

	decoded, ok, err := Decode(log)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, decoded)
}

func TestDecodeRejectsWrongTopicCount(t *testing.T) {
	log := types.Log{Topics: []common.Hash{registeredSig, uintTopic(1)}}

	_, _, err := Decode(log)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected 3 topics")
}

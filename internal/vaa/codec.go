package vaa

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

const (
	// HeaderLen is version, guardian set index and signature count.
	HeaderLen = 6
	// SignatureLen is one guardian index byte plus a 65-byte recoverable signature.
	SignatureLen = 66
	// MinBodyLen is the fixed-width part of a body before the payload.
	MinBodyLen = 51
)

// SignatureRecord is the 66-byte guardian signature wire record.
type SignatureRecord [SignatureLen]byte

// GuardianIndex returns the index of the guardian that produced the record.
func (r SignatureRecord) GuardianIndex() uint8 {
	return r[0]
}

// Parse parses a signed VAA without being strict about version.
// Versions 1 and 2 share the same layout; the raw bytes are still what gets
// verified on chain.
func Parse(data []byte) (*vaaLib.VAA, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("VAA too short: %d bytes", len(data))
	}

	version := data[0]
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("unsupported VAA version: %d", version)
	}

	guardianSetIndex := binary.BigEndian.Uint32(data[1:5])
	signatureCount := int(data[5])
	signaturesEnd := HeaderLen + signatureCount*SignatureLen
	if len(data) < signaturesEnd {
		return nil, fmt.Errorf("VAA too short for %d signatures", signatureCount)
	}

	v, err := ParseBody(data[signaturesEnd:])
	if err != nil {
		return nil, err
	}
	v.Version = version
	v.GuardianSetIndex = guardianSetIndex

	v.Signatures = make([]*vaaLib.Signature, signatureCount)
	for i := 0; i < signatureCount; i++ {
		start := HeaderLen + i*SignatureLen
		var sig [65]byte
		copy(sig[:], data[start+1:start+SignatureLen])
		v.Signatures[i] = &vaaLib.Signature{
			Index:     data[start],
			Signature: sig,
		}
	}

	return v, nil
}

// ParseBody decodes a VAA body into a VAA with no header fields set.
func ParseBody(body []byte) (*vaaLib.VAA, error) {
	if len(body) < MinBodyLen {
		return nil, fmt.Errorf("VAA body too short: %d bytes", len(body))
	}

	var emitterAddress vaaLib.Address
	copy(emitterAddress[:], body[10:42])

	payload := make([]byte, len(body)-MinBodyLen)
	copy(payload, body[MinBodyLen:])

	return &vaaLib.VAA{
		Timestamp:        time.Unix(int64(binary.BigEndian.Uint32(body[0:4])), 0),
		Nonce:            binary.BigEndian.Uint32(body[4:8]),
		EmitterChain:     vaaLib.ChainID(binary.BigEndian.Uint16(body[8:10])),
		EmitterAddress:   emitterAddress,
		Sequence:         binary.BigEndian.Uint64(body[42:50]),
		ConsistencyLevel: body[50],
		Payload:          payload,
	}, nil
}

// Marshal encodes v in the signed wire format.
func Marshal(v *vaaLib.VAA) ([]byte, error) {
	if len(v.Signatures) > 255 {
		return nil, fmt.Errorf("too many signatures: %d", len(v.Signatures))
	}
	return v.Marshal()
}

// Body returns the body bytes of v, the part covered by the signing digest.
func Body(v *vaaLib.VAA) []byte {
	raw, _ := v.Marshal()
	return raw[HeaderLen+len(v.Signatures)*SignatureLen:]
}

// Digest computes keccak256(keccak256(body)).
func Digest(body []byte) common.Hash {
	return crypto.Keccak256Hash(crypto.Keccak256(body))
}

// SignatureRecords flattens the signatures of v into wire records.
func SignatureRecords(v *vaaLib.VAA) []SignatureRecord {
	records := make([]SignatureRecord, len(v.Signatures))
	for i, sig := range v.Signatures {
		records[i][0] = sig.Index
		copy(records[i][1:], sig.Signature[:])
	}
	return records
}

// LogVAA logs all fields of a VAA for debugging
func LogVAA(logger *zap.Logger, v *vaaLib.VAA, rawBytes []byte) {
	logger.Debug("VAA details",
		zap.Uint8("version", v.Version),
		zap.Uint32("guardianSetIndex", v.GuardianSetIndex),
		zap.Int("signatureCount", len(v.Signatures)),
		zap.Time("timestamp", v.Timestamp),
		zap.Uint32("nonce", v.Nonce),
		zap.Uint64("sequence", v.Sequence),
		zap.Uint8("consistencyLevel", v.ConsistencyLevel),
		zap.Uint16("emitterChain", uint16(v.EmitterChain)),
		zap.String("emitterAddress", hex.EncodeToString(v.EmitterAddress[:])),
		zap.Int("payloadLength", len(v.Payload)),
		zap.String("digest", v.HexDigest()),
		zap.Int("rawBytesLength", len(rawBytes)),
	)

	for i, sig := range v.Signatures {
		logger.Debug("VAA signature",
			zap.Int("position", i),
			zap.Uint8("guardianIndex", sig.Index),
			zap.String("signature", hex.EncodeToString(sig.Signature[:])),
		)
	}
}

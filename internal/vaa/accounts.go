package vaa

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/near/borsh-go"
)

// Bridge defaults used when seeding a sandbox core bridge.
const (
	DefaultGuardianSetExpiration uint32 = 86400
	DefaultBridgeFee             uint64 = 10
)

// GuardianSetData is the core bridge guardian set account layout.
type GuardianSetData struct {
	Index          uint32
	Keys           [][20]byte
	CreationTime   uint32
	ExpirationTime uint32 // 0 means the set never expires
}

// NewGuardianSetData builds the account contents for guardians at index.
func NewGuardianSetData(guardians *GuardianSet, index uint32) GuardianSetData {
	data := GuardianSetData{Index: index, Keys: make([][20]byte, guardians.Len())}
	for i, addr := range guardians.EthAddresses() {
		data.Keys[i] = addr
	}
	return data
}

// Marshal encodes the account data.
func (d GuardianSetData) Marshal() ([]byte, error) {
	return borsh.Serialize(d)
}

// Addresses returns the keys as Ethereum addresses.
func (d GuardianSetData) Addresses() []common.Address {
	addrs := make([]common.Address, len(d.Keys))
	for i, k := range d.Keys {
		addrs[i] = common.Address(k)
	}
	return addrs
}

// ParseGuardianSetData decodes a guardian set account.
func ParseGuardianSetData(data []byte) (*GuardianSetData, error) {
	var out GuardianSetData
	if err := borsh.Deserialize(&out, data); err != nil {
		return nil, fmt.Errorf("failed to decode guardian set: %w", err)
	}
	return &out, nil
}

// BridgeData is the core bridge config account layout.
type BridgeData struct {
	GuardianSetIndex          uint32
	LastLamports              uint64
	GuardianSetExpirationTime uint32
	Fee                       uint64
}

// Marshal encodes the account data.
func (d BridgeData) Marshal() ([]byte, error) {
	return borsh.Serialize(d)
}

// ParseBridgeData decodes a bridge config account.
func ParseBridgeData(data []byte) (*BridgeData, error) {
	var out BridgeData
	if err := borsh.Deserialize(&out, data); err != nil {
		return nil, fmt.Errorf("failed to decode bridge config: %w", err)
	}
	return &out, nil
}

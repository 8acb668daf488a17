// Package wormhole holds the Solana program ids, PDA derivations and
// instruction encodings of the Wormhole core bridge and its shims.
package wormhole

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Mainnet program ids. The shims are deployed at the same address on every
// cluster.
var (
	CoreBridgeProgramID       = solana.MustPublicKeyFromBase58("worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth")
	DevnetCoreBridgeProgramID = solana.MustPublicKeyFromBase58("3u8hJUVTA4jH1wYAyUur7FFZVQ8H635K3tSHHF4ssjQ5")
	VerifyVAAShimProgramID    = solana.MustPublicKeyFromBase58("EFaNWErqAtVWufdNb7yofSHHfWFos843DFpu4JBw24at")
	PostMessageShimProgramID  = solana.MustPublicKeyFromBase58("EtZMZM22ViKMo4r5y4Anovs3wKQ2owUmDpjygnMMcdEX")
)

// PDA seeds.
var (
	GuardianSetSeed    = []byte("GuardianSet")
	BridgeConfigSeed   = []byte("Bridge")
	SequenceSeed       = []byte("Sequence")
	FeeCollectorSeed   = []byte("fee_collector")
	EventAuthoritySeed = []byte("__event_authority")
)

// ChainIDSolana is the Wormhole chain id of Solana.
const ChainIDSolana uint16 = 1

// CoreBridgeForCluster picks the core bridge deployment matching an RPC URL.
func CoreBridgeForCluster(rpcURL string) solana.PublicKey {
	switch {
	case containsAny(rpcURL, "devnet", "testnet", "localhost", "127.0.0.1"):
		return DevnetCoreBridgeProgramID
	default:
		return CoreBridgeProgramID
	}
}

// GuardianSetAddress derives the guardian set account for index.
func GuardianSetAddress(index uint32, coreBridge solana.PublicKey) (solana.PublicKey, uint8, error) {
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], index)
	return find(coreBridge, GuardianSetSeed, be[:])
}

// BridgeConfigAddress derives the core bridge config account.
func BridgeConfigAddress(coreBridge solana.PublicKey) (solana.PublicKey, uint8, error) {
	return find(coreBridge, BridgeConfigSeed)
}

// FeeCollectorAddress derives the core bridge fee collector.
func FeeCollectorAddress(coreBridge solana.PublicKey) (solana.PublicKey, uint8, error) {
	return find(coreBridge, FeeCollectorSeed)
}

// EmitterSequenceAddress derives the sequence tracker of an emitter.
func EmitterSequenceAddress(emitter, coreBridge solana.PublicKey) (solana.PublicKey, uint8, error) {
	return find(coreBridge, SequenceSeed, emitter.Bytes())
}

// ShimMessageAddress derives the message account the post message shim
// reuses for every message of an emitter.
func ShimMessageAddress(emitter, postMessageShim solana.PublicKey) (solana.PublicKey, uint8, error) {
	return find(postMessageShim, emitter.Bytes())
}

// EventAuthorityAddress derives the Anchor event authority of a program.
func EventAuthorityAddress(program solana.PublicKey) (solana.PublicKey, uint8, error) {
	return find(program, EventAuthoritySeed)
}

func find(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive address for program %s: %w", program, err)
	}
	return addr, bump, nil
}

// Selector returns the Anchor instruction discriminator for name.
func Selector(name string) [8]byte {
	return discriminator("global:" + name)
}

// EventDiscriminator returns the Anchor event discriminator for name.
func EventDiscriminator(name string) [8]byte {
	return discriminator("event:" + name)
}

// AccountDiscriminator returns the Anchor account discriminator for name.
func AccountDiscriminator(name string) [8]byte {
	return discriminator("account:" + name)
}

func discriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

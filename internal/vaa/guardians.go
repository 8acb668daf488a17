package vaa

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// devnetGuardianKey is guardian 0 of the Wormhole devnet (tilt) environment.
const devnetGuardianKey = "cfb12303a19cde580bb4dd771639b0d26bc68353645571a8cff516ab2ee113a0"

// Guardian is a simulated guardian signing key.
type Guardian struct {
	key *ecdsa.PrivateKey
}

// NewGuardian wraps an existing secp256k1 key.
func NewGuardian(key *ecdsa.PrivateKey) Guardian {
	return Guardian{key: key}
}

// DefaultGuardian returns the well-known devnet guardian.
func DefaultGuardian() Guardian {
	key, err := crypto.HexToECDSA(devnetGuardianKey)
	if err != nil {
		panic(err)
	}
	return Guardian{key: key}
}

// Address returns the guardian's Ethereum-style address.
func (g Guardian) Address() common.Address {
	return crypto.PubkeyToAddress(g.key.PublicKey)
}

// SignDigest produces a 65-byte recoverable signature over digest.
func (g Guardian) SignDigest(digest common.Hash) ([65]byte, error) {
	var out [65]byte
	sig, err := crypto.Sign(digest.Bytes(), g.key)
	if err != nil {
		return out, fmt.Errorf("failed to sign digest: %w", err)
	}
	copy(out[:], sig)
	return out, nil
}

// GuardianSet is an ordered set of simulated guardians.
type GuardianSet struct {
	guardians []Guardian
}

// SingleGuardian returns a set containing only g.
func SingleGuardian(g Guardian) *GuardianSet {
	return &GuardianSet{guardians: []Guardian{g}}
}

// NewGuardianSet returns a set of the given guardians in index order.
func NewGuardianSet(guardians ...Guardian) *GuardianSet {
	return &GuardianSet{guardians: append([]Guardian(nil), guardians...)}
}

// GenerateGuardians derives n deterministic guardians from seed.
// Key i is keccak256(seed || i), both little-endian u64.
func GenerateGuardians(n int, seed uint64) (*GuardianSet, error) {
	if n <= 0 || n > 255 {
		return nil, fmt.Errorf("invalid guardian count: %d", n)
	}
	set := &GuardianSet{guardians: make([]Guardian, 0, n)}
	var material [16]byte
	binary.LittleEndian.PutUint64(material[:8], seed)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(material[8:], uint64(i))
		key, err := crypto.ToECDSA(crypto.Keccak256(material[:]))
		if err != nil {
			return nil, fmt.Errorf("failed to derive guardian %d: %w", i, err)
		}
		set.guardians = append(set.guardians, Guardian{key: key})
	}
	return set, nil
}

// Len returns the number of guardians.
func (s *GuardianSet) Len() int {
	return len(s.guardians)
}

// Guardian returns the guardian at index i.
func (s *GuardianSet) Guardian(i int) Guardian {
	return s.guardians[i]
}

// EthAddresses returns the guardian addresses in index order.
func (s *GuardianSet) EthAddresses() []common.Address {
	addrs := make([]common.Address, len(s.guardians))
	for i, g := range s.guardians {
		addrs[i] = g.Address()
	}
	return addrs
}

// Sign signs body with every guardian, in index order.
func (s *GuardianSet) Sign(body []byte) ([]SignatureRecord, error) {
	indices := make([]uint8, len(s.guardians))
	for i := range s.guardians {
		indices[i] = uint8(i)
	}
	return s.SignWith(body, indices)
}

// SignWith signs body with the guardians at the given indices, in the order given.
func (s *GuardianSet) SignWith(body []byte, indices []uint8) ([]SignatureRecord, error) {
	digest := Digest(body)
	records := make([]SignatureRecord, 0, len(indices))
	for _, idx := range indices {
		if int(idx) >= len(s.guardians) {
			return nil, fmt.Errorf("guardian index %d out of range (set size %d)", idx, len(s.guardians))
		}
		sig, err := s.guardians[idx].SignDigest(digest)
		if err != nil {
			return nil, err
		}
		var rec SignatureRecord
		rec[0] = idx
		copy(rec[1:], sig[:])
		records = append(records, rec)
	}
	return records, nil
}

// Verify reports whether records are valid signatures of body by this set,
// with strictly increasing guardian indices.
func (s *GuardianSet) Verify(body []byte, records []SignatureRecord) bool {
	sigs := make([]*vaaLib.Signature, len(records))
	for i, rec := range records {
		sig := &vaaLib.Signature{Index: rec[0]}
		copy(sig.Signature[:], rec[1:])
		sigs[i] = sig
	}
	return vaaLib.DeprecatedVerifySignatures(body, sigs, s.EthAddresses())
}

// RecoverSigner returns the address that produced sig over digest.
// Recovery ids of 27/28 are normalised to 0/1.
func RecoverSigner(digest common.Hash, sig [65]byte) (common.Address, error) {
	normalized := sig
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized[:])
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

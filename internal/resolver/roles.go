// Package resolver drives the executor account resolver protocol: a program
// is simulated repeatedly until it reports every account it needs to execute
// a VAA.
package resolver

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Role is an account the resolving program cannot know in advance and names
// with a reserved placeholder address instead.
type Role uint8

const (
	RolePayer Role = iota
	RoleSignaturesAccount
	RoleGuardianSet
	roleGeneratedSigner
)

// GeneratedSignerCount is the size of the generated signer pool.
const GeneratedSignerCount = 10

// GeneratedSigner returns the role of generated signer slot i.
func GeneratedSigner(i int) Role {
	if i < 0 || i >= GeneratedSignerCount {
		panic(fmt.Sprintf("generated signer slot %d out of range", i))
	}
	return roleGeneratedSigner + Role(i)
}

// GeneratedSlot reports the pool slot of a generated signer role.
func (r Role) GeneratedSlot() (int, bool) {
	if r < roleGeneratedSigner || r >= roleGeneratedSigner+GeneratedSignerCount {
		return 0, false
	}
	return int(r - roleGeneratedSigner), true
}

func (r Role) String() string {
	switch r {
	case RolePayer:
		return "payer"
	case RoleSignaturesAccount:
		return "signatures"
	case RoleGuardianSet:
		return "guardian_set"
	}
	if slot, ok := r.GeneratedSlot(); ok {
		return fmt.Sprintf("keypair_%02d", slot)
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Address returns the placeholder address standing in for r.
func (r Role) Address() solana.PublicKey {
	if int(r) >= len(placeholders) {
		panic(fmt.Sprintf("unknown role %d", uint8(r)))
	}
	return placeholders[r]
}

// RoleOf reports whether addr is a placeholder and which role it stands for.
func RoleOf(addr solana.PublicKey) (Role, bool) {
	r, ok := roles[addr]
	return r, ok
}

// IsPlaceholder reports whether addr is any placeholder.
func IsPlaceholder(addr solana.PublicKey) bool {
	_, ok := roles[addr]
	return ok
}

// Roles lists every role in table order.
func Roles() []Role {
	out := make([]Role, len(placeholders))
	for i := range placeholders {
		out[i] = Role(i)
	}
	return out
}

var placeholders = []solana.PublicKey{
	RolePayer:               solana.MustPublicKeyFromBase58("payer11111111111111111111111111111111111111"),
	RoleSignaturesAccount:   solana.MustPublicKeyFromBase58("shimVaaSigs11111111111111111111111111111111"),
	RoleGuardianSet:         solana.MustPublicKeyFromBase58("guardianSet11111111111111111111111111111111"),
	roleGeneratedSigner + 0: solana.MustPublicKeyFromBase58("keypairA11111111111111111111111111111111111"),
	roleGeneratedSigner + 1: solana.MustPublicKeyFromBase58("keypairB11111111111111111111111111111111111"),
	roleGeneratedSigner + 2: solana.MustPublicKeyFromBase58("keypairC11111111111111111111111111111111111"),
	roleGeneratedSigner + 3: solana.MustPublicKeyFromBase58("keypairD11111111111111111111111111111111111"),
	roleGeneratedSigner + 4: solana.MustPublicKeyFromBase58("keypairE11111111111111111111111111111111111"),
	roleGeneratedSigner + 5: solana.MustPublicKeyFromBase58("keypairF11111111111111111111111111111111111"),
	roleGeneratedSigner + 6: solana.MustPublicKeyFromBase58("keypairG11111111111111111111111111111111111"),
	roleGeneratedSigner + 7: solana.MustPublicKeyFromBase58("keypairH11111111111111111111111111111111111"),
	roleGeneratedSigner + 8: solana.MustPublicKeyFromBase58("keypairJ11111111111111111111111111111111111"),
	roleGeneratedSigner + 9: solana.MustPublicKeyFromBase58("keypairK11111111111111111111111111111111111"),
}

var roles = func() map[solana.PublicKey]Role {
	m := make(map[solana.PublicKey]Role, len(placeholders))
	for i, addr := range placeholders {
		if _, dup := m[addr]; dup {
			panic("duplicate placeholder " + addr.String())
		}
		m[addr] = Role(i)
	}
	return m
}()

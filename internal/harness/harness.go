// Package harness checks that a VAA-consuming program rejects forged,
// misattributed and replayed messages before letting a legitimate delivery
// through. Negative probes run against forks of the state so only the
// legitimate run is ever committed.
package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/clients"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/submitter"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/vaa"
	"github.com/wormholelabs-xyz/wormhole-svm-utils/internal/wormhole"
)

var (
	// ErrVerificationBypass reports a program accepting a body the posted
	// signatures do not cover.
	ErrVerificationBypass = errors.New("verification bypass: program accepted signatures for a different message")
	// ErrEmitterChainBypass reports a program accepting a validly signed
	// message from an unexpected emitter chain.
	ErrEmitterChainBypass = errors.New("emitter chain bypass: program accepted a message from another chain")
	// ErrEmitterAddressBypass reports a program accepting a validly signed
	// message from an unexpected emitter address.
	ErrEmitterAddressBypass = errors.New("emitter address bypass: program accepted a message from another emitter")
	// ErrReplayProtectionMissing reports a program accepting the same
	// message twice.
	ErrReplayProtectionMissing = errors.New("replay protection missing: program accepted the same message twice")
	// ErrVerificationFailed reports a legitimate delivery the program
	// rejected.
	ErrVerificationFailed = errors.New("verification failed")
)

// State is a ledger the harness can fork for probes.
type State[S any] interface {
	clients.Connection
	Fork() S
}

// Verifier runs the operation under test against state, consuming the
// guardian signatures posted at signatures for body.
type Verifier[S any, T any] func(state S, signatures solana.PublicKey, body []byte) (T, error)

// WithVAA delivers msg to the operation under test after probing it with a
// signature mismatch, a foreign emitter chain and a foreign emitter address
// (the latter two as selected by msg.Checks). The legitimate run is
// committed to state, then a replay of it is probed on a fork unless the
// message is Replayable.
func WithVAA[S State[S], T any](
	ctx context.Context,
	state S,
	payer solana.PrivateKey,
	guardians *vaa.GuardianSet,
	msg vaa.Message,
	verify Verifier[S, T],
) (T, error) {
	var zero T
	body := msg.Body()

	// Signatures over a neighbouring message must not verify body.
	mismatched := msg
	mismatched.Sequence++
	if accepted, err := probe(ctx, state.Fork(), payer, guardians, mismatched, body, verify); err != nil {
		return zero, err
	} else if accepted {
		return zero, ErrVerificationBypass
	}

	if msg.Checks.EmitterChain {
		foreign := msg
		foreign.EmitterChain++
		if accepted, err := probe(ctx, state.Fork(), payer, guardians, foreign, foreign.Body(), verify); err != nil {
			return zero, err
		} else if accepted {
			return zero, fmt.Errorf("%w (chain %d)", ErrEmitterChainBypass, foreign.EmitterChain)
		}
	}

	if msg.Checks.EmitterAddress {
		foreign := msg
		foreign.EmitterAddress[31] ^= 0xFF
		if accepted, err := probe(ctx, state.Fork(), payer, guardians, foreign, foreign.Body(), verify); err != nil {
			return zero, err
		} else if accepted {
			return zero, ErrEmitterAddressBypass
		}
	}

	out, err := WithVAAUnchecked(ctx, state, payer, guardians, msg, verify)
	if err != nil {
		return zero, err
	}

	if msg.Checks.Replay == vaa.NonReplayable {
		if accepted, err := probe(ctx, state.Fork(), payer, guardians, msg, body, verify); err != nil {
			return zero, err
		} else if accepted {
			return zero, ErrReplayProtectionMissing
		}
	}
	return out, nil
}

// WithVAAUnchecked delivers msg to the operation under test without any
// probes.
func WithVAAUnchecked[S State[S], T any](
	ctx context.Context,
	state S,
	payer solana.PrivateKey,
	guardians *vaa.GuardianSet,
	msg vaa.Message,
	verify Verifier[S, T],
) (T, error) {
	var zero T
	body := msg.Body()
	records, err := guardians.Sign(body)
	if err != nil {
		return zero, err
	}
	out, err := WithPostedSignatures(ctx, state, payer, msg.GuardianSetIndex, records, func(signatures solana.PublicKey) (T, error) {
		return verify(state, signatures, body)
	})
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	return out, nil
}

// WithPostedSignatures posts records, runs fn with the signatures account
// and closes the account again whether or not fn succeeded. A close failure
// is only reported when fn succeeded.
func WithPostedSignatures[T any](
	ctx context.Context,
	conn clients.Connection,
	payer solana.PrivateKey,
	guardianSetIndex uint32,
	records []vaa.SignatureRecord,
	fn func(signatures solana.PublicKey) (T, error),
) (T, error) {
	var zero T
	posted, err := submitter.PostSignatures(ctx, conn, payer, wormhole.VerifyVAAShimProgramID, guardianSetIndex, records)
	if err != nil {
		return zero, err
	}

	out, err := fn(posted.Address)
	closeErr := submitter.CloseSignatures(context.WithoutCancel(ctx), conn, payer,
		wormhole.VerifyVAAShimProgramID, posted.Address, payer.PublicKey())
	if err != nil {
		return zero, err
	}
	if closeErr != nil {
		return zero, closeErr
	}
	return out, nil
}

// probe posts signatures for signed into fork and reports whether verify
// accepted body there. Errors are setup failures, not rejections. The fork
// is discarded, so the signatures account is left open.
func probe[S State[S], T any](
	ctx context.Context,
	fork S,
	payer solana.PrivateKey,
	guardians *vaa.GuardianSet,
	signed vaa.Message,
	body []byte,
	verify Verifier[S, T],
) (bool, error) {
	records, err := signed.Signatures(guardians)
	if err != nil {
		return false, err
	}
	posted, err := submitter.PostSignatures(ctx, fork, payer, wormhole.VerifyVAAShimProgramID, signed.GuardianSetIndex, records)
	if err != nil {
		return false, fmt.Errorf("probe setup: %w", err)
	}
	_, err = verify(fork, posted.Address, body)
	return err == nil, nil
}

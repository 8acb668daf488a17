package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const pdaPrefix = "pda:"

// parseSeed reads a 0x-prefixed hex seed or takes the string as UTF-8 bytes.
func parseSeed(seed string) ([]byte, error) {
	if h, ok := strings.CutPrefix(seed, "0x"); ok {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("invalid hex seed %q: %w", seed, err)
		}
		return b, nil
	}
	return []byte(seed), nil
}

func parseSeeds(seeds []string) ([][]byte, error) {
	out := make([][]byte, 0, len(seeds))
	for _, s := range seeds {
		b, err := parseSeed(s)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// derivedAddress is a program address found from seeds.
type derivedAddress struct {
	Address solana.PublicKey
	Bump    uint8
}

func derive(program string, seeds []string) (*derivedAddress, error) {
	programID, err := solana.PublicKeyFromBase58(program)
	if err != nil {
		return nil, fmt.Errorf("invalid program ID %q: %w", program, err)
	}
	seedBytes, err := parseSeeds(seeds)
	if err != nil {
		return nil, err
	}
	address, bump, err := solana.FindProgramAddress(seedBytes, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %w", err)
	}
	return &derivedAddress{Address: address, Bump: bump}, nil
}

// parseAddress accepts a base58 address or pda:PROGRAM:seed1:seed2:...
// The derivation is returned for the pda form.
func parseAddress(address string) (solana.PublicKey, *derivedAddress, error) {
	rest, ok := strings.CutPrefix(address, pdaPrefix)
	if !ok {
		key, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			return solana.PublicKey{}, nil, fmt.Errorf("invalid account address %q: %w", address, err)
		}
		return key, nil, nil
	}

	parts := strings.Split(rest, ":")
	if len(parts) < 2 {
		return solana.PublicKey{}, nil, errors.New("pda: syntax requires a program id and at least one seed: pda:<PROGRAM_ID>:seed1:...")
	}
	derived, err := derive(parts[0], parts[1:])
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	return derived.Address, derived, nil
}

// readVAA decodes a hex VAA given inline, as @file or on stdin when arg is empty.
func readVAA(arg string, stdin io.Reader) ([]byte, error) {
	var text string
	switch {
	case strings.HasPrefix(arg, "@"):
		contents, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		text = string(contents)
	case arg != "":
		text = arg
	default:
		if f, ok := stdin.(*os.File); ok {
			if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
				return nil, errors.New("no VAA provided; pass as argument, @file, or pipe to stdin")
			}
		}
		contents, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		text = string(contents)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(text), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding hex VAA: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty VAA")
	}
	return raw, nil
}

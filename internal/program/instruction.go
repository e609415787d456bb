// Package program describes the coordinating program's instructions: one
// typed value per operation with a fixed account schema.
package program

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	Initialize         = "initialize"
	CreateRaffle       = "create_raffle"
	UpdateRafflePeriod = "update_raffle_period"
	BuyTickets         = "buy_tickets"
	RevealWinner       = "reveal_winner"
	ClaimReward        = "claim_reward"
	WithdrawNft        = "withdraw_nft"
)

// AccountSpec is one slot of an instruction's account list. Fixed slots
// always hold Key; the system program key is all zeros, so Fixed marks them.
type AccountSpec struct {
	Name     string
	Writable bool
	Signer   bool
	Fixed    bool
	Key      solana.PublicKey
}

var (
	systemProgramSlot = AccountSpec{Name: "systemProgram", Fixed: true, Key: solana.SystemProgramID}
	tokenProgramSlot  = AccountSpec{Name: "tokenProgram", Fixed: true, Key: solana.TokenProgramID}
	rentSlot          = AccountSpec{Name: "rent", Fixed: true, Key: solana.SysVarRentPubkey}
)

var (
	rewardSchema = []AccountSpec{
		{Name: "claimer", Writable: true, Signer: true},
		{Name: "globalAuthority"},
		{Name: "raffle", Writable: true},
		{Name: "claimerNftTokenAccount", Writable: true},
		{Name: "srcNftTokenAccount", Writable: true},
		{Name: "nftMintAddress"},
		tokenProgramSlot,
	}

	schemas = map[string][]AccountSpec{
		Initialize: {
			{Name: "admin", Writable: true, Signer: true},
			{Name: "globalAuthority", Writable: true},
			systemProgramSlot,
			rentSlot,
		},
		CreateRaffle: {
			{Name: "admin", Writable: true, Signer: true},
			{Name: "globalAuthority", Writable: true},
			{Name: "raffle", Writable: true},
			{Name: "ownerTempNftAccount", Writable: true},
			{Name: "destNftTokenAccount", Writable: true},
			{Name: "nftMintAddress"},
			tokenProgramSlot,
		},
		UpdateRafflePeriod: {
			{Name: "admin", Signer: true},
			{Name: "raffle", Writable: true},
		},
		BuyTickets: {
			{Name: "buyer", Writable: true, Signer: true},
			{Name: "raffle", Writable: true},
			{Name: "globalAuthority"},
			{Name: "creator", Writable: true},
			{Name: "creatorTokenAccount", Writable: true},
			{Name: "userTokenAccount", Writable: true},
			tokenProgramSlot,
			systemProgramSlot,
		},
		RevealWinner: {
			{Name: "buyer", Signer: true},
			{Name: "raffle", Writable: true},
		},
		ClaimReward: rewardSchema,
		WithdrawNft: rewardSchema,
	}
)

// Schema returns the account layout of the named instruction.
func Schema(name string) ([]AccountSpec, bool) {
	s, ok := schemas[name]
	return s, ok
}

// Discriminator is the 8-byte instruction tag the program dispatches on.
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Instruction is a program instruction with its named account list.
// It implements solana.Instruction.
type Instruction struct {
	Name      string
	programID solana.PublicKey
	accounts  solana.AccountMetaSlice
	data      []byte
}

func newInstruction(programID solana.PublicKey, name string, args interface{}, keys ...solana.PublicKey) (*Instruction, error) {
	schema, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("program: unknown instruction %q", name)
	}
	if len(keys) != len(schema) {
		return nil, fmt.Errorf("program: %s takes %d accounts, got %d", name, len(schema), len(keys))
	}

	metas := make(solana.AccountMetaSlice, len(keys))
	for i, key := range keys {
		metas[i] = solana.NewAccountMeta(key, schema[i].Writable, schema[i].Signer)
	}

	data, err := EncodeData(name, args)
	if err != nil {
		return nil, err
	}

	return &Instruction{Name: name, programID: programID, accounts: metas, data: data}, nil
}

func (i *Instruction) ProgramID() solana.PublicKey {
	return i.programID
}

func (i *Instruction) Accounts() []*solana.AccountMeta {
	return i.accounts
}

func (i *Instruction) Data() ([]byte, error) {
	return i.data, nil
}

// Account returns the key bound to the named schema slot.
func (i *Instruction) Account(name string) (solana.PublicKey, bool) {
	for idx, spec := range schemas[i.Name] {
		if spec.Name == name && idx < len(i.accounts) {
			return i.accounts[idx].PublicKey, true
		}
	}
	return solana.PublicKey{}, false
}

// Validate checks the instruction against its fixed schema.
func (i *Instruction) Validate() error {
	schema, ok := schemas[i.Name]
	if !ok {
		return fmt.Errorf("program: unknown instruction %q", i.Name)
	}
	if i.programID.IsZero() {
		return fmt.Errorf("program: %s has no program id", i.Name)
	}
	if len(i.accounts) != len(schema) {
		return fmt.Errorf("program: %s carries %d accounts, schema wants %d", i.Name, len(i.accounts), len(schema))
	}
	for idx, spec := range schema {
		meta := i.accounts[idx]
		switch {
		case meta == nil:
			return fmt.Errorf("program: %s account %q is unresolved", i.Name, spec.Name)
		case spec.Fixed && !meta.PublicKey.Equals(spec.Key):
			return fmt.Errorf("program: %s account %q must be %s, got %s", i.Name, spec.Name, spec.Key, meta.PublicKey)
		case !spec.Fixed && meta.PublicKey.IsZero():
			return fmt.Errorf("program: %s account %q is unresolved", i.Name, spec.Name)
		}
		if meta.IsWritable != spec.Writable || meta.IsSigner != spec.Signer {
			return fmt.Errorf("program: %s account %q has flags writable=%v signer=%v, schema wants writable=%v signer=%v",
				i.Name, spec.Name, meta.IsWritable, meta.IsSigner, spec.Writable, spec.Signer)
		}
	}
	d := Discriminator(i.Name)
	if len(i.data) < 8 || !bytes.Equal(i.data[:8], d[:]) {
		return fmt.Errorf("program: %s data lacks its discriminator", i.Name)
	}
	return nil
}

// EncodeData serialises the discriminator followed by borsh-encoded args.
func EncodeData(name string, args interface{}) ([]byte, error) {
	d := Discriminator(name)
	buf := bytes.NewBuffer(d[:])
	if args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
			return nil, fmt.Errorf("program: encode %s args: %w", name, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeData identifies the instruction behind data and decodes its args
// into v when v is non-nil.
func DecodeData(data []byte, v interface{}) (string, error) {
	if len(data) < 8 {
		return "", fmt.Errorf("program: instruction data too short")
	}
	for name := range schemas {
		d := Discriminator(name)
		if !bytes.Equal(data[:8], d[:]) {
			continue
		}
		if v != nil {
			if err := bin.NewBorshDecoder(data[8:]).Decode(v); err != nil {
				return name, fmt.Errorf("program: decode %s args: %w", name, err)
			}
		}
		return name, nil
	}
	return "", fmt.Errorf("program: unknown instruction discriminator %x", data[:8])
}

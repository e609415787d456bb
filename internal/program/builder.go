package program

import (
	"github.com/gagliardetto/solana-go"
)

type InitializeArgs struct {
	Bump uint8
}

// CreateRaffleArgs keeps the program's argument order: BOOGA, ZION, SOL.
type CreateRaffleArgs struct {
	Bump             uint8
	TicketPriceBooga uint64
	TicketPriceZion  uint64
	TicketPriceSol   uint64
	EndTimestamp     int64
	WinnerCount      uint64
	Whitelisted      uint64
	Max              uint64
}

type UpdateRafflePeriodArgs struct {
	EndTimestamp int64
}

type BuyTicketsArgs struct {
	Bump   uint8
	Amount uint64
}

type RewardArgs struct {
	Bump uint8
}

// Builder builds instructions for one deployed program.
type Builder struct {
	programID solana.PublicKey
}

func NewBuilder(programID solana.PublicKey) *Builder {
	return &Builder{programID: programID}
}

func (b *Builder) Initialize(admin, globalAuthority solana.PublicKey, bump uint8) (*Instruction, error) {
	return newInstruction(b.programID, Initialize, &InitializeArgs{Bump: bump},
		admin, globalAuthority, solana.SystemProgramID, solana.SysVarRentPubkey)
}

type CreateRaffleAccounts struct {
	Admin               solana.PublicKey
	GlobalAuthority     solana.PublicKey
	Raffle              solana.PublicKey
	OwnerTempNftAccount solana.PublicKey
	DestNftTokenAccount solana.PublicKey
	NftMint             solana.PublicKey
}

func (b *Builder) CreateRaffle(accounts CreateRaffleAccounts, args CreateRaffleArgs) (*Instruction, error) {
	return newInstruction(b.programID, CreateRaffle, &args,
		accounts.Admin,
		accounts.GlobalAuthority,
		accounts.Raffle,
		accounts.OwnerTempNftAccount,
		accounts.DestNftTokenAccount,
		accounts.NftMint,
		solana.TokenProgramID,
	)
}

func (b *Builder) UpdateRafflePeriod(admin, raffle solana.PublicKey, endTimestamp int64) (*Instruction, error) {
	return newInstruction(b.programID, UpdateRafflePeriod, &UpdateRafflePeriodArgs{EndTimestamp: endTimestamp},
		admin, raffle)
}

type BuyTicketsAccounts struct {
	Buyer               solana.PublicKey
	Raffle              solana.PublicKey
	GlobalAuthority     solana.PublicKey
	Creator             solana.PublicKey
	CreatorTokenAccount solana.PublicKey
	UserTokenAccount    solana.PublicKey
}

func (b *Builder) BuyTickets(accounts BuyTicketsAccounts, args BuyTicketsArgs) (*Instruction, error) {
	return newInstruction(b.programID, BuyTickets, &args,
		accounts.Buyer,
		accounts.Raffle,
		accounts.GlobalAuthority,
		accounts.Creator,
		accounts.CreatorTokenAccount,
		accounts.UserTokenAccount,
		solana.TokenProgramID,
		solana.SystemProgramID,
	)
}

func (b *Builder) RevealWinner(caller, raffle solana.PublicKey) (*Instruction, error) {
	return newInstruction(b.programID, RevealWinner, nil, caller, raffle)
}

type RewardAccounts struct {
	Claimer                solana.PublicKey
	GlobalAuthority        solana.PublicKey
	Raffle                 solana.PublicKey
	ClaimerNftTokenAccount solana.PublicKey
	SrcNftTokenAccount     solana.PublicKey
	NftMint                solana.PublicKey
}

func (b *Builder) ClaimReward(accounts RewardAccounts, bump uint8) (*Instruction, error) {
	return b.reward(ClaimReward, accounts, bump)
}

func (b *Builder) WithdrawNft(accounts RewardAccounts, bump uint8) (*Instruction, error) {
	return b.reward(WithdrawNft, accounts, bump)
}

func (b *Builder) reward(name string, accounts RewardAccounts, bump uint8) (*Instruction, error) {
	return newInstruction(b.programID, name, &RewardArgs{Bump: bump},
		accounts.Claimer,
		accounts.GlobalAuthority,
		accounts.Raffle,
		accounts.ClaimerNftTokenAccount,
		accounts.SrcNftTokenAccount,
		accounts.NftMint,
		solana.TokenProgramID,
	)
}

package ledgertest

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"coordinator/internal/address"
	"coordinator/internal/ledger"
	"coordinator/internal/program"
	"coordinator/internal/raffle"
)

// accountsOf binds positional accounts to their schema names and checks
// signer flags against the transaction.
func accountsOf(tx *solana.Transaction, name string, keys []solana.PublicKey) (map[string]solana.PublicKey, error) {
	schema, _ := program.Schema(name)
	if len(keys) != len(schema) {
		return nil, fmt.Errorf("%s: expected %d accounts, got %d", name, len(schema), len(keys))
	}
	named := make(map[string]solana.PublicKey, len(keys))
	for i, spec := range schema {
		if spec.Signer && !tx.Message.IsSigner(keys[i]) {
			return nil, fmt.Errorf("%s: %s must sign", name, spec.Name)
		}
		named[spec.Name] = keys[i]
	}
	return named, nil
}

func (l *Ledger) runProgram(tx *solana.Transaction, keys []solana.PublicKey, data []byte) error {
	name, err := program.DecodeData(data, nil)
	if err != nil {
		return err
	}
	accounts, err := accountsOf(tx, name, keys)
	if err != nil {
		return err
	}

	authority, _ := address.NewResolver(l.programID).GlobalAuthority()
	if ga, ok := accounts["globalAuthority"]; ok && !ga.Equals(authority) {
		return fmt.Errorf("%s: wrong global authority %s", name, ga)
	}

	switch name {
	case program.Initialize:
		return l.initialize(accounts)
	case program.CreateRaffle:
		var args program.CreateRaffleArgs
		if _, err := program.DecodeData(data, &args); err != nil {
			return err
		}
		return l.createRaffle(accounts, args)
	case program.UpdateRafflePeriod:
		var args program.UpdateRafflePeriodArgs
		if _, err := program.DecodeData(data, &args); err != nil {
			return err
		}
		return l.updateRafflePeriod(accounts, args)
	case program.BuyTickets:
		var args program.BuyTicketsArgs
		if _, err := program.DecodeData(data, &args); err != nil {
			return err
		}
		return l.buyTickets(accounts, args)
	case program.RevealWinner:
		return l.revealWinner(accounts)
	case program.ClaimReward:
		return l.claimReward(accounts)
	case program.WithdrawNft:
		return l.withdrawNft(accounts)
	default:
		return fmt.Errorf("unhandled instruction %s", name)
	}
}

func (l *Ledger) initialize(accounts map[string]solana.PublicKey) error {
	ga := accounts["globalAuthority"]
	if _, exists := l.accounts[ga]; exists {
		return fmt.Errorf("initialize: global authority already in use")
	}
	lamports := rentExempt(raffle.GlobalPoolSize)
	if err := l.debit(accounts["admin"], lamports); err != nil {
		return err
	}
	record := raffle.GlobalPool{SuperAdmin: accounts["admin"]}
	l.put(&ledger.Account{Address: ga, Owner: l.programID, Lamports: lamports, Data: record.Encode()})
	return nil
}

func (l *Ledger) pool(address solana.PublicKey) (*raffle.Pool, error) {
	acc, ok := l.accounts[address]
	if !ok {
		return nil, fmt.Errorf("raffle %s does not exist", address)
	}
	if !acc.Owner.Equals(l.programID) {
		return nil, fmt.Errorf("raffle %s is not owned by the program", address)
	}
	return raffle.DecodePool(acc.Data)
}

func (l *Ledger) storePool(address solana.PublicKey, pool *raffle.Pool) {
	l.accounts[address].Data = pool.Encode()
}

func (l *Ledger) createRaffle(accounts map[string]solana.PublicKey, args program.CreateRaffleArgs) error {
	admin, ga, mint := accounts["admin"], accounts["globalAuthority"], accounts["nftMintAddress"]
	if _, exists := l.accounts[ga]; !exists {
		return fmt.Errorf("create_raffle: global authority not initialized")
	}

	acc, ok := l.accounts[accounts["raffle"]]
	if !ok || !acc.Owner.Equals(l.programID) || len(acc.Data) != raffle.PoolSize {
		return fmt.Errorf("create_raffle: raffle account is not allocated for the program")
	}
	for _, b := range acc.Data[:8] {
		if b != 0 {
			return fmt.Errorf("create_raffle: raffle account already initialized")
		}
	}

	switch {
	case args.EndTimestamp <= l.now.Unix():
		return fmt.Errorf("create_raffle: end timestamp is in the past")
	case args.Max == 0 || args.Max > raffle.MaxEntrants:
		return fmt.Errorf("create_raffle: max entrants %d out of range", args.Max)
	case args.WinnerCount == 0 || args.WinnerCount > raffle.MaxWinners || args.WinnerCount > args.Max:
		return fmt.Errorf("create_raffle: winner count %d out of range", args.WinnerCount)
	case args.Whitelisted == 0 && args.WinnerCount != 1:
		return fmt.Errorf("create_raffle: a collectible prize has exactly one winner")
	case args.TicketPriceSol == 0 && args.TicketPriceBooga == 0 && args.TicketPriceZion == 0:
		return fmt.Errorf("create_raffle: no ticket price")
	}

	src, err := l.token(accounts["ownerTempNftAccount"])
	if err != nil {
		return err
	}
	dst, err := l.token(accounts["destNftTokenAccount"])
	if err != nil {
		return err
	}
	if !src.Mint.Equals(mint) || !dst.Mint.Equals(mint) || !dst.Owner.Equals(ga) {
		return fmt.Errorf("create_raffle: escrow accounts do not match the collectible")
	}
	if err := l.transfer(accounts["ownerTempNftAccount"], accounts["destNftTokenAccount"], admin, 1); err != nil {
		return err
	}

	pool := &raffle.Pool{
		Creator:          admin,
		NftMint:          mint,
		WinnerCount:      args.WinnerCount,
		MaxEntrants:      args.Max,
		StartTimestamp:   l.now.Unix(),
		EndTimestamp:     args.EndTimestamp,
		TicketPriceBooga: args.TicketPriceBooga,
		TicketPriceZion:  args.TicketPriceZion,
		TicketPriceSol:   args.TicketPriceSol,
		Whitelisted:      args.Whitelisted != 0,
	}
	l.storePool(accounts["raffle"], pool)
	return nil
}

func (l *Ledger) updateRafflePeriod(accounts map[string]solana.PublicKey, args program.UpdateRafflePeriodArgs) error {
	pool, err := l.pool(accounts["raffle"])
	if err != nil {
		return err
	}
	switch {
	case !pool.Creator.Equals(accounts["admin"]):
		return fmt.Errorf("update_raffle_period: not the creator")
	case pool.Revealed() || pool.Withdrawn():
		return fmt.Errorf("update_raffle_period: raffle settled")
	case args.EndTimestamp <= l.now.Unix():
		return fmt.Errorf("update_raffle_period: end timestamp is in the past")
	}
	pool.EndTimestamp = args.EndTimestamp
	l.storePool(accounts["raffle"], pool)
	return nil
}

func (l *Ledger) buyTickets(accounts map[string]solana.PublicKey, args program.BuyTicketsArgs) error {
	buyer := accounts["buyer"]
	pool, err := l.pool(accounts["raffle"])
	if err != nil {
		return err
	}
	switch {
	case args.Amount == 0:
		return fmt.Errorf("buy_tickets: zero tickets")
	case !pool.Open(l.now) || pool.Withdrawn():
		return fmt.Errorf("buy_tickets: raffle closed")
	case pool.Count+args.Amount > pool.MaxEntrants:
		return fmt.Errorf("buy_tickets: capacity exceeded")
	case !pool.Creator.Equals(accounts["creator"]):
		return fmt.Errorf("buy_tickets: creator mismatch")
	}

	currency, cost, err := pool.TicketCost(args.Amount)
	if err != nil {
		return err
	}
	if currency.Native() {
		if !accounts["userTokenAccount"].Equals(buyer) || !accounts["creatorTokenAccount"].Equals(pool.Creator) {
			return fmt.Errorf("buy_tickets: native payment must name the buyer and creator wallets")
		}
		if err := l.debit(buyer, cost); err != nil {
			return err
		}
		l.credit(pool.Creator, cost)
	} else {
		mint, _ := l.mints.Mint(currency)
		dst, err := l.token(accounts["creatorTokenAccount"])
		if err != nil {
			return err
		}
		if !dst.Mint.Equals(mint) || !dst.Owner.Equals(pool.Creator) {
			return fmt.Errorf("buy_tickets: creator account does not hold %s", currency)
		}
		if err := l.transfer(accounts["userTokenAccount"], accounts["creatorTokenAccount"], buyer, cost); err != nil {
			return err
		}
	}

	for i := uint64(0); i < args.Amount; i++ {
		pool.Entrants = append(pool.Entrants, buyer)
	}
	pool.Count = uint64(len(pool.Entrants))
	l.storePool(accounts["raffle"], pool)
	return nil
}

func (l *Ledger) revealWinner(accounts map[string]solana.PublicKey) error {
	raffleAddr := accounts["raffle"]
	pool, err := l.pool(raffleAddr)
	if err != nil {
		return err
	}
	switch {
	case l.now.Unix() < pool.EndTimestamp:
		return fmt.Errorf("reveal_winner: raffle still open")
	case pool.Revealed() || pool.Withdrawn():
		return fmt.Errorf("reveal_winner: raffle settled")
	case pool.Count == 0:
		return fmt.Errorf("reveal_winner: no entrants")
	}
	indexes := raffle.DrawWinners(pool.Entrants, raffle.RevealEntropy(l.slot, raffleAddr), pool.WinnerCount, pool.NoRepeat != 0)
	pool.ApplyDraw(indexes)
	l.storePool(raffleAddr, pool)
	return nil
}

func (l *Ledger) claimReward(accounts map[string]solana.PublicKey) error {
	claimer := accounts["claimer"]
	pool, err := l.pool(accounts["raffle"])
	if err != nil {
		return err
	}
	if !pool.Revealed() || pool.Withdrawn() {
		return fmt.Errorf("claim_reward: nothing to claim")
	}
	slot, won, claimable := pool.ClaimSlot(claimer)
	switch {
	case !won:
		return fmt.Errorf("claim_reward: %s is not a winner", claimer)
	case !claimable:
		return fmt.Errorf("claim_reward: already claimed")
	}
	if !pool.Whitelisted {
		if err := l.releaseEscrow(accounts, pool, claimer); err != nil {
			return err
		}
	}
	pool.MarkClaimed(slot)
	l.storePool(accounts["raffle"], pool)
	return nil
}

func (l *Ledger) withdrawNft(accounts map[string]solana.PublicKey) error {
	claimer := accounts["claimer"]
	pool, err := l.pool(accounts["raffle"])
	if err != nil {
		return err
	}
	now := l.now.Unix()
	switch {
	case !pool.Creator.Equals(claimer):
		return fmt.Errorf("withdraw_nft: not the creator")
	case pool.Withdrawn() || pool.AnyClaimed():
		return fmt.Errorf("withdraw_nft: escrow already released")
	case now < pool.EndTimestamp:
		return fmt.Errorf("withdraw_nft: raffle still open")
	case pool.Count > 0 && now < pool.EndTimestamp+int64(l.grace.Seconds()):
		return fmt.Errorf("withdraw_nft: entrants still hold a claim")
	}
	if err := l.releaseEscrow(accounts, pool, claimer); err != nil {
		return err
	}
	pool.MarkWithdrawn()
	l.storePool(accounts["raffle"], pool)
	return nil
}

func (l *Ledger) releaseEscrow(accounts map[string]solana.PublicKey, pool *raffle.Pool, receiver solana.PublicKey) error {
	if !accounts["nftMintAddress"].Equals(pool.NftMint) {
		return fmt.Errorf("escrow: mint mismatch")
	}
	dst, err := l.token(accounts["claimerNftTokenAccount"])
	if err != nil {
		return err
	}
	if !dst.Owner.Equals(receiver) {
		return fmt.Errorf("escrow: receiving account is not owned by %s", receiver)
	}
	return l.transfer(accounts["srcNftTokenAccount"], accounts["claimerNftTokenAccount"], accounts["globalAuthority"], 1)
}

package solana

import "github.com/gagliardetto/solana-go"

// Well-known infrastructure program IDs. These show up in nearly every
// transaction and carry no signal for hotspot aggregation.
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// ComputeBudgetProgramID sets compute unit limits and priority fees
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

	// AssociatedTokenProgramID creates associated token accounts
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// VoteProgramID is the validator vote program
	VoteProgramID = solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")

	// AddressLookupTableProgramID manages versioned-transaction lookup tables
	AddressLookupTableProgramID = solana.MustPublicKeyFromBase58("AddressLookupTab1e1111111111111111111111111")
)

// Known swap venue program IDs used by the arbitrage-success heuristic.
var (
	RaydiumAMMV4ProgramID  = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	RaydiumCLMMProgramID   = solana.MustPublicKeyFromBase58("CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK")
	OrcaSwapProgramID      = solana.MustPublicKeyFromBase58("9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP")
	OrcaWhirlpoolProgramID = solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")
	SerumV3ProgramID       = solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
	JupiterV6ProgramID     = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")
	SaberProgramID         = solana.MustPublicKeyFromBase58("SSwpkEEcbUqx4vtoEByFjSkhKdCT862DNVb52nZg1UZ")
)

// NoiseSet is the set of program ids excluded from hotspot aggregation.
// It is immutable after construction and safe for concurrent reads.
type NoiseSet map[string]struct{}

// NewNoiseSet builds the noise filter set from the well-known
// infrastructure programs plus any extra ids (typically the subject
// program itself).
func NewNoiseSet(extra ...string) NoiseSet {
	set := NoiseSet{
		SystemProgramID.String():             {},
		ComputeBudgetProgramID.String():      {},
		TokenProgramID.String():              {},
		Token2022ProgramID.String():          {},
		MemoProgramIDSPL.String():            {},
		MemoProgramIDLegacy.String():         {},
		AssociatedTokenProgramID.String():    {},
		VoteProgramID.String():               {},
		AddressLookupTableProgramID.String(): {},
	}
	for _, id := range extra {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Contains reports whether the program id is in the noise set.
func (n NoiseSet) Contains(programID string) bool {
	_, ok := n[programID]
	return ok
}

// DefaultSwapVenues returns the default set of swap venue program ids
// recognized by the arbitrage-success heuristic.
func DefaultSwapVenues() map[string]struct{} {
	return map[string]struct{}{
		RaydiumAMMV4ProgramID.String():  {},
		RaydiumCLMMProgramID.String():   {},
		OrcaSwapProgramID.String():      {},
		OrcaWhirlpoolProgramID.String(): {},
		SerumV3ProgramID.String():       {},
		JupiterV6ProgramID.String():     {},
		SaberProgramID.String():         {},
	}
}

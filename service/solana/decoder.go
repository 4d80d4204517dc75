package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DecodeUpdate unwraps one raw stream update into a TransactionRecord.
// The envelope carries the transaction in wire encoding; everything past
// the unwrap is handled by DecodeTransaction.
func DecodeUpdate(slot uint64, env *rpc.TransactionWithMeta) (*TransactionRecord, error) {
	if env == nil || env.Transaction == nil {
		return nil, fmt.Errorf("update has no transaction")
	}
	tx, err := env.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return DecodeTransaction(slot, tx, env.Meta)
}

// DecodeTransaction extracts a TransactionRecord from a decoded
// transaction and its metadata. Absence of optional metadata fields
// (compute units, logs) is legitimate; a missing signature or slot is an
// unrecoverable decode failure. A nil meta is tolerated and treated as a
// successful transaction with zero fee, matching the upstream stream's
// behavior for pre-metadata updates.
func DecodeTransaction(slot uint64, tx *solana.Transaction, meta *rpc.TransactionMeta) (*TransactionRecord, error) {
	if tx == nil {
		return nil, fmt.Errorf("update has no transaction")
	}
	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("transaction has no signature")
	}
	if slot == 0 {
		return nil, fmt.Errorf("update has no slot")
	}

	rec := &TransactionRecord{
		Signature: tx.Signatures[0].String(),
		Slot:      slot,
		Success:   true,
	}

	// The fee payer is always the first account key of the message.
	keys := tx.Message.AccountKeys
	if len(keys) == 0 {
		return nil, fmt.Errorf("transaction has no account keys")
	}
	rec.FeePayer = keys[0].String()

	if meta != nil {
		rec.Success = meta.Err == nil
		if meta.Err != nil {
			rec.RuntimeErr = fmt.Sprintf("%v", meta.Err)
		}
		rec.FeeLamports = meta.Fee
		if meta.ComputeUnitsConsumed != nil {
			units := *meta.ComputeUnitsConsumed
			rec.ComputeUnits = &units
		}
		rec.LogLines = meta.LogMessages

		// Versioned transactions reference accounts loaded from lookup
		// tables; they extend the static key list, writable first.
		keys = append(append(append([]solana.PublicKey{}, keys...),
			meta.LoadedAddresses.Writable...),
			meta.LoadedAddresses.ReadOnly...)
	}

	for _, inst := range tx.Message.Instructions {
		if id, ok := resolveProgramID(keys, inst.ProgramIDIndex); ok {
			rec.ProgramIDs = append(rec.ProgramIDs, id)
		}
	}
	if meta != nil {
		for _, inner := range meta.InnerInstructions {
			for _, inst := range inner.Instructions {
				if id, ok := resolveProgramID(keys, inst.ProgramIDIndex); ok {
					rec.ProgramIDs = append(rec.ProgramIDs, id)
				}
			}
		}
	}

	return rec, nil
}

// resolveProgramID looks up an instruction's program id in the resolved
// account key list. Out-of-range indices are skipped rather than treated
// as decode failures; they occur when lookup table contents are not part
// of the update.
func resolveProgramID(keys []solana.PublicKey, index uint16) (string, bool) {
	if int(index) >= len(keys) {
		return "", false
	}
	return keys[index].String(), true
}

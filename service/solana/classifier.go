package solana

import "strings"

// FailurePattern maps a log/error substring to a normalized failure
// category. Matching is case-insensitive.
type FailurePattern struct {
	Substring string
	Label     string
}

// DefaultFailurePatterns is the ordered priority table for failure
// categorization. Patterns are evaluated top to bottom and the first
// match wins, so more specific signatures must precede generic ones.
// Each category carries two spellings: the spaced phrase seen in program
// logs and the bare enum name the runtime reports in transaction errors
// (e.g. InsufficientFundsForFee, BlockhashNotFound). The table is
// heuristic business logic: treat it as tunable data, not as a closed
// taxonomy.
var DefaultFailurePatterns = []FailurePattern{
	{"insufficient lamports", "insufficient funds"},
	{"insufficientfundsforfee", "insufficient funds"},
	{"insufficient funds", "insufficient funds"},
	{"exceeds desired slippage limit", "slippage"},
	{"slippagetoleranceexceeded", "slippage"},
	{"slippage tolerance exceeded", "slippage"},
	{"exceeded cus meter", "compute budget"},
	{"computationalbudgetexceeded", "compute budget"},
	{"computational budget exceeded", "compute budget"},
	{"blockhashnotfound", "expired blockhash"},
	{"blockhash not found", "expired blockhash"},
	{"custom program error", "program error"},
	{"programfailedtocomplete", "program error"},
	{"program failed to complete", "program error"},
}

// UnknownErrorType is the fallback category when no pattern matches.
const UnknownErrorType = "unknown"

// DefaultSwapMarkers are log substrings correlated with an executed swap.
var DefaultSwapMarkers = []string{"swap", "arbitrage"}

// Classifier derives the heuristic labels for a decoded record: the
// normalized failure category and the arbitrage-success boolean. Both
// derivations are pure functions of the record, so the classifier can be
// swapped or tuned without touching the pipeline. The pattern and venue
// tables are read-only after construction.
type Classifier struct {
	patterns []FailurePattern
	venues   map[string]struct{}
	markers  []string
}

// NewClassifier builds a classifier from explicit pattern data.
func NewClassifier(patterns []FailurePattern, venues map[string]struct{}, markers []string) *Classifier {
	return &Classifier{
		patterns: patterns,
		venues:   venues,
		markers:  markers,
	}
}

// DefaultClassifier builds a classifier with the default priority table,
// swap venues, and swap markers.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultFailurePatterns, DefaultSwapVenues(), DefaultSwapMarkers)
}

// ErrorType returns the normalized failure category for a failed record.
// It scans the runtime error string and every log line against the
// ordered pattern table; no match falls back to UnknownErrorType.
// It returns "" for successful records.
func (c *Classifier) ErrorType(rec *TransactionRecord) string {
	if rec.Success {
		return ""
	}
	for _, p := range c.patterns {
		needle := strings.ToLower(p.Substring)
		if strings.Contains(strings.ToLower(rec.RuntimeErr), needle) {
			return p.Label
		}
		for _, line := range rec.LogLines {
			if strings.Contains(strings.ToLower(line), needle) {
				return p.Label
			}
		}
	}
	return UnknownErrorType
}

// ArbitrageSuccess returns the heuristic arbitrage label:
//   - nil when the transaction failed (the heuristic does not claim to
//     distinguish would-have-succeeded scenarios);
//   - true when the logs contain a swap marker AND at least one known
//     swap venue program was invoked;
//   - false otherwise (a scan with no execution).
//
// This is a best-effort label, not an authoritative profit signal.
func (c *Classifier) ArbitrageSuccess(rec *TransactionRecord) *bool {
	if !rec.Success {
		return nil
	}
	label := c.hasSwapMarker(rec.LogLines) && c.hasVenueInvocation(rec.ProgramIDs)
	return &label
}

// Classify applies both derivations to the record in place.
func (c *Classifier) Classify(rec *TransactionRecord) {
	rec.ErrorType = c.ErrorType(rec)
	rec.ArbitrageSuccess = c.ArbitrageSuccess(rec)
}

func (c *Classifier) hasSwapMarker(logs []string) bool {
	for _, line := range logs {
		lower := strings.ToLower(line)
		for _, marker := range c.markers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) hasVenueInvocation(programIDs []string) bool {
	for _, id := range programIDs {
		if _, ok := c.venues[id]; ok {
			return true
		}
	}
	return false
}

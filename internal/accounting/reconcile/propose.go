package reconcile

import (
	"sort"
	"time"
)

// Propose pairs each transaction with at most one line. A line is claimed at
// most once per pass. Transactions are processed by value date then id;
// among eligible lines the nearest date wins, then the lower ledger sequence,
// then the lower line number. Transactions without a candidate are reported
// as UNMATCHED. Propose has no side effects.
func Propose(txns []ExternalTransaction, lines []Candidate, opts Options) []Result {
	tolerance := opts.DateTolerance
	if tolerance < 0 {
		tolerance = 0
	}
	ordered := append([]ExternalTransaction(nil), txns...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ValueDate.Equal(ordered[j].ValueDate) {
			return ordered[i].ValueDate.Before(ordered[j].ValueDate)
		}
		return ordered[i].ID < ordered[j].ID
	})

	claimed := make(map[int64]bool, len(lines))
	results := make([]Result, 0, len(ordered))
	for _, txn := range ordered {
		best := -1
		bestDistance := 0
		for i := range lines {
			line := lines[i]
			if claimed[line.LineID] || !eligible(txn, line, opts) {
				continue
			}
			distance := dayDistance(txn.ValueDate, line.Date)
			if distance > tolerance {
				continue
			}
			if best < 0 || better(line, distance, lines[best], bestDistance) {
				best, bestDistance = i, distance
			}
		}
		if best < 0 {
			results = append(results, Result{TxnID: txn.ID, Status: ResultUnmatched})
			continue
		}
		claimed[lines[best].LineID] = true
		candidate := lines[best]
		results = append(results, Result{TxnID: txn.ID, Status: ResultProposed, Candidate: &candidate, DayDistance: bestDistance})
	}
	return results
}

func eligible(txn ExternalTransaction, line Candidate, opts Options) bool {
	if line.Voided {
		return false
	}
	if opts.AccountID != 0 && line.AccountID != opts.AccountID {
		return false
	}
	if txn.AccountID != 0 && line.AccountID != txn.AccountID {
		return false
	}
	return line.Signed().Equal(txn.Amount)
}

func better(line Candidate, distance int, current Candidate, currentDistance int) bool {
	if distance != currentDistance {
		return distance < currentDistance
	}
	if line.Sequence != current.Sequence {
		return line.Sequence < current.Sequence
	}
	if line.LineNo != current.LineNo {
		return line.LineNo < current.LineNo
	}
	return line.LineID < current.LineID
}

func dayDistance(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

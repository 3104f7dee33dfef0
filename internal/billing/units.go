package billing

// Unit arithmetic for ledger debits. The ledger itself is an external
// collaborator; the core only decides how many units an engagement costs.

// CallUnits converts a call duration to billable units: one unit per started
// minute, minimum one.
func CallUnits(durationSeconds int) int64 {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return int64(durationSeconds/60) + 1
}

// MessageUnits is the flat per-message cost.
func MessageUnits() int64 { return 1 }

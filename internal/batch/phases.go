package batch

// Messages shown while the pipeline runs. The last entry of each list is the
// completion message.
var (
	VerificationPhases = []string{
		"Initiating Inter-Bank Verification API...",
		"Querying NBC Network for account status...",
		"Matching farmer details against bank records...",
		"Identifying and flagging inaccurate accounts...",
		"Verification Complete. Results updated.",
	}

	PaymentPhases = []string{
		"Initiating Capital Pay secure engine...",
		"Pre-processing and validating verified data...",
		"Connecting to inter-bank payment gateway...",
		"Securely settling respective farmers' accounts...",
		"Transactions successful! Finalizing report...",
	}
)

// phaseMessage picks the message for an observational tick. Indexes past the
// last in-progress entry repeat it.
func phaseMessage(phases []string, index int) string {
	last := len(phases) - 2
	if index > last {
		index = last
	}
	return phases[index]
}

func completionMessage() string {
	return PaymentPhases[len(PaymentPhases)-1]
}

// progress spreads ticks evenly below 100; with four ticks it yields
// 20, 40, 60 and 80.
func progress(index, ticks int) int {
	return (index + 1) * 100 / (ticks + 1)
}

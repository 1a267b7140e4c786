package verification

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultFee is the team entry fee in rupees
const DefaultFee = 400

// maxTransactionIDs caps how many candidate ids are kept
const maxTransactionIDs = 3

var (
	successKeywords = []string{"success", "successful", "completed", "paid", "sent"}
	upiApps         = []string{"gpay", "google pay", "phonepe", "paytm", "bhim", "upi"}

	datePattern = regexp.MustCompile(`\d{1,2}[-/]\d{1,2}[-/]\d{2,4}`)

	// The UTR pattern captures only the digits so it collapses with the plain digit-run match.
	transactionIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{12,16}`),
		regexp.MustCompile(`[A-Z0-9]{10,20}`),
		regexp.MustCompile(`(?i)utr[:\s]*(\d+)`),
	}
)

// Parser scans OCR text for payment evidence
type Parser struct {
	fee            int
	amountPatterns []*regexp.Regexp
}

// NewParser creates a Parser that looks for the given entry fee.
// A non-positive fee falls back to DefaultFee.
func NewParser(fee int) *Parser {
	if fee <= 0 {
		fee = DefaultFee
	}
	amount := regexp.QuoteMeta(strconv.Itoa(fee))
	return &Parser{
		fee: fee,
		amountPatterns: []*regexp.Regexp{
			regexp.MustCompile(fmt.Sprintf(`(?i)₹\s*%s(?:\D|$)`, amount)),
			regexp.MustCompile(fmt.Sprintf(`(?i)\brs\.?\s*%s(?:\D|$)`, amount)),
			regexp.MustCompile(fmt.Sprintf(`(?:^|\D)%s\.00`, amount)),
			regexp.MustCompile(fmt.Sprintf(`(?:^|\D)%s/-`, amount)),
		},
	}
}

// Fee returns the amount the parser looks for
func (p *Parser) Fee() int {
	return p.fee
}

// Parse extracts payment evidence from text. Every signal is evaluated
// independently and text without any signal yields zero-valued Details.
func (p *Parser) Parse(text string) Details {
	lower := strings.ToLower(text)

	return Details{
		AmountFound:    p.amountFound(text),
		TransactionIDs: extractTransactionIDs(text),
		SuccessStatus:  containsAny(lower, successKeywords),
		UPIAppDetected: containsAny(lower, upiApps),
		DateFound:      datePattern.MatchString(text),
	}
}

func (p *Parser) amountFound(text string) bool {
	for _, pattern := range p.amountPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

type idMatch struct {
	pos   int
	class int
	value string
}

// extractTransactionIDs unions the matches of all id patterns in order of
// appearance, drops duplicates and keeps the first maxTransactionIDs.
func extractTransactionIDs(text string) []string {
	var matches []idMatch
	for class, pattern := range transactionIDPatterns {
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			matches = append(matches, idMatch{pos: start, class: class, value: text[start:end]})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].pos != matches[j].pos {
			return matches[i].pos < matches[j].pos
		}
		return matches[i].class < matches[j].class
	})

	ids := make([]string, 0, maxTransactionIDs)
	seen := make(map[string]bool)
	for _, m := range matches {
		if seen[m.value] {
			continue
		}
		seen[m.value] = true
		ids = append(ids, m.value)
		if len(ids) == maxTransactionIDs {
			break
		}
	}
	return ids
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

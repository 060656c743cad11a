// Package ofx parses OFX 2.x (XML) credit card statements, the manual
// import path for institutions without Plaid coverage.
package ofx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Statement holds the fields the dashboard needs from a credit card
// statement: the account, what is owed, and what credit remains.
type Statement struct {
	AccountID       string
	Balance         float64 // amount owed, positive
	AvailableCredit float64
	CreditLimit     float64 // Balance + AvailableCredit
}

// Parse extracts the credit card statement from an OFX 2.x document.
// OFX reports the ledger balance of a credit account as a negative
// amount; the returned Balance is normalized to the positive amount
// owed. The credit limit is not carried in OFX and is derived from
// ledger balance plus available credit.
func Parse(data []byte) (*Statement, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse OFX: %w", err)
	}

	stmt := doc.FindElement("//CCSTMTRS")
	if stmt == nil {
		return nil, fmt.Errorf("no credit card statement in document")
	}

	acctID := stmt.FindElement("./CCACCTFROM/ACCTID")
	if acctID == nil || strings.TrimSpace(acctID.Text()) == "" {
		return nil, fmt.Errorf("account id not found in statement")
	}

	ledger, err := balanceAmount(stmt, "./LEDGERBAL/BALAMT")
	if err != nil {
		return nil, err
	}
	avail, err := balanceAmount(stmt, "./AVAILBAL/BALAMT")
	if err != nil {
		return nil, err
	}

	owed := ledger
	if owed < 0 {
		owed = -owed
	}
	if avail < 0 {
		return nil, fmt.Errorf("negative available credit: %v", avail)
	}

	return &Statement{
		AccountID:       strings.TrimSpace(acctID.Text()),
		Balance:         owed,
		AvailableCredit: avail,
		CreditLimit:     owed + avail,
	}, nil
}

func balanceAmount(stmt *etree.Element, path string) (float64, error) {
	el := stmt.FindElement(path)
	if el == nil {
		return 0, fmt.Errorf("balance element %s not found", path)
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(el.Text()), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance amount %q: %w", el.Text(), err)
	}
	return amount, nil
}

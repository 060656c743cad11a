package ofx

import (
	"strings"
	"testing"
)

const sampleStatement = `<?xml version="1.0" encoding="UTF-8"?>
<OFX>
  <SIGNONMSGSRSV1>
    <SONRS><STATUS><CODE>0</CODE><SEVERITY>INFO</SEVERITY></STATUS></SONRS>
  </SIGNONMSGSRSV1>
  <CREDITCARDMSGSRSV1>
    <CCSTMTTRNRS>
      <TRNUID>1</TRNUID>
      <CCSTMTRS>
        <CURDEF>USD</CURDEF>
        <CCACCTFROM>
          <ACCTID>4111111111111111</ACCTID>
        </CCACCTFROM>
        <LEDGERBAL>
          <BALAMT>-1250.75</BALAMT>
          <DTASOF>20260801120000</DTASOF>
        </LEDGERBAL>
        <AVAILBAL>
          <BALAMT>3749.25</BALAMT>
          <DTASOF>20260801120000</DTASOF>
        </AVAILBAL>
      </CCSTMTRS>
    </CCSTMTTRNRS>
  </CREDITCARDMSGSRSV1>
</OFX>`

func TestParse(t *testing.T) {
	stmt, err := Parse([]byte(sampleStatement))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if stmt.AccountID != "4111111111111111" {
		t.Errorf("AccountID = %q", stmt.AccountID)
	}
	if stmt.Balance != 1250.75 {
		t.Errorf("Balance = %v, want 1250.75 (positive amount owed)", stmt.Balance)
	}
	if stmt.AvailableCredit != 3749.25 {
		t.Errorf("AvailableCredit = %v, want 3749.25", stmt.AvailableCredit)
	}
	if stmt.CreditLimit != 5000 {
		t.Errorf("CreditLimit = %v, want 5000", stmt.CreditLimit)
	}
}

func TestParsePositiveLedgerBalance(t *testing.T) {
	// Some institutions report the owed amount as positive
	doc := strings.Replace(sampleStatement, "-1250.75", "1250.75", 1)
	stmt, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if stmt.Balance != 1250.75 {
		t.Errorf("Balance = %v, want 1250.75", stmt.Balance)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "this is not a statement"},
		{"no statement", `<?xml version="1.0"?><OFX><SIGNONMSGSRSV1></SIGNONMSGSRSV1></OFX>`},
		{"missing account id", strings.Replace(sampleStatement, "<ACCTID>4111111111111111</ACCTID>", "", 1)},
		{"missing ledger balance", strings.Replace(sampleStatement, "LEDGERBAL", "OTHERBAL", 2)},
		{"unparsable amount", strings.Replace(sampleStatement, "-1250.75", "12,50", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

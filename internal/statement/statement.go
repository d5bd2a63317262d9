// Package statement defines the normalized shape of an extracted bank statement.
// These are domain structs, not storage rows; everything that leaves the service
// as a result is expressed with these types.
package statement

import "strings"

// AccountType is the kind of a bank account found on a statement.
type AccountType string

const (
	// AccountTypeChecking is a current/checking account.
	AccountTypeChecking AccountType = "checking"
	// AccountTypeSavings is a savings account.
	AccountTypeSavings AccountType = "savings"
)

// AccountTypes lists every accepted AccountType value.
var AccountTypes = []AccountType{AccountTypeChecking, AccountTypeSavings}

// ParseAccountType matches s case-insensitively against AccountTypes.
func ParseAccountType(s string) (AccountType, bool) {
	norm := AccountType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range AccountTypes {
		if t == norm {
			return t, true
		}
	}
	return "", false
}

// BankStatementData is the normalized extraction result for one document.
type BankStatementData struct {
	FileName string        `json:"fileName"`
	Accounts []BankAccount `json:"accounts"`
}

// BankAccount is one financial account found in the document.
type BankAccount struct {
	BankName           *string       `json:"bankName"`
	AccountHolderName  *string       `json:"accountHolderName"`
	AccountNumber      *string       `json:"accountNumber"`
	AccountType        *AccountType  `json:"accountType"`
	Currency           *string       `json:"currency"`
	StatementStartDate *string       `json:"statementStartDate"` // YYYY-MM-DD
	StatementEndDate   *string       `json:"statementEndDate"`   // YYYY-MM-DD
	OpeningBalance     *float64      `json:"openingBalance"`
	ClosingBalance     *float64      `json:"closingBalance"`
	Transactions       []Transaction `json:"transactions"`
}

// Transaction is one ledger entry. Debit and Credit are never both set.
type Transaction struct {
	Date        string   `json:"date"` // YYYY-MM-DD
	Description string   `json:"description"`
	Debit       *float64 `json:"debit"`
	Credit      *float64 `json:"credit"`
	Balance     *float64 `json:"balance"`
}

// TransactionCount sums the transactions across all accounts.
func (d *BankStatementData) TransactionCount() int {
	n := 0
	for _, a := range d.Accounts {
		n += len(a.Transactions)
	}
	return n
}

// Payload keys shared by the validation library, the sanitizer and the AI prompt.
const (
	KeyFileName           = "fileName"
	KeyAccounts           = "accounts"
	KeyBankName           = "bankName"
	KeyAccountHolderName  = "accountHolderName"
	KeyAccountNumber      = "accountNumber"
	KeyAccountType        = "accountType"
	KeyCurrency           = "currency"
	KeyStatementStartDate = "statementStartDate"
	KeyStatementEndDate   = "statementEndDate"
	KeyOpeningBalance     = "openingBalance"
	KeyClosingBalance     = "closingBalance"
	KeyTransactions       = "transactions"
	KeyDate               = "date"
	KeyDescription        = "description"
	KeyDebit              = "debit"
	KeyCredit             = "credit"
	KeyBalance            = "balance"
)

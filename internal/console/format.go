package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"libralend/internal/catalog"
	"libralend/internal/circulation"
	"libralend/internal/membership"
)

func formatItem(item catalog.Item) string {
	return fmt.Sprintf("%s  %s (%s, %d)  %d/%d available, borrowed %d times",
		item.ISBN, item.Title, item.Author, item.PublishedYear,
		item.Available, item.TotalCopies, item.LoanCount)
}

func formatMember(m membership.Member) string {
	held := "none"
	if len(m.HeldItems) > 0 {
		held = strings.Join(m.HeldItems, ", ")
	}
	return fmt.Sprintf("#%d %s <%s>  holds: %s  owes: %s", m.ID, m.Name, m.Email, held, formatMoney(m.PenaltyBalance))
}

func formatLoan(loan circulation.Loan) string {
	line := fmt.Sprintf("%s  item %s  %s -> %s  %s",
		loan.ID, loan.ISBN,
		loan.CheckoutDate.Format(time.DateOnly), loan.DueDate.Format(time.DateOnly),
		loan.Status)
	if loan.ReturnDate != nil {
		line += fmt.Sprintf("  returned %s", loan.ReturnDate.Format(time.DateOnly))
	}
	if loan.Fine.IsPositive() {
		line += "  fine " + formatMoney(loan.Fine)
	}
	return line
}

func formatMoney(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}

package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"libralend/internal/catalog"
	"libralend/internal/circulation"
)

const topN = 5

// Console is a line-oriented menu over the lending service. It parses input,
// calls the service and prints results; it holds no state of its own.
type Console struct {
	svc    circulation.Service
	in     *bufio.Scanner
	out    io.Writer
	now    func() time.Time
	logger *log.Entry
}

// Option configures a Console.
type Option func(*Console)

// WithClock sets the date used for overdue sweeps and item validation.
func WithClock(now func() time.Time) Option {
	return func(c *Console) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Console) {
		c.logger = logger
	}
}

// New creates a console reading commands from in and writing to out.
func New(svc circulation.Service, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		svc:    svc,
		in:     bufio.NewScanner(in),
		out:    out,
		now:    time.Now,
		logger: log.WithField("component", "console"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type command struct {
	label string
	run   func(ctx context.Context) error
}

func (c *Console) commands() []command {
	return []command{
		{"Add item", c.addItem},
		{"Register member", c.registerMember},
		{"Check out item", c.checkout},
		{"Return item", c.returnItem},
		{"Available items", c.availableItems},
		{"Loans of member", c.memberLoans},
		{"Members with penalties", c.membersWithPenalties},
		{fmt.Sprintf("Top %d most borrowed", topN), c.topBorrowed},
		{"Search by title", c.search},
		{"Mark overdue loans", c.sweep},
		{"Settle penalties", c.settle},
	}
}

// Run shows the menu until the user exits, input ends or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	commands := c.commands()
	c.printf("LIBRARY LENDING\n")

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		c.printMenu(commands)

		line, ok := c.readLine("Choose an option: ")
		if !ok {
			c.printf("\n")
			return c.in.Err()
		}
		choice, err := strconv.Atoi(line)
		if err != nil || choice < 0 || choice > len(commands) {
			c.printf("Invalid option\n")
			continue
		}
		if choice == 0 {
			c.printf("Goodbye\n")
			return nil
		}

		cmd := commands[choice-1]
		c.printf("\n%s\n", strings.ToUpper(cmd.label))
		if err := cmd.run(ctx); err != nil {
			c.logger.WithError(err).Debug("command failed")
			c.printf("Error: %v\n", err)
		}
	}
}

func (c *Console) printMenu(commands []command) {
	c.printf("\n%s\n", strings.Repeat("=", 40))
	for i, cmd := range commands {
		c.printf("%2d. %s\n", i+1, cmd.label)
	}
	c.printf("%2d. Exit\n", 0)
	c.printf("%s\n", strings.Repeat("=", 40))
}

func (c *Console) addItem(ctx context.Context) error {
	isbn, err := c.ask("ISBN (13 digits): ")
	if err != nil {
		return err
	}
	title, err := c.ask("Title: ")
	if err != nil {
		return err
	}
	author, err := c.ask("Author: ")
	if err != nil {
		return err
	}
	year, err := c.askInt("Year: ")
	if err != nil {
		return err
	}
	copies, err := c.askInt("Total copies: ")
	if err != nil {
		return err
	}

	item, err := catalog.NewItemAsOf(c.now(), isbn, title, author, year, copies)
	if err != nil {
		return err
	}
	if _, err := c.svc.AddItem(ctx, item); err != nil {
		return err
	}
	c.printf("Item added\n")
	return nil
}

func (c *Console) registerMember(ctx context.Context) error {
	name, err := c.ask("Name: ")
	if err != nil {
		return err
	}
	email, err := c.ask("Email: ")
	if err != nil {
		return err
	}
	member, err := c.svc.RegisterMember(ctx, name, email)
	if err != nil {
		return err
	}
	c.printf("Member registered. ID: %d\n", member.ID)
	return nil
}

func (c *Console) checkout(ctx context.Context) error {
	isbn, memberID, err := c.askLoanKey()
	if err != nil {
		return err
	}
	loan, err := c.svc.Checkout(ctx, isbn, memberID)
	if err != nil {
		return err
	}
	item, _ := c.svc.GetItem(ctx, isbn)
	c.printf("Checked out %q. Due %s\n", item.Title, loan.DueDate.Format(time.DateOnly))
	return nil
}

func (c *Console) returnItem(ctx context.Context) error {
	isbn, memberID, err := c.askLoanKey()
	if err != nil {
		return err
	}
	loan, err := c.svc.ReturnItem(ctx, isbn, memberID)
	if err != nil {
		return err
	}
	if loan.Fine.IsPositive() {
		c.printf("Returned late. Fine: %s\n", formatMoney(loan.Fine))
		return nil
	}
	c.printf("Returned on time\n")
	return nil
}

func (c *Console) availableItems(ctx context.Context) error {
	c.printItems(c.svc.AvailableItems(ctx), "No items available")
	return nil
}

func (c *Console) memberLoans(ctx context.Context) error {
	id, err := c.askID("Member ID: ")
	if err != nil {
		return err
	}
	loans, err := c.svc.LoansOfMember(ctx, id)
	if err != nil {
		return err
	}
	if len(loans) == 0 {
		c.printf("The member has no loans\n")
		return nil
	}
	for _, loan := range loans {
		c.printf("%s\n", formatLoan(loan))
	}
	return nil
}

func (c *Console) membersWithPenalties(ctx context.Context) error {
	members := c.svc.MembersWithPenalties(ctx)
	if len(members) == 0 {
		c.printf("No members owe penalties\n")
		return nil
	}
	for _, m := range members {
		c.printf("%s\n", formatMember(m))
	}
	return nil
}

func (c *Console) topBorrowed(ctx context.Context) error {
	c.printItems(c.svc.TopBorrowedItems(ctx, topN), "No items in the catalog")
	return nil
}

func (c *Console) search(ctx context.Context) error {
	query, err := c.ask("Title contains: ")
	if err != nil {
		return err
	}
	c.printItems(c.svc.SearchItems(ctx, query), "No matching items")
	return nil
}

func (c *Console) sweep(ctx context.Context) error {
	flipped, err := c.svc.SweepOverdueLoans(ctx, c.now())
	if err != nil {
		return err
	}
	c.printf("%d loan(s) marked overdue\n", flipped)
	return nil
}

func (c *Console) settle(ctx context.Context) error {
	id, err := c.askID("Member ID: ")
	if err != nil {
		return err
	}
	amount, err := c.svc.SettlePenalties(ctx, id)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		c.printf("Nothing to settle\n")
		return nil
	}
	c.printf("Settled %s\n", formatMoney(amount))
	return nil
}

func (c *Console) printItems(items []catalog.Item, empty string) {
	if len(items) == 0 {
		c.printf("%s\n", empty)
		return
	}
	for _, item := range items {
		c.printf("%s\n", formatItem(item))
	}
}

func (c *Console) askLoanKey() (string, int64, error) {
	isbn, err := c.ask("ISBN: ")
	if err != nil {
		return "", 0, err
	}
	id, err := c.askID("Member ID: ")
	if err != nil {
		return "", 0, err
	}
	return isbn, id, nil
}

func (c *Console) ask(prompt string) (string, error) {
	line, ok := c.readLine(prompt)
	if !ok {
		return "", io.ErrUnexpectedEOF
	}
	return line, nil
}

func (c *Console) askInt(prompt string) (int, error) {
	line, err := c.ask(prompt)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", line)
	}
	return n, nil
}

func (c *Console) askID(prompt string) (int64, error) {
	line, err := c.ask(prompt)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid id", line)
	}
	return id, nil
}

func (c *Console) readLine(prompt string) (string, bool) {
	c.printf("%s", prompt)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *Console) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

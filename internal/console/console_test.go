package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/circulation"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, days)
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func script(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func run(t *testing.T, svc circulation.Service, now func() time.Time, in io.Reader) string {
	t.Helper()
	var out bytes.Buffer
	c := New(svc, in, &out, WithClock(now), WithLogger(quietLogger()))
	require.NoError(t, c.Run(context.Background()))
	return out.String()
}

func TestConsoleCheckoutFlow(t *testing.T) {
	clk := &clock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	svc := circulation.NewService(circulation.WithClock(clk.Now), circulation.WithLogger(quietLogger()))

	out := run(t, svc, clk.Now, script(
		"1", "9788497593798", "1984", "George Orwell", "1949", "1",
		"2", "Ana", "ana@email.com",
		"3", "9788497593798", "1",
		"3", "9788497593798", "1",
		"5",
		"6", "1",
		"0",
	))

	assert.Contains(t, out, "Item added")
	assert.Contains(t, out, "Member registered. ID: 1")
	assert.Contains(t, out, `Checked out "1984". Due 2026-04-15`)
	assert.Contains(t, out, `Error: no copies available of "1984"`)
	assert.Contains(t, out, "No items available")
	assert.Contains(t, out, "item 9788497593798  2026-04-01 -> 2026-04-15  active")
	assert.True(t, strings.HasSuffix(out, "Goodbye\n"))
}

func TestConsoleLateReturnAndSettle(t *testing.T) {
	clk := &clock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	svc := circulation.NewService(circulation.WithClock(clk.Now), circulation.WithLogger(quietLogger()))

	run(t, svc, clk.Now, script(
		"1", "9788408268521", "El Quijote", "Miguel de Cervantes", "1605", "3",
		"2", "Carlos", "carlos@email.com",
		"3", "9788408268521", "1",
		"0",
	))

	clk.advance(15)
	out := run(t, svc, clk.Now, script(
		"10",
		"4", "9788408268521", "1",
		"7",
		"11", "1",
		"11", "1",
		"8",
	))

	assert.Contains(t, out, "1 loan(s) marked overdue")
	assert.Contains(t, out, "Returned late. Fine: $500.00")
	assert.Contains(t, out, "#1 Carlos <carlos@email.com>  holds: none  owes: $500.00")
	assert.Contains(t, out, "Settled $500.00")
	assert.Contains(t, out, "Nothing to settle")
	assert.Contains(t, out, "El Quijote (Miguel de Cervantes, 1605)  3/3 available, borrowed 1 times")
}

func TestConsoleReportsBadInput(t *testing.T) {
	svc := circulation.NewService(circulation.WithLogger(quietLogger()))

	out := run(t, svc, time.Now, script(
		"x",
		"42",
		"1", "123", "Title", "Author", "1999", "1",
		"2", "Ana", "ana@",
		"3", "9788497593798", "abc",
		"4", "9788497593798", "1",
		"6", "7",
		"9", "quijote",
		"7",
	))

	assert.Equal(t, 2, strings.Count(out, "Invalid option"))
	assert.Contains(t, out, "Error: identifier")
	assert.Contains(t, out, "Error: invalid email")
	assert.Contains(t, out, `Error: "abc" is not a valid id`)
	assert.Contains(t, out, "Error: member 1 has no open loan of item 9788497593798")
	assert.Contains(t, out, "Error: member 7 not found")
	assert.Contains(t, out, "No matching items")
	assert.Contains(t, out, "No members owe penalties")
}

func TestConsoleStopsOnCancelledContext(t *testing.T) {
	svc := circulation.NewService(circulation.WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	c := New(svc, script("5"), &out, WithLogger(quietLogger()))
	require.NoError(t, c.Run(ctx))
	assert.NotContains(t, out.String(), "AVAILABLE ITEMS")
}

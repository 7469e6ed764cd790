// Package terminal renders the operator-facing console: pairing QR codes,
// the live conversation transcript and highlighted status lines.
package terminal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mdp/qrterminal/v3"
)

const pairingInstructions = `
1. Open WhatsApp on your phone
2. Tap Menu or Settings and select Linked Devices
3. Point your phone to this screen to capture the code
`

var (
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	replyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// Console writes operator-facing lines. It is safe for concurrent use.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console writing to out (stdout when nil).
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out}
}

// PairingCode clears the screen and renders code as a scannable QR code
// with linking instructions.
func (c *Console) PairingCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprint(c.out, "\033[H\033[2J")
	fmt.Fprint(c.out, pairingInstructions+"\n")
	qrterminal.GenerateHalfBlock(code, qrterminal.L, c.out)
}

// Info prints a plain status line.
func (c *Console) Info(format string, args ...any) {
	c.println(fmt.Sprintf(format, args...))
}

// Success prints a highlighted success line.
func (c *Console) Success(msg string) {
	c.println(successStyle.Render(msg))
}

// Failure prints a highlighted failure label followed by its cause.
func (c *Console) Failure(label string, err error) {
	if err == nil {
		c.println(failureStyle.Render(label))
		return
	}
	c.println(failureStyle.Render(label) + " " + err.Error())
}

// Incoming prints an inbound transcript line "<name>: <body>".
func (c *Console) Incoming(name, body string) {
	c.println(name + ": " + body)
}

// Reply prints an outbound transcript line with the reply highlighted.
func (c *Console) Reply(name, text string) {
	c.println(name + ": " + replyStyle.Render(text))
}

func (c *Console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

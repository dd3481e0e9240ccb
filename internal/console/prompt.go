// Package console implements the interactive terminal side of the gateway:
// the command prompt, the command dispatcher and the stdin line reader.
package console

import (
	"fmt"
	"io"
)

// DefaultPromptText is shown while the gateway waits for a command.
const DefaultPromptText = "\nEnter command (a0, a1, a2) or Ctrl+C to exit: > "

// Prompt tracks whether the prompt is the last thing written to w, so that
// notification text never lands on a half-typed command line. It is owned
// by the session loop goroutine and is not safe for concurrent use.
type Prompt struct {
	w      io.Writer
	text   string
	active bool
}

// NewPrompt creates an inactive prompt writing to w. An empty text selects
// DefaultPromptText.
func NewPrompt(w io.Writer, text string) *Prompt {
	if text == "" {
		text = DefaultPromptText
	}
	return &Prompt{w: w, text: text}
}

// Active reports whether the prompt is currently displayed.
func (p *Prompt) Active() bool {
	return p.active
}

// Show writes the prompt unless it is already displayed.
func (p *Prompt) Show() {
	if p.active {
		return
	}
	fmt.Fprint(p.w, p.text)
	p.active = true
}

// Clear ends the prompt line unless no prompt is displayed.
func (p *Prompt) Clear() {
	if !p.active {
		return
	}
	fmt.Fprintln(p.w)
	p.active = false
}

// Submitted records that the user ended the prompt line by pressing Enter,
// so the next output needs no extra line break.
func (p *Prompt) Submitted() {
	p.active = false
}

// Say writes a message line, ending the prompt line first if needed. The
// prompt stays hidden until the next Show.
func (p *Prompt) Say(format string, args ...any) {
	p.Clear()
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Notify writes asynchronous output on its own line and re-shows the prompt.
func (p *Prompt) Notify(format string, args ...any) {
	p.Say(format, args...)
	p.Show()
}

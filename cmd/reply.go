package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/knowyouranimal/kya/internal/kya/chat"
)

// replyPrinter shows a streaming reply. Plain output prints each delta as it
// arrives; rendered output waits for the whole reply and prints it as markdown.
// A spinner runs on stderr until there is something to show.
type replyPrinter struct {
	w        io.Writer
	renderer *glamour.TermRenderer
	prefix   string // printed before each reply
	printed  strings.Builder
	spinner  *spinner
}

func newReplyPrinter(w io.Writer, rendered bool) (*replyPrinter, error) {
	p := &replyPrinter{w: w}
	if rendered {
		r, err := newRenderer()
		if err != nil {
			return nil, fmt.Errorf("creating markdown renderer: %w", err)
		}
		p.renderer = r
	}
	return p, nil
}

func (p *replyPrinter) onChange(s chat.Snapshot) {
	switch {
	case s.State == chat.Sending && p.spinner == nil:
		p.spinner = startSpinner("Waiting for response...")
	case s.State == chat.Idle:
		p.stopSpinner()
	}

	if p.renderer != nil || s.Delta == "" {
		return
	}
	p.stopSpinner()
	if p.printed.Len() == 0 {
		fmt.Fprint(p.w, p.prefix)
	}
	fmt.Fprint(p.w, s.Delta)
	p.printed.WriteString(s.Delta)
}

func (p *replyPrinter) stopSpinner() {
	if p.spinner != nil {
		p.spinner.stop()
		p.spinner = nil
	}
}

// finish prints whatever part of the final reply has not been shown yet,
// such as the failure notice, and resets the printer for the next turn.
func (p *replyPrinter) finish(s chat.Snapshot) {
	p.stopSpinner()
	reply := lastReply(s.Messages)
	if p.printed.Len() == 0 {
		fmt.Fprint(p.w, p.prefix)
	}
	if p.renderer != nil {
		fmt.Fprint(p.w, renderMarkdown(p.renderer, reply))
	} else {
		fmt.Fprintln(p.w, strings.TrimPrefix(reply, p.printed.String()))
	}
	p.printed.Reset()
}

// lastReply returns the trailing assistant message, or "" if the list does
// not end with one.
func lastReply(messages []kya.Message) string {
	if n := len(messages); n > 0 && messages[n-1].Role == kya.RoleAssistant {
		return messages[n-1].Content
	}
	return ""
}

type spinner struct {
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// startSpinner displays a spinner animation on stderr until stop is called.
func startSpinner(label string) *spinner {
	s := &spinner{done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i = (i + 1) % len(frames) {
			fmt.Fprintf(os.Stderr, "\r%s %s", frames[i], label)
			select {
			case <-s.done:
				// Clear the spinner line
				fmt.Fprint(os.Stderr, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

func (s *spinner) stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

package chat

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// ErrEmptyTranscript means there is nothing to export. Callers turn it into
// a user notice rather than writing an empty file.
var ErrEmptyTranscript = errors.New("the conversation is empty")

// Export writes the transcript to a timestamped text file in dir and
// returns its path. One line per entry, "Sender: message", insertion order.
func (o *Orchestrator) Export(dir string) (string, error) {
	entries := o.Entries()
	if len(entries) == 0 {
		return "", ErrEmptyTranscript
	}

	stamp := o.now().UTC().Format("2006-01-02T15-04-05")
	path := filepath.Join(dir, fmt.Sprintf("conversation_log_%s.txt", stamp))

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(string(e.Sender))
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing conversation log: %w", err)
	}
	o.logger.Info("conversation exported", "path", path, "entries", len(entries))
	return path, nil
}

// RenderTable prints the transcript as a table, for the export command's
// listing mode.
func (o *Orchestrator) RenderTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Sender", "Message"})
	table.SetAutoWrapText(true)
	for _, e := range o.Entries() {
		table.Append([]string{string(e.Sender), e.Text})
	}
	table.Render()
}

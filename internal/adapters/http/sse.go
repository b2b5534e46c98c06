package httpadapter

import (
	"io"
	"strings"
)

// lineBreaks folds every line terminator SSE clients recognize into "\n".
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// writeEvent writes one server-sent event. Every line of data gets its own
// "data:" field so the client gets the text back with its line breaks.
// CR and CRLF arrive as LF, the only terminator a data field can carry.
func writeEvent(w io.Writer, event, data string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(lineBreaks.Replace(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

package render

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"
)

// TableStyle returns the table style shared by all report rendering. When w
// is a terminal the table stretches to the terminal width so long digests and
// paths get the available room.
func TableStyle(w io.Writer) table.Style {
	style := table.StyleLight
	style.Options.DrawBorder = false
	if width, ok := terminalWidth(w); ok {
		style.Size.WidthMin = width
	}
	return style
}

func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, false
	}
	return width, true
}

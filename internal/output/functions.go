package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/telvos/ferry/internal/utils"
	"golang.org/x/term"
)

// ProgressBar renders a fixed-width bar for a 0-100 percentage.
func ProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 30
	}
	percent = max(0, min(percent, 100))
	filled := max(0, min(int(percent/100*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent, StyleSymbols["bullet"]))
}

// ProgressLine renders a bar plus the current transfer rate.
func ProgressLine(percent, speedBps float64) string {
	return fmt.Sprintf("%s%s", ProgressBar(percent, 30), debugStyle.Render(utils.FormatSpeed(speedBps)))
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}

package gui

import (
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2/widget"
)

func newNumberEntry(initial string) *widget.Entry {
	entry := widget.NewEntry()
	entry.SetText(initial)
	return entry
}

func parseIntField(name, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, value)
	}
	return n, nil
}

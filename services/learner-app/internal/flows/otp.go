package flows

import "strings"

// OTPCells is the number of single-digit cells in the reset code input.
const OTPCells = 4

// OTPInput models the four-cell code entry and where focus sits.
type OTPInput struct {
	cells [OTPCells]string
	focus int
}

func (o *OTPInput) Focus() int {
	return o.focus
}

func (o *OTPInput) Cell(i int) string {
	if i < 0 || i >= OTPCells {
		return ""
	}
	return o.cells[i]
}

// Type sets cell i to the last digit of text. Focus moves to the next cell
// unless i is the last one. Non-digits are ignored.
func (o *OTPInput) Type(i int, text string) {
	if i < 0 || i >= OTPCells {
		return
	}
	digit := lastDigit(text)
	if digit == "" {
		return
	}
	o.cells[i] = digit
	o.focus = i
	if i < OTPCells-1 {
		o.focus = i + 1
	}
}

// Backspace clears cell i and moves focus back one cell. On the first cell
// focus stays put.
func (o *OTPInput) Backspace(i int) {
	if i < 0 || i >= OTPCells {
		return
	}
	o.cells[i] = ""
	o.focus = i
	if i > 0 {
		o.focus = i - 1
	}
}

func (o *OTPInput) Code() string {
	return strings.Join(o.cells[:], "")
}

func (o *OTPInput) Complete() bool {
	return len(o.Code()) == OTPCells
}

func (o *OTPInput) Reset() {
	*o = OTPInput{}
}

func lastDigit(text string) string {
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] >= '0' && text[i] <= '9' {
			return text[i : i+1]
		}
	}
	return ""
}

package market

import "strings"

// Symbols are written as BASE-QUOTE ("BTC-USD"). A "/" separator is accepted
// for venues that quote pairs that way.

// Base returns the base asset of a symbol, or "" if the symbol has no
// recognizable separator.
func Base(symbol string) string {
	base, _ := Split(symbol)
	return base
}

// Quote returns the quote asset of a symbol, or "" if the symbol has no
// recognizable separator.
func Quote(symbol string) string {
	_, quote := Split(symbol)
	return quote
}

// Split breaks a symbol into base and quote assets.
func Split(symbol string) (base, quote string) {
	for _, sep := range []string{"-", "/"} {
		if i := strings.Index(symbol, sep); i > 0 && i < len(symbol)-1 {
			return symbol[:i], symbol[i+1:]
		}
	}
	return "", ""
}

package claim

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// DatePattern finds date tokens in receipt text and the layout that reads them
type DatePattern struct {
	Regexp *regexp.Regexp
	Layout string
}

// ParserConfig controls which tokens the Parser recognizes
type ParserConfig struct {
	CurrencySymbols []string
	DateLayouts     []string // Go time layouts, tried in order
}

// DefaultParserConfig matches rupee and dollar amounts and DD/MM/YYYY dates
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		CurrencySymbols: []string{"$", "₹"},
		DateLayouts:     []string{"02/01/2006"},
	}
}

// Parser pulls amount, date and merchant out of raw receipt text
type Parser struct {
	amount *regexp.Regexp
	dates  []DatePattern
}

// NewParser compiles the configured currency symbols and date layouts
func NewParser(cfg ParserConfig) (*Parser, error) {
	var symbols []string
	for _, s := range cfg.CurrencySymbols {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, regexp.QuoteMeta(s))
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one currency symbol is required")
	}
	if len(cfg.DateLayouts) == 0 {
		return nil, fmt.Errorf("at least one date layout is required")
	}

	p := &Parser{
		// thousands (1,234,567) and lakh (12,34,567) grouping are both accepted
		amount: regexp.MustCompile(`(?:` + strings.Join(symbols, "|") + `)\s?((?:[0-9]{1,3}(?:,[0-9]{3})+|[0-9]{1,2}(?:,[0-9]{2})+,[0-9]{3}|[0-9]+)(?:\.[0-9]{1,2})?)`),
	}
	for _, layout := range cfg.DateLayouts {
		re, err := layoutPattern(layout)
		if err != nil {
			return nil, err
		}
		p.dates = append(p.dates, DatePattern{Regexp: re, Layout: layout})
	}
	return p, nil
}

// MustNewParser is NewParser that panics on a bad configuration
func MustNewParser(cfg ParserConfig) *Parser {
	p, err := NewParser(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse never fails: anything it cannot find is left nil
func (p *Parser) Parse(rawText string) ParsedFields {
	return ParsedFields{
		Amount:   p.parseAmount(rawText),
		Date:     p.parseDate(rawText),
		Merchant: parseMerchant(rawText),
	}
}

func (p *Parser) parseAmount(text string) *decimal.Decimal {
	m := p.amount.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return nil
	}
	return &amount
}

// parseDate returns the earliest token in the text that is a real calendar date
func (p *Parser) parseDate(text string) *time.Time {
	var (
		found *time.Time
		at    = len(text) + 1
	)
	for _, dp := range p.dates {
		for _, loc := range dp.Regexp.FindAllStringIndex(text, -1) {
			if loc[0] >= at {
				break
			}
			// a date must not be cut out of a longer run of digits
			if isDigitAt(text, loc[0]-1) || isDigitAt(text, loc[1]) {
				continue
			}
			d, err := time.Parse(dp.Layout, text[loc[0]:loc[1]])
			if err != nil {
				// shaped like a date but not one, e.g. 31/02/2025
				continue
			}
			found, at = &d, loc[0]
			break
		}
	}
	return found
}

func isDigitAt(text string, i int) bool {
	return i >= 0 && i < len(text) && text[i] >= '0' && text[i] <= '9'
}

func parseMerchant(text string) *string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return &line
		}
	}
	return nil
}

// layoutPattern builds an unanchored regexp that matches tokens shaped like a Go time layout:
// digit runs become \d{n}, letter runs become [A-Za-z]+ and everything else is literal
func layoutPattern(layout string) (*regexp.Regexp, error) {
	if strings.TrimSpace(layout) == "" {
		return nil, fmt.Errorf("empty date layout")
	}

	var b strings.Builder
	runes := []rune(layout)
	for i := 0; i < len(runes); {
		j := i
		switch {
		case unicode.IsDigit(runes[i]):
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			if n := j - i; n == 1 {
				b.WriteString(`\d{1,2}`)
			} else {
				fmt.Fprintf(&b, `\d{%d}`, n)
			}
		case unicode.IsLetter(runes[i]):
			for j < len(runes) && unicode.IsLetter(runes[j]) {
				j++
			}
			b.WriteString(`[A-Za-z]+`)
		default:
			j++
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
		i = j
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compiling date layout %q: %w", layout, err)
	}
	return re, nil
}

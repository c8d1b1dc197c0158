// Package txscript parses small text scripts of I2C transactions, as used by
// the CLI's "i2c run" command.
package txscript

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/alecthomas/participle/v2"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
)

// Parser parses transaction scripts.
type Parser struct {
	parser *participle.Parser[Script]
}

// NewParser creates a script parser.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[Script](
		participle.Lexer(ScriptLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse parses a script from a reader.
func (p *Parser) Parse(r io.Reader) (*Script, error) {
	script, err := p.parser.Parse("", r)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return script, nil
}

// ParseString parses a script from a string.
func (p *Parser) ParseString(input string) (*Script, error) {
	script, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return script, nil
}

// ParseFile parses a script file.
func (p *Parser) ParseFile(filename string) (*Script, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Compile parses input and returns its transactions.
func Compile(input string) ([]bus.I2CTransaction, error) {
	p, err := NewParser()
	if err != nil {
		return nil, err
	}
	script, err := p.ParseString(input)
	if err != nil {
		return nil, err
	}
	return script.Transactions()
}

// Transactions converts the script into bus transactions, checking every
// literal against its range.
func (s *Script) Transactions() ([]bus.I2CTransaction, error) {
	txs := make([]bus.I2CTransaction, 0, len(s.Statements))
	for _, st := range s.Statements {
		tx, err := st.transaction()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.Pos, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (st *Statement) transaction() (bus.I2CTransaction, error) {
	switch {
	case st.Write != nil:
		addr, err := st.Write.Address.address()
		if err != nil {
			return bus.I2CTransaction{}, err
		}
		data, err := st.Write.Payload.bytes()
		if err != nil {
			return bus.I2CTransaction{}, err
		}
		return bus.I2CWrite(addr, data...), nil
	case st.Read != nil:
		addr, err := st.Read.Address.address()
		if err != nil {
			return bus.I2CTransaction{}, err
		}
		n, err := st.Read.Length.value(0xff)
		if err != nil {
			return bus.I2CTransaction{}, fmt.Errorf("read length: %w", err)
		}
		return bus.I2CRead(addr, int(n)), nil
	}
	return bus.I2CTransaction{}, fmt.Errorf("empty statement")
}

func (p *Payload) bytes() ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	var data []byte
	for _, b := range p.Bracketed {
		v, err := parseLiteral(b.Hex, nil, b.Word, 16, 0xff)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Pos, err)
		}
		data = append(data, byte(v))
	}
	for _, n := range p.Values {
		v, err := n.value(0xff)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Pos, err)
		}
		data = append(data, byte(v))
	}
	return data, nil
}

func (n *Number) address() (byte, error) {
	v, err := n.value(bus.MaxI2CAddress)
	if err != nil {
		return 0, fmt.Errorf("device address: %w", err)
	}
	return byte(v), nil
}

func (n *Number) value(max uint64) (uint64, error) {
	return parseLiteral(n.Hex, n.Bin, n.Word, 10, max)
}

func parseLiteral(hex, bin, word *string, wordBase int, max uint64) (uint64, error) {
	var (
		text string
		base int
	)
	switch {
	case hex != nil:
		text, base = (*hex)[2:], 16
	case bin != nil:
		text, base = (*bin)[2:], 2
	case word != nil:
		text, base = *word, wordBase
	default:
		return 0, fmt.Errorf("missing number")
	}
	v, err := strconv.ParseUint(text, base, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", bus.ErrOutOfRange, text)
	}
	if v > max {
		return 0, fmt.Errorf("%w: %d exceeds 0x%x", bus.ErrOutOfRange, v, max)
	}
	return v, nil
}

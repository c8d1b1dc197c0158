package txscript

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// Script is a sequence of bus transactions, optionally separated by
// semicolons.
//
//	write 0x50 [00 10]   # set the register pointer
//	read 0x50 2
type Script struct {
	Statements []*Statement `Semicolon* ( @@ Semicolon* )*`
}

// Statement is one transaction.
type Statement struct {
	Pos lexer.Position

	Write *WriteStmt `  @@`
	Read  *ReadStmt  `| @@`
}

// WriteStmt writes bytes to a device: "write 0x20 [aa 55]" or
// "write 0x20 0xaa 0x55".
type WriteStmt struct {
	Address *Number  `KwWrite @@`
	Payload *Payload `@@?`
}

// Payload is the data of a write. Bracketed bytes default to hex.
type Payload struct {
	Bracketed []*HexByte `  LBracket ( @@ Comma? )* RBracket`
	Values    []*Number  `| ( @@ Comma? )+`
}

// ReadStmt reads a number of bytes: "read 0x20 2".
type ReadStmt struct {
	Address *Number `KwRead @@`
	Length  *Number `@@`
}

// Number is a literal in hex (0x), binary (0b) or decimal notation.
type Number struct {
	Pos lexer.Position

	Hex  *string `  @Hex`
	Bin  *string `| @Bin`
	Word *string `| @Word`
}

// HexByte is a literal inside brackets where bare digits are hex. A 0b
// prefix is not binary there: [0b1] is the byte 0xb1.
type HexByte struct {
	Pos lexer.Position

	Hex  *string `  @Hex`
	Word *string `| @( Bin | Word )`
}

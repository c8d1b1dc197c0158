package txscript

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// ScriptLexer tokenizes I2C transaction scripts.
var ScriptLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(#|//)[^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},

	// Keywords
	{Name: "KwWrite", Pattern: `(?i)\bwrite\b`},
	{Name: "KwRead", Pattern: `(?i)\bread\b`},

	{Name: "Semicolon", Pattern: `;`},
	{Name: "Comma", Pattern: `,`},
	{Name: "LBracket", Pattern: `\[`},
	{Name: "RBracket", Pattern: `\]`},

	// Numbers. Word also covers decimals. Inside brackets Word and Bin are
	// both read as hex.
	{Name: "Hex", Pattern: `0[xX][0-9a-fA-F]+`},
	{Name: "Bin", Pattern: `0[bB][01]+\b`},
	{Name: "Word", Pattern: `[0-9a-fA-F]+`},
})

package txscript

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenTraceLab/OpenTraceWave/pkg/bus"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []bus.I2CTransaction
	}{
		{
			name:  "bracketed hex",
			input: "write 0x20 [aa 55]",
			want:  []bus.I2CTransaction{bus.I2CWrite(0x20, 0xAA, 0x55)},
		},
		{
			name:  "plain values",
			input: "write 32 0xaa, 85",
			want:  []bus.I2CTransaction{bus.I2CWrite(0x20, 0xAA, 0x55)},
		},
		{
			name:  "write then read",
			input: "write 0x50 [00 10]; read 0x50 2",
			want:  []bus.I2CTransaction{bus.I2CWrite(0x50, 0x00, 0x10), bus.I2CRead(0x50, 2)},
		},
		{
			name: "multiline with comments",
			input: `
				# select register
				WRITE 0x68 [0x75]
				// read WHO_AM_I
				read 0x68 0b1
			`,
			want: []bus.I2CTransaction{bus.I2CWrite(0x68, 0x75), bus.I2CRead(0x68, 1)},
		},
		{
			name:  "bracketed 0b prefix stays hex",
			input: "write 0x20 [0b 0b1 0B]",
			want:  []bus.I2CTransaction{bus.I2CWrite(0x20, 0x0B, 0xB1, 0x0B)},
		},
		{
			name:  "address only",
			input: "write 0x3c;;",
			want:  []bus.I2CTransaction{bus.I2CWrite(0x3c)},
		},
		{
			name:  "empty",
			input: "  # nothing here\n",
			want:  []bus.I2CTransaction{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compile(tt.input)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if !bus.SameTransactions(got, tt.want) {
				t.Errorf("Compile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		outRange bool
	}{
		{"address too large", "write 0x80 [00]", true},
		{"byte too large", "write 0x20 [100]", true},
		{"bracketed 0b10 is hex", "write 0x20 [0b10]", true},
		{"decimal byte too large", "write 0x20 256", true},
		{"read too long", "read 0x20 300", true},
		{"hex digits outside brackets", "read 0x20 1f", true},
		{"missing length", "read 0x20", false},
		{"unknown keyword", "scan 0x20", false},
		{"unclosed bracket", "write 0x20 [aa", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.input)
			if err == nil {
				t.Fatal("Compile() succeeded")
			}
			if tt.outRange && !errors.Is(err, bus.ErrOutOfRange) {
				t.Errorf("Compile() error = %v, want ErrOutOfRange", err)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.i2c")
	if err := os.WriteFile(path, []byte("write 0x20 [01]\nread 0x20 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	parser, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}
	script, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(script.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(script.Statements))
	}
	if script.Statements[1].Pos.Line != 2 {
		t.Errorf("second statement on line %d, want 2", script.Statements[1].Pos.Line)
	}

	txs, err := script.Transactions()
	if err != nil {
		t.Fatal(err)
	}
	if txs[1].Kind() != bus.I2CReadKind || txs[1].Len() != 4 {
		t.Errorf("second transaction = %v", txs[1])
	}

	if _, err := parser.ParseFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("ParseFile() of a missing file succeeded")
	}
}

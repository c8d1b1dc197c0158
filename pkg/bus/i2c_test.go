package bus

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeI2C(t *testing.T) {
	tests := []struct {
		name string
		txs  []I2CTransaction
		want []uint32
	}{
		{
			name: "write two bytes",
			txs:  []I2CTransaction{I2CWrite(0x20, 0xAA, 0x55)},
			want: []uint32{0xC0200402, 0xD25502AA},
		},
		{
			name: "write three bytes",
			txs:  []I2CTransaction{I2CWrite(0x50, 0x01, 0x02, 0x03)},
			want: []uint32{0xC0500403, 0xD2020201, 0xD0000203},
		},
		{
			name: "read three bytes",
			txs:  []I2CTransaction{I2CRead(0x68, 3)},
			want: []uint32{0xC0680603, 0xD3000300, 0xD0000200},
		},
		{
			name: "read one byte",
			txs:  []I2CTransaction{I2CRead(0x10, 1)},
			want: []uint32{0xC0100601, 0xD0000200},
		},
		{
			name: "zero length write",
			txs:  []I2CTransaction{I2CWrite(0x3c)},
			want: []uint32{0xC03C0400, 0xD0000000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeI2C(tt.txs)
			if err != nil {
				t.Fatalf("EncodeI2C() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EncodeI2C() = %08X, want %08X", got, tt.want)
			}
			if len(got) != I2CReadNumber(tt.txs) {
				t.Errorf("len = %d, I2CReadNumber() = %d", len(got), I2CReadNumber(tt.txs))
			}
		})
	}
}

func TestEncodeI2COutOfRange(t *testing.T) {
	tests := []struct {
		name string
		tx   I2CTransaction
	}{
		{"address", I2CWrite(0x80, 0x00)},
		{"read length", I2CRead(0x10, 256)},
		{"negative length", I2CRead(0x10, -1)},
		{"write length", I2CWrite(0x10, make([]byte, 256)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeI2C([]I2CTransaction{tt.tx}); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("EncodeI2C() error = %v, want ErrOutOfRange", err)
			}
		})
	}
}

func TestI2CReadNumber(t *testing.T) {
	tests := []struct {
		name string
		txs  []I2CTransaction
		want int
	}{
		{"none", nil, 0},
		{"write 2", []I2CTransaction{I2CWrite(1, 1, 2)}, 2},
		{"write 3", []I2CTransaction{I2CWrite(1, 1, 2, 3)}, 3},
		{"read 0", []I2CTransaction{I2CRead(1, 0)}, 2},
		{"register read", []I2CTransaction{I2CWrite(0x50, 0x10), I2CRead(0x50, 4)}, 5},
	}
	for _, tt := range tests {
		if got := I2CReadNumber(tt.txs); got != tt.want {
			t.Errorf("%s: I2CReadNumber() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

// ackAll mimics a device that acknowledges the address and every byte.
func ackAll(words []uint32) []uint32 {
	out := make([]uint32, len(words))
	for i, w := range words {
		switch w >> 28 {
		case 0xC:
			out[i] = w | i2cDeviceAckBit
		default:
			if w&i2cValid0Bit != 0 {
				w |= i2cAck0Bit
			}
			if w&i2cValid1Bit != 0 {
				w |= i2cAck1Bit
			}
			out[i] = w
		}
	}
	return out
}

func TestI2CRoundTrip(t *testing.T) {
	txs := []I2CTransaction{
		I2CWrite(0x20, 0xAA, 0x55),
		I2CWrite(0x21, 0x01, 0x02, 0x03),
		I2CWrite(0x22),
		I2CRead(0x23, 2),
	}
	words, err := EncodeI2C(txs)
	if err != nil {
		t.Fatalf("EncodeI2C() error = %v", err)
	}

	results := DecodeI2C(ackAll(words))
	if len(results) != len(txs) {
		t.Fatalf("DecodeI2C() returned %d results, want %d", len(results), len(txs))
	}
	for i, tx := range txs {
		res := results[i]
		if res.DeviceID != tx.DeviceID() {
			t.Errorf("result %d DeviceID = 0x%02x, want 0x%02x", i, res.DeviceID, tx.DeviceID())
		}
		if res.Read != (tx.Kind() == I2CReadKind) {
			t.Errorf("result %d Read = %v", i, res.Read)
		}
		if !res.AckDeviceID {
			t.Errorf("result %d AckDeviceID = false", i)
		}
		if len(res.Data) != tx.Len() || len(res.AcksData) != tx.Len() {
			t.Errorf("result %d has %d bytes/%d acks, want %d", i, len(res.Data), len(res.AcksData), tx.Len())
		}
		if tx.Kind() == I2CWriteKind && !bytes.Equal(res.Data, tx.Data()) {
			t.Errorf("result %d Data = % x, want % x", i, res.Data, tx.Data())
		}
	}
}

func TestDecodeI2CTruncated(t *testing.T) {
	fourByteRead, err := EncodeI2C([]I2CTransaction{I2CRead(0x50, 4)})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		words []uint32
		want  []I2CResult
	}{
		{
			name:  "bare command word after a whole transaction",
			words: []uint32{0xC0200502, 0xD35503AA, 0xC0210503},
			want: []I2CResult{
				{DeviceID: 0x20, AckDeviceID: true, Data: []byte{0xAA, 0x55}, AcksData: []bool{true, true}},
				{DeviceID: 0x21, AckDeviceID: true, Data: []byte{}, AcksData: []bool{}},
			},
		},
		{
			name:  "read cut after the first data word",
			words: []uint32{0xC0500703, 0xD3020301},
			want: []I2CResult{
				{Read: true, DeviceID: 0x50, AckDeviceID: true, Data: []byte{0x01, 0x02}, AcksData: []bool{true, true}},
			},
		},
		{
			name:  "four byte read keeps the first two bytes",
			words: ackAll(fourByteRead)[:2],
			want: []I2CResult{
				{Read: true, DeviceID: 0x50, AckDeviceID: true, Data: []byte{0x00, 0x00}, AcksData: []bool{true, true}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeI2C(tt.words)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeI2C() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeI2CNack(t *testing.T) {
	results := DecodeI2C([]uint32{0xC0420601, 0xD0000200})
	if len(results) != 1 {
		t.Fatalf("DecodeI2C() returned %d results", len(results))
	}
	if results[0].AckDeviceID || !results[0].Read || results[0].DeviceID != 0x42 {
		t.Errorf("DecodeI2C() = %+v", results[0])
	}
}

func TestSameTransactions(t *testing.T) {
	a := []I2CTransaction{I2CWrite(0x20, 1, 2), I2CRead(0x20, 4)}
	b := []I2CTransaction{I2CWrite(0x20, 1, 2), I2CRead(0x20, 4)}
	if !SameTransactions(a, b) {
		t.Error("identical lists compare unequal")
	}
	b[1] = I2CRead(0x20, 3)
	if SameTransactions(a, b) {
		t.Error("different read length compares equal")
	}
	if SameTransactions(a, a[:1]) {
		t.Error("different lengths compare equal")
	}
	if I2CRead(1, 2).Equal(I2CWrite(1, 0, 0)) {
		t.Error("read compares equal to a write of the same length")
	}
}

func TestEncodeI2CResults(t *testing.T) {
	results := []I2CResult{
		{Read: false, DeviceID: 0x20, AckDeviceID: true, Data: []byte{0xAA, 0x55}, AcksData: []bool{true, true}},
		{Read: true, DeviceID: 0x68, AckDeviceID: false, Data: []byte{0x01, 0x02, 0x03}, AcksData: []bool{true, false, false}},
	}
	words := EncodeI2CResults(results)
	if words[0] != 0xC0200502 {
		t.Errorf("info word = %08X, want C0200502", words[0])
	}
	got := DecodeI2C(words)
	if !reflect.DeepEqual(got, results) {
		t.Errorf("DecodeI2C(EncodeI2CResults()) = %+v, want %+v", got, results)
	}
}

func TestDecodeI2CStimulus(t *testing.T) {
	txs := []I2CTransaction{
		I2CWrite(0x20, 0xAA, 0x55, 0x01),
		I2CRead(0x20, 2),
		I2CWrite(0x3c),
	}
	words, err := EncodeI2C(txs)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeI2CStimulus(words)
	if err != nil {
		t.Fatalf("DecodeI2CStimulus() error = %v", err)
	}
	if !SameTransactions(got, txs) {
		t.Errorf("DecodeI2CStimulus() = %v, want %v", got, txs)
	}

	if _, err := DecodeI2CStimulus([]uint32{0x12345678}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("garbage word error = %v, want ErrOutOfRange", err)
	}
	if _, err := DecodeI2CStimulus(words[:1]); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("truncated stimulus error = %v, want ErrOutOfRange", err)
	}
}

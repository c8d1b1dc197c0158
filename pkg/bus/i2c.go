// Package bus turns I2C and SPI transactions into the 32-bit sample words a
// SmartWave stimulus plays, and turns recorder readback back into results.
package bus

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned for settings or transactions the hardware cannot
// carry out.
var ErrOutOfRange = errors.New("bus: configuration out of range")

// MaxI2CAddress is the highest 7-bit device address.
const MaxI2CAddress = 0x7f

// maxI2CLength is the largest transfer one command word can describe.
const maxI2CLength = 0xff

// I2C sample word layout.
const (
	i2cCommandMarker uint32 = 0xC << 28
	i2cDataMarker    uint32 = 0xD << 28

	i2cLengthMask   uint32 = 0xff
	i2cDeviceAckBit uint32 = 1 << 8
	i2cReadBit      uint32 = 1 << 9
	i2cSelectBit    uint32 = 1 << 10
	i2cDeviceShift         = 16

	i2cAck0Bit   uint32 = 1 << 8
	i2cValid0Bit uint32 = 1 << 9
	i2cAck1Bit   uint32 = 1 << 24
	i2cValid1Bit uint32 = 1 << 25
)

// I2CKind tells a write transaction from a read.
type I2CKind uint8

const (
	I2CWriteKind I2CKind = iota
	I2CReadKind
)

func (k I2CKind) String() string {
	if k == I2CReadKind {
		return "read"
	}
	return "write"
}

// I2CTransaction is one addressed transfer. Values are built with I2CWrite
// and I2CRead; a write carries data and a read carries only a length.
type I2CTransaction struct {
	kind     I2CKind
	deviceID byte
	data     []byte
	length   int
}

// I2CWrite builds a write of data to the device at id.
func I2CWrite(id byte, data ...byte) I2CTransaction {
	return I2CTransaction{kind: I2CWriteKind, deviceID: id, data: append([]byte(nil), data...)}
}

// I2CRead builds a read of n bytes from the device at id.
func I2CRead(id byte, n int) I2CTransaction {
	return I2CTransaction{kind: I2CReadKind, deviceID: id, length: n}
}

// Kind reports whether the transaction writes or reads.
func (t I2CTransaction) Kind() I2CKind { return t.kind }

// DeviceID returns the 7-bit target address.
func (t I2CTransaction) DeviceID() byte { return t.deviceID }

// Data returns a copy of the bytes a write sends. It is nil for reads.
func (t I2CTransaction) Data() []byte {
	if t.kind == I2CReadKind {
		return nil
	}
	return append([]byte(nil), t.data...)
}

// Len returns the number of payload bytes transferred.
func (t I2CTransaction) Len() int {
	if t.kind == I2CReadKind {
		return t.length
	}
	return len(t.data)
}

func (t I2CTransaction) String() string {
	if t.kind == I2CReadKind {
		return fmt.Sprintf("read(0x%02x, %d)", t.deviceID, t.length)
	}
	return fmt.Sprintf("write(0x%02x, % x)", t.deviceID, t.data)
}

// Equal reports whether two transactions produce the same samples.
func (t I2CTransaction) Equal(o I2CTransaction) bool {
	if t.kind != o.kind || t.deviceID != o.deviceID {
		return false
	}
	if t.kind == I2CReadKind {
		return t.length == o.length
	}
	return bytes.Equal(t.data, o.data)
}

// SameTransactions reports whether two lists are structurally equal.
func SameTransactions(a, b []I2CTransaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// I2CResult is the outcome of one transaction as seen by the recorder.
type I2CResult struct {
	Read        bool
	DeviceID    byte
	AckDeviceID bool
	Data        []byte
	AcksData    []bool
}

// dataWords is the number of data words following a command word. Every
// word carries up to two bytes; empty transfers still occupy one word.
func dataWords(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + 1) / 2
}

func validateI2C(t I2CTransaction) error {
	if t.deviceID > MaxI2CAddress {
		return fmt.Errorf("%w: i2c address 0x%02x", ErrOutOfRange, t.deviceID)
	}
	if n := t.Len(); n < 0 || n > maxI2CLength {
		return fmt.Errorf("%w: i2c %s of %d bytes", ErrOutOfRange, t.kind, n)
	}
	return nil
}

// EncodeI2C converts transactions into stimulus samples.
func EncodeI2C(txs []I2CTransaction) ([]uint32, error) {
	words := make([]uint32, 0, I2CReadNumber(txs))
	for _, t := range txs {
		if err := validateI2C(t); err != nil {
			return nil, err
		}
		n := t.Len()
		cmd := i2cCommandMarker | i2cSelectBit | uint32(t.deviceID)<<i2cDeviceShift | uint32(n)
		if t.kind == I2CReadKind {
			cmd |= i2cReadBit
		}
		words = append(words, cmd)

		for w := 0; w < dataWords(n); w++ {
			word := i2cDataMarker
			for half := 0; half < 2; half++ {
				i := 2*w + half
				if i >= n {
					break
				}
				valid, ack, shift := i2cValid0Bit, i2cAck0Bit, 0
				if half == 1 {
					valid, ack, shift = i2cValid1Bit, i2cAck1Bit, 16
				}
				word |= valid
				if t.kind == I2CReadKind {
					// the host acknowledges every byte but the last
					if i < n-1 {
						word |= ack
					}
				} else {
					word |= uint32(t.data[i]) << shift
				}
			}
			words = append(words, word)
		}
	}
	return words, nil
}

// I2CReadNumber returns how many readback words the transactions produce;
// the recorder captures one word per stimulus sample.
func I2CReadNumber(txs []I2CTransaction) int {
	total := 0
	for _, t := range txs {
		total += 1 + dataWords(t.Len())
	}
	return total
}

// DecodeI2C parses recorder readback into one result per command word. A
// transaction whose data words were cut short keeps the bytes that arrived.
func DecodeI2C(words []uint32) []I2CResult {
	var results []I2CResult
	for len(words) > 0 {
		info := words[0]
		words = words[1:]
		n := int(info & i2cLengthMask)
		have := dataWords(n)
		if have > len(words) {
			have = len(words)
		}
		res := I2CResult{
			Read:        info&i2cReadBit != 0,
			DeviceID:    byte(info>>i2cDeviceShift) & MaxI2CAddress,
			AckDeviceID: info&i2cDeviceAckBit != 0,
			Data:        make([]byte, 0, n),
			AcksData:    make([]bool, 0, n),
		}
		for i := 0; i < n && i/2 < have; i++ {
			word := words[i/2]
			if i%2 == 0 {
				res.Data = append(res.Data, byte(word))
				res.AcksData = append(res.AcksData, word&i2cAck0Bit != 0)
			} else {
				res.Data = append(res.Data, byte(word>>16))
				res.AcksData = append(res.AcksData, word&i2cAck1Bit != 0)
			}
		}
		results = append(results, res)
		words = words[have:]
	}
	return results
}

// EncodeI2CResults is the inverse of DecodeI2C: it renders results the way
// the recorder reports them.
func EncodeI2CResults(results []I2CResult) []uint32 {
	var words []uint32
	for _, r := range results {
		n := len(r.Data)
		info := i2cCommandMarker | i2cSelectBit | uint32(r.DeviceID&MaxI2CAddress)<<i2cDeviceShift | uint32(n&maxI2CLength)
		if r.Read {
			info |= i2cReadBit
		}
		if r.AckDeviceID {
			info |= i2cDeviceAckBit
		}
		words = append(words, info)

		for w := 0; w < dataWords(n); w++ {
			word := i2cDataMarker
			for half := 0; half < 2; half++ {
				i := 2*w + half
				if i >= n {
					break
				}
				valid, ack, shift := i2cValid0Bit, i2cAck0Bit, 0
				if half == 1 {
					valid, ack, shift = i2cValid1Bit, i2cAck1Bit, 16
				}
				word |= valid | uint32(r.Data[i])<<shift
				if i < len(r.AcksData) && r.AcksData[i] {
					word |= ack
				}
			}
			words = append(words, word)
		}
	}
	return words
}

// DecodeI2CStimulus recovers the transactions from stimulus samples built by
// EncodeI2C.
func DecodeI2CStimulus(words []uint32) ([]I2CTransaction, error) {
	var txs []I2CTransaction
	for len(words) > 0 {
		info := words[0]
		if info&0xf0000000 != i2cCommandMarker {
			return nil, fmt.Errorf("%w: word 0x%08x is not an i2c command", ErrOutOfRange, info)
		}
		n := int(info & i2cLengthMask)
		need := dataWords(n)
		if len(words) < 1+need {
			return nil, fmt.Errorf("%w: i2c transfer of %d bytes lacks data words", ErrOutOfRange, n)
		}
		id := byte(info>>i2cDeviceShift) & MaxI2CAddress
		if info&i2cReadBit != 0 {
			txs = append(txs, I2CRead(id, n))
		} else {
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(words[1+i/2] >> (16 * uint(i%2)))
			}
			txs = append(txs, I2CWrite(id, data...))
		}
		words = words[1+need:]
	}
	return txs, nil
}

package protocol

import "encoding/binary"

// ChecksumSeed is the initial value of both image checksums.
const ChecksumSeed uint32 = 0xC0DEF19E

// FirmwareChecksum sums the image as little-endian 32-bit words on top of
// ChecksumSeed, modulo 2^32. A trailing partial word is zero padded.
func FirmwareChecksum(image []byte) uint32 {
	return checksum(image, binary.LittleEndian)
}

// BitstreamChecksum is FirmwareChecksum with big-endian words.
func BitstreamChecksum(image []byte) uint32 {
	return checksum(image, binary.BigEndian)
}

func checksum(image []byte, order binary.ByteOrder) uint32 {
	sum := ChecksumSeed
	for len(image) >= 4 {
		sum += order.Uint32(image)
		image = image[4:]
	}
	if len(image) > 0 {
		var tail [4]byte
		copy(tail[:], image)
		sum += order.Uint32(tail[:])
	}
	return sum
}

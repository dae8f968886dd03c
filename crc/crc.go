package crc

import "fmt"

// CRC describes a reflected 32-bit cyclic redundancy check.
type CRC struct {
	Name   string
	Init   uint32
	Poly   uint32
	XorOut uint32

	tbl Table
}

// NewCRC builds the lookup table for the reflected form of poly.
func NewCRC(name string, init, poly, xorOut uint32) (crc CRC) {
	crc.Name = name
	crc.Init = init
	crc.Poly = poly
	crc.XorOut = xorOut
	crc.tbl = NewTable(crc.Poly)

	return
}

// NewIEEE returns the CRC-32 used by F Prime frame checksums (zlib, PKZIP).
func NewIEEE() CRC {
	return NewCRC("IEEE", 0xFFFFFFFF, 0xEDB88320, 0xFFFFFFFF)
}

func (crc CRC) String() string {
	return fmt.Sprintf("{Name:%s Init:0x%08X Poly:0x%08X XorOut:0x%08X}", crc.Name, crc.Init, crc.Poly, crc.XorOut)
}

func (crc CRC) Checksum(data []byte) uint32 {
	return Checksum(crc.Init, data, crc.tbl) ^ crc.XorOut
}

type Table [256]uint32

func NewTable(poly uint32) (table Table) {
	for tIdx := range table {
		crc := uint32(tIdx)
		for bIdx := 0; bIdx < 8; bIdx++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc = crc >> 1
			}
		}
		table[tIdx] = crc
	}
	return table
}

// Checksum runs the table over data starting from init. The final xor is
// left to the caller.
func Checksum(init uint32, data []byte, table Table) (crc uint32) {
	crc = init
	for _, v := range data {
		crc = crc>>8 ^ table[byte(crc)^v]
	}
	return
}

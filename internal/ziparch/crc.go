package ziparch

// CRC-32（IEEE 802.3，反射多项式 0xEDB88320），与 ZIP 头中的 crc-32 字段一致。
const crcPoly = 0xEDB88320

var crcTable = makeCRCTable()

func makeCRCTable() *[256]uint32 {
	var t [256]uint32
	for i := range t {
		c := uint32(i)
		for k := 0; k < 8; k++ {
			if c&1 == 1 {
				c = crcPoly ^ (c >> 1)
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	return &t
}

// UpdateCRC 在已有 crc（对外值，初始为 0）之上继续累加 p，可分块调用。
//
// 内部寄存器以 0xFFFFFFFF 为种子，输出时再异或 0xFFFFFFFF；
// 因此 UpdateCRC(UpdateCRC(0, a), b) == ChecksumCRC(a+b)。
func UpdateCRC(crc uint32, p []byte) uint32 {
	c := ^crc
	for _, b := range p {
		c = crcTable[byte(c)^b] ^ (c >> 8)
	}
	return ^c
}

// ChecksumCRC 返回 p 的 CRC-32。
func ChecksumCRC(p []byte) uint32 { return UpdateCRC(0, p) }

// crcWriter 是把写入内容累加进 CRC 的 io.Writer。
type crcWriter struct {
	crc uint32
	n   int64
}

func (w *crcWriter) Write(p []byte) (int, error) {
	w.crc = UpdateCRC(w.crc, p)
	w.n += int64(len(p))
	return len(p), nil
}

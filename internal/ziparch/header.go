package ziparch

import (
	"encoding/binary"
	"errors"
)

// ZIP 记录签名与固定尺寸（APPNOTE 4.3.7 / 4.3.12 / 4.3.16）。
const (
	localSig   = 0x04034b50
	centralSig = 0x02014b50
	endSig     = 0x06054b50

	LocalHeaderLen   = 30
	CentralHeaderLen = 46
	EndRecordLen     = 22

	// versionNeeded 2.0：stored 条目与目录结构的最小版本。
	versionNeeded = 20
	// versionMadeBy 高字节 0 = MS-DOS/FAT 属性兼容，低字节同 versionNeeded。
	versionMadeBy = 20
	// methodStore 是唯一使用的压缩方式：原样存储。
	methodStore = 0
	// flagUTF8（bit 11）表示文件名为 UTF-8；纯 ASCII 文件名不设置，flags 保持为 0。
	flagUTF8 = 0x0800

	maxUint16 = 0xFFFF
	maxUint32 = 0xFFFFFFFF
)

// LocalHeader 是 30 字节本地文件头（后接文件名与原始数据）。
type LocalHeader struct {
	Flags uint16
	CRC32 uint32
	Size  uint32 // compressed == uncompressed（stored）
	Name  string
}

// MarshalBinary 返回本地文件头 + 文件名字节。
func (h LocalHeader) MarshalBinary() ([]byte, error) {
	if len(h.Name) > maxUint16 {
		return nil, errors.New("文件名过长")
	}
	b := make([]byte, LocalHeaderLen+len(h.Name))
	le := binary.LittleEndian
	le.PutUint32(b[0:], localSig)
	le.PutUint16(b[4:], versionNeeded)
	le.PutUint16(b[6:], h.Flags)
	le.PutUint16(b[8:], methodStore)
	le.PutUint16(b[10:], 0) // mod time
	le.PutUint16(b[12:], 0) // mod date
	le.PutUint32(b[14:], h.CRC32)
	le.PutUint32(b[18:], h.Size)
	le.PutUint32(b[22:], h.Size)
	le.PutUint16(b[26:], uint16(len(h.Name)))
	le.PutUint16(b[28:], 0) // extra
	copy(b[LocalHeaderLen:], h.Name)
	return b, nil
}

// CentralHeader 是 46 字节中央目录记录（后接文件名）。
type CentralHeader struct {
	Flags       uint16
	CRC32       uint32
	Size        uint32
	Name        string
	LocalOffset uint32
}

// MarshalBinary 返回中央目录记录 + 文件名字节。
func (h CentralHeader) MarshalBinary() ([]byte, error) {
	if len(h.Name) > maxUint16 {
		return nil, errors.New("文件名过长")
	}
	b := make([]byte, CentralHeaderLen+len(h.Name))
	le := binary.LittleEndian
	le.PutUint32(b[0:], centralSig)
	le.PutUint16(b[4:], versionMadeBy)
	le.PutUint16(b[6:], versionNeeded)
	le.PutUint16(b[8:], h.Flags)
	le.PutUint16(b[10:], methodStore)
	le.PutUint16(b[12:], 0) // mod time
	le.PutUint16(b[14:], 0) // mod date
	le.PutUint32(b[16:], h.CRC32)
	le.PutUint32(b[20:], h.Size)
	le.PutUint32(b[24:], h.Size)
	le.PutUint16(b[28:], uint16(len(h.Name)))
	le.PutUint16(b[30:], 0) // extra
	le.PutUint16(b[32:], 0) // comment
	le.PutUint16(b[34:], 0) // disk number start
	le.PutUint16(b[36:], 0) // internal attrs
	le.PutUint32(b[38:], 0) // external attrs
	le.PutUint32(b[42:], h.LocalOffset)
	copy(b[CentralHeaderLen:], h.Name)
	return b, nil
}

// EndRecord 是 22 字节的中央目录结束记录（单卷、无注释）。
type EndRecord struct {
	Entries       uint16
	CentralSize   uint32
	CentralOffset uint32
}

func (r EndRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, EndRecordLen)
	le := binary.LittleEndian
	le.PutUint32(b[0:], endSig)
	le.PutUint16(b[4:], 0) // this disk
	le.PutUint16(b[6:], 0) // disk with central directory
	le.PutUint16(b[8:], r.Entries)
	le.PutUint16(b[10:], r.Entries)
	le.PutUint32(b[12:], r.CentralSize)
	le.PutUint32(b[16:], r.CentralOffset)
	le.PutUint16(b[20:], 0) // comment length
	return b, nil
}

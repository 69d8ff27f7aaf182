// Package codec 是元数据记录使用的 CBOR 编解码（RFC 8949 Core Deterministic Encoding）。
//
// 相同的逻辑数据总是编码为相同的字节：map 键排序、最短整数编码、无不定长项。
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	// time.Time 以 RFC 3339 文本编码，跨语言读取时无需处理 tag 1。
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal 以确定性编码序列化 v。
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal 反序列化 data 到 v；未知字段忽略。
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose 返回 RFC 8949 §8 诊断表示（调试/测试用）。
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

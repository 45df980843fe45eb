package storage

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// envelope 每条记录的包装 {data, timestamp, version}
type envelope struct {
	Data      []byte `msgpack:"data"`      // JSON 编码的业务数据
	Timestamp int64  `msgpack:"timestamp"` // 写入时间，unix 毫秒
	Version   int    `msgpack:"version"`
}

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// encodeEnvelope msgpack 编码后 lz4 压缩
func encodeEnvelope(env envelope) ([]byte, error) {
	raw, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	zw := lz4.NewWriter(buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress envelope: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decodeEnvelope(b []byte) (envelope, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if _, err := io.Copy(buf, lz4.NewReader(bytes.NewReader(b))); err != nil {
		return envelope{}, fmt.Errorf("decompress envelope: %w", err)
	}
	var env envelope
	if err := msgpack.Unmarshal(buf.Bytes(), &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

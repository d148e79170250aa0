package relay

import (
	"bufio"
	"bytes"
	"io"
)

// lineReader 按行读取上游响应体。超过缓冲区的行整行跳过，后面的行照常读取。
type lineReader struct {
	r        *bufio.Reader
	progress func() // 每次从上游读到数据后调用
}

func newLineReader(r io.Reader, size int, progress func()) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, size), progress: progress}
}

// Next 返回下一行，不含行尾的 \n 或 \r\n。
// oversized 为 true 时 line 只是该行开头一个缓冲区的拷贝，其余部分已被丢弃。
// 没有换行的最后一行和 io.EOF 一起返回。line 在下次调用前有效。
func (l *lineReader) Next() (line []byte, oversized bool, err error) {
	line, err = l.r.ReadSlice('\n')
	l.progress()
	if err == bufio.ErrBufferFull {
		head := append([]byte(nil), line...)
		for err == bufio.ErrBufferFull {
			_, err = l.r.ReadSlice('\n')
			l.progress()
		}
		return head, true, err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, false, err
}

// oversizedFrame 只看行首判断超长行：带 data: 前缀的按 malformed 丢弃，其余忽略
func oversizedFrame(head []byte) Frame {
	payload, ok := bytes.CutPrefix(head, framePrefix)
	if !ok {
		return Frame{Kind: FrameIgnored}
	}
	return Frame{Kind: FrameMalformed, Payload: payload}
}

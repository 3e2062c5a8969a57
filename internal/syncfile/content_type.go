package syncfile

import (
	"bytes"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// sniffSize is how much of a file is inspected to tell text from binary.
const sniffSize = 3072

// sniffBinary reads the head of r and reports whether the content looks binary.
// The returned reader replays the consumed bytes.
func sniffBinary(r io.Reader) (bool, io.Reader, error) {
	head := make([]byte, sniffSize)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, nil, err
	}
	head = head[:n]
	replay := io.MultiReader(bytes.NewReader(head), r)

	if n == 0 {
		return false, replay, nil
	}
	for mt := mimetype.Detect(head); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return false, replay, nil
		}
	}
	return true, replay, nil
}

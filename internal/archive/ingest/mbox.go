package ingest

import (
	"bytes"
	"io"

	"github.com/emersion/go-mbox"
	"github.com/pkg/errors"
)

// Splits an mbox stream into raw messages. The separator lines are
// dropped and messages holding nothing but whitespace are skipped.
func SplitMbox(r io.Reader) ([][]byte, error) {
	reader := mbox.NewReader(r)

	var messages [][]byte
	for {
		message, err := reader.NextMessage()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "could not read mbox")
		}

		raw, err := io.ReadAll(message)
		if err != nil {
			return nil, errors.Wrap(err, "could not read mbox message")
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			messages = append(messages, raw)
		}
	}

	return messages, nil
}

package worker

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"
)

// maxLoggedLine bounds how much of a malformed line ends up in the logs.
const maxLoggedLine = 256

// readResponses reads response frames from r and delivers them until r is exhausted.
// It returns nil when the worker closed its output, and the read error otherwise.
// The registry is left open; closing it is up to the caller.
func readResponses(r io.Reader, reg *registry, log *zap.SugaredLogger) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			handleLine(line, reg, log)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				log.Debug("worker output closed")
				return nil
			}
			return err
		}
	}
}

func handleLine(line []byte, reg *registry, log *zap.SugaredLogger) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	resp, err := decodeResponse(line)
	if err != nil {
		logged := line
		if len(logged) > maxLoggedLine {
			logged = logged[:maxLoggedLine]
		}
		log.Warnw("skipping malformed line from worker", "Error", err, "Line", string(logged))
		return
	}
	if !reg.deliver(resp.Seq, resp.Data) {
		log.Debugf("discarding response for unknown sequence %d", resp.Seq)
		return
	}
	log.Debugf("delivered response %d (%d bytes)", resp.Seq, len(resp.Data))
}

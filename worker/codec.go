package worker

import (
	"encoding/json"
	"fmt"
)

// encodeRequest encodes a request as a single line, without the trailing newline.
// JSON escapes control characters inside strings, so the result never contains a newline.
func encodeRequest(seq uint32, op, data string) ([]byte, error) {
	return json.Marshal(Request{Seq: seq, Op: op, Data: data})
}

func decodeResponse(line []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(line, &w); err != nil {
		return Response{}, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	if w.Seq == nil {
		return Response{}, fmt.Errorf("%w: missing seq", ErrMalformedFrame)
	}
	if w.Data == nil {
		return Response{}, fmt.Errorf("%w: missing data", ErrMalformedFrame)
	}
	return Response{Seq: *w.Seq, Data: *w.Data}, nil
}

func encodeResponse(seq uint32, data string) ([]byte, error) {
	return json.Marshal(Response{Seq: seq, Data: data})
}

func decodeRequest(line []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(line, &w); err != nil {
		return Request{}, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	switch {
	case w.Seq == nil:
		return Request{}, fmt.Errorf("%w: missing seq", ErrMalformedFrame)
	case w.Op == nil:
		return Request{}, fmt.Errorf("%w: missing op", ErrMalformedFrame)
	case w.Data == nil:
		return Request{}, fmt.Errorf("%w: missing data", ErrMalformedFrame)
	}
	return Request{Seq: *w.Seq, Op: *w.Op, Data: *w.Data}, nil
}

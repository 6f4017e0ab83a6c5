package worker

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResponsesSkipsMalformedLines(t *testing.T) {
	r := newRegistry()
	slot1, err := r.register(1)
	require.NoError(t, err)
	slot2, err := r.register(2)
	require.NoError(t, err)

	out := strings.Join([]string{
		`{"seq":2,"data":"second"}`,
		`{this is not json`,
		``,
		`{"seq":99,"data":"unknown"}`,
		`{"seq":1}`,
		`{"seq":1,"data":"first"}`,
	}, "\n")

	err = readResponses(strings.NewReader(out), r, log)
	require.NoError(t, err)

	assert.Equal(t, "first", <-slot1)
	assert.Equal(t, "second", <-slot2)
}

func TestReadResponsesFinalLineWithoutNewline(t *testing.T) {
	r := newRegistry()
	slot, err := r.register(1)
	require.NoError(t, err)

	err = readResponses(strings.NewReader(`{"seq":1,"data":"x"}`), r, log)
	require.NoError(t, err)
	assert.Equal(t, "x", <-slot)
}

func TestReadResponsesLongLine(t *testing.T) {
	r := newRegistry()
	slot, err := r.register(1)
	require.NoError(t, err)

	big := strings.Repeat("<p>lorem ipsum</p>", 50000)
	err = readResponses(strings.NewReader(`{"seq":1,"data":"`+big+`"}`+"\n"), r, log)
	require.NoError(t, err)
	assert.Equal(t, big, <-slot)
}

func TestReadResponsesDoesNotBlockOnAbsentCaller(t *testing.T) {
	r := newRegistry()
	_, err := r.register(1)
	require.NoError(t, err)

	// nobody reads the slot; duplicate responses must not block the loop
	out := `{"seq":1,"data":"a"}` + "\n" + `{"seq":1,"data":"b"}` + "\n"
	err = readResponses(strings.NewReader(out), r, log)
	require.NoError(t, err)
}

func TestReadResponsesReturnsReadErrors(t *testing.T) {
	pr, pw := io.Pipe()
	boom := errors.New("boom")
	go func() {
		pw.Write([]byte(`{"seq":1,"data":"x"}` + "\n"))
		pw.CloseWithError(boom)
	}()

	r := newRegistry()
	slot, err := r.register(1)
	require.NoError(t, err)

	err = readResponses(pr, r, log)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "x", <-slot)
}

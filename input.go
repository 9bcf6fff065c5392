package govqmt

import "fmt"

// InputResult is the outcome an input callback reports for one frame.
type InputResult int

// The values match the engine's input callback return codes.
const (
	InputOK    InputResult = 0
	InputEOF   InputResult = 1
	InputError InputResult = 2
)

func (r InputResult) String() string {
	switch r {
	case InputOK:
		return "ok"
	case InputEOF:
		return "eof"
	case InputError:
		return "error"
	}
	return fmt.Sprintf("InputResult(%d)", int(r))
}

// code returns the value handed back to the engine. Anything that is not one
// of the three outcomes is reported as an error.
func (r InputResult) code() int32 {
	switch r {
	case InputOK, InputEOF:
		return int32(r)
	}
	return int32(InputError)
}

// ChannelMask selects which channels of the destination buffer the engine
// wants filled. It is passed through to CopyImage unchanged.
type ChannelMask int32

// InputRequest is one request for pixel data of a file opened in callback
// mode. Data points to an engine-owned buffer that is only valid for the
// duration of the callback.
type InputRequest struct {
	Handle int
	File   string
	Frame  int
	Data   uintptr
	Mask   ChannelMask
}

// InputFunc supplies pixel data for files opened in callback mode. It returns
// InputOK after filling req.Data, InputEOF when the file has no frame
// req.Frame, or InputError. It runs synchronously on an engine decode thread.
type InputFunc func(req InputRequest) InputResult

package protocol

type Command string

const (
	AddJob     Command = "AddJob"
	GetJob     Command = "GetJob"
	GetReturn  Command = "GetReturn"
	SetReturn  Command = "SetReturn"
	Usr1       Command = "Usr1"
	Status     Command = "Status"
	StopServer Command = "StopServer"
)

// Status discriminators found in the first element of a reply. Anything other
// than StatusOK is an error code.
const (
	StatusOK = "1"

	CodeFailed       = "0"
	CodeNotFound     = "404"
	CodeBadArguments = "405"
	CodeTimeout      = "408"
	CodeSystem       = "-1"
)

// Request is a single command and its arguments, in the order they are sent.
type Request struct {
	Command Command
	args    [][]byte
}

func NewRequest(cmd Command, args ...[]byte) *Request {
	return &Request{Command: cmd, args: args}
}

// NewStringRequest is NewRequest for string arguments.
func NewStringRequest(cmd Command, args ...string) *Request {
	req := &Request{Command: cmd, args: make([][]byte, len(args))}
	for i, arg := range args {
		req.args[i] = []byte(arg)
	}

	return req
}

// Args returns the full argument list, command name first.
func (r *Request) Args() [][]byte {
	all := make([][]byte, 0, len(r.args)+1)
	all = append(all, []byte(r.Command))
	return append(all, r.args...)
}

func (r *Request) Bytes() []byte {
	return Encode(r.Args()...)
}

func (r *Request) String() string {
	return string(r.Command)
}

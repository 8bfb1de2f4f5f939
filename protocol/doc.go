// Package protocol implements framing for the taskq wire protocol, the
// request/response protocol spoken between task queue clients and the queue
// server over a persistent TCP connection.
//
// The framing borrows the shape of the Redis protocol (RESP) but it is NOT
// compatible with it: every delimiter is a single `\n`, and replies carry a
// status discriminator instead of type prefixes.
//
// # Frames
//
// Requests and replies share one shape, a count header followed by that many
// length-prefixed bulk values:
//
//	*<count>\n
//	$<len>\n<bytes>\n
//	...
//
// `<len>` counts bytes, not characters, so values may contain anything,
// including `\n`, `$` and `*`. The reader locates values by their length and
// never scans a value for a terminator.
//
// # Requests
//
// The first value is the command name, the rest its arguments:
//
//	> *3\n$6\nAddJob\n$4\njobs\n$7\npayload\n
//
// # Replies
//
// The first value is the status. `1` means success, anything else is an error
// code and the second value is a human readable message. On success the
// second value is unused and command results start at the third:
//
//	< *3\n$1\n1\n$2\nok\n$2\nk1\n
//	< *2\n$3\n408\n$7\ntimeout\n
//
// # Commands
//
//   - AddJob <queue> <payload>: queue a job, replies with its handle
//   - GetJob <queue>: take a job, replies with handle and payload
//   - GetReturn <handle> <ms>: wait up to <ms> for a job's result
//   - SetReturn <handle> <result>: report a job's result
//   - Usr1 <queue>: returns once the queue has data
//   - Status: server liveness
//   - StopServer: ask the server to shut down
//
// Requests are strictly one at a time per connection; a client must read a
// whole reply before sending its next request.
package protocol

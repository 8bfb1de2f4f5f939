package protocol

// Reply is a decoded frame. In a server reply the first element is the status
// discriminator: StatusOK on success, otherwise an error code with the
// message in the second element. On success the second element is unused and
// results start at index 2.
type Reply [][]byte

// OK reports whether the reply carries the success status.
func (r Reply) OK() bool {
	return len(r) > 0 && string(r[0]) == StatusOK
}

// Code returns the status element, or "" for an empty reply.
func (r Reply) Code() string {
	if len(r) == 0 {
		return ""
	}

	return string(r[0])
}

func (r Reply) Message() string {
	if len(r) < 2 {
		return ""
	}

	return string(r[1])
}

// Values returns the result values of a successful reply.
func (r Reply) Values() [][]byte {
	if len(r) <= 2 {
		return nil
	}

	return r[2:]
}

// Strings returns every element as a string.
func (r Reply) Strings() []string {
	ss := make([]string, len(r))
	for i, b := range r {
		ss[i] = string(b)
	}

	return ss
}

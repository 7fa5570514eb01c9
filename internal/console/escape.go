package console

// EscapeKey is Ctrl+A.  It is never forwarded on its own: Ctrl+A then
// 'x' detaches, Ctrl+A twice sends one literal Ctrl+A, and Ctrl+A
// followed by anything else sends only the second key.
const EscapeKey = 0x01

// escaper filters keyboard input for the escape sequence.  Its state
// carries across reads so a sequence split between two reads is still
// recognised.
type escaper struct {
	armed bool
}

// feed returns the bytes to forward from p and whether the user asked
// to detach.  Bytes after the detach sequence are discarded.
func (e *escaper) feed(p []byte) (out []byte, detach bool) {
	out = make([]byte, 0, len(p))
	for _, b := range p {
		if e.armed {
			e.armed = false
			switch b {
			case 'x', 'X':
				return out, true
			default:
				out = append(out, b)
			}
			continue
		}
		if b == EscapeKey {
			e.armed = true
			continue
		}
		out = append(out, b)
	}
	return out, false
}

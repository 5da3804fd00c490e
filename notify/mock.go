package notify

import (
	"bytes"
	"context"
	"sync"
)

// Mock renders messages into a string slice in memory. It implements Sender
// interface. Useful mostly for testing.
type Mock struct {
	sync.Mutex
	buf *[]string
}

// NewMock initialized Mock for given string slice buffor.
func NewMock(buffor *[]string) *Mock {
	return &Mock{buf: buffor}
}

// Send renders the message onto internal Mock buffor.
func (m *Mock) Send(_ context.Context, tmpl Template, data MsgData) error {
	var msgBuff bytes.Buffer
	if err := tmpl.Execute(&msgBuff, data); err != nil {
		return err
	}
	m.Lock()
	*m.buf = append(*m.buf, msgBuff.String())
	m.Unlock()
	return nil
}

// Messages returns a copy of sent messages.
func (m *Mock) Messages() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(*m.buf))
	copy(out, *m.buf)
	return out
}

package ptycore

import (
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPtycore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ptycore Suite")
}

// fakeClient is a minimal ptycore.Client for exercising resize arbitration
// and fan-out without a real WebSocket.
type fakeClient struct {
	rows, cols int
	reported   bool
	delivered  [][]byte
	died       bool
}

func (f *fakeClient) ReportedSize() (int, int, bool) { return f.rows, f.cols, f.reported }
func (f *fakeClient) Deliver(chunk []byte) error {
	f.delivered = append(f.delivered, append([]byte(nil), chunk...))
	return nil
}
func (f *fakeClient) NotifyPTYDied() { f.died = true }

// pipeService fakes PTYService.Open by handing back one end of an os.Pipe
// as the "master" fd (matching the teacher's SimulatedPTYService pattern in
// terminal/session_test.go) and spawning a real, short-lived child process
// so Kill/Terminate have a genuine pid to operate on.
type pipeService struct {
	master *os.File
}

func (p *pipeService) Open(command []string, env []string, dir string) (*os.File, *os.Process, error) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return p.master, cmd.Process, nil
}

func (p *pipeService) Setsize(f *os.File, rows, cols int) error { return nil }

var _ = Describe("replayBuffer", func() {
	It("drops the oldest chunk once the 10-chunk cap is exceeded", func() {
		buf := newReplayBuffer()
		for i := 0; i < 11; i++ {
			buf.append([]byte{byte('a' + i)})
		}
		got := buf.drain()
		Expect(string(got)).To(Equal("bcdefghijk"))
	})

	It("concatenates buffered chunks in order", func() {
		buf := newReplayBuffer()
		buf.append([]byte("hello "))
		buf.append([]byte("world"))
		Expect(string(buf.drain())).To(Equal("hello world"))
	})

	It("is empty for a freshly constructed buffer", func() {
		buf := newReplayBuffer()
		Expect(buf.drain()).To(BeNil())
	})
})

var _ = Describe("Session.ResizeToSmallest", func() {
	var sess *Session

	newTestSession := func() *Session {
		r, w, err := os.Pipe()
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { r.Close(); w.Close() })

		s, err := Spawn(SpawnOptions{
			Command: []string{"sleep", "30"},
			Service: &pipeService{master: r},
		})
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { s.Close() })
		return s
	}

	BeforeEach(func() {
		sess = newTestSession()
	})

	It("is a no-op when no client has reported a size", func() {
		c := &fakeClient{}
		Expect(sess.AddClient(c)).To(Succeed())
		Expect(sess.ResizeToSmallest()).To(Succeed())
		Expect(sess.haveAppliedSize).To(BeFalse())
	})

	It("sets the size to the single reporting client's dimensions", func() {
		c := &fakeClient{rows: 24, cols: 80, reported: true}
		Expect(sess.AddClient(c)).To(Succeed())
		Expect(sess.ResizeToSmallest()).To(Succeed())
		Expect(sess.lastRows).To(Equal(24))
		Expect(sess.lastCols).To(Equal(80))
	})

	It("shrinks to the component-wise minimum across clients", func() {
		a := &fakeClient{rows: 24, cols: 80, reported: true}
		b := &fakeClient{rows: 10, cols: 40, reported: true}
		Expect(sess.AddClient(a)).To(Succeed())
		Expect(sess.AddClient(b)).To(Succeed())
		Expect(sess.ResizeToSmallest()).To(Succeed())
		Expect(sess.lastRows).To(Equal(10))
		Expect(sess.lastCols).To(Equal(40))
	})

	It("grows back after the smaller client detaches", func() {
		a := &fakeClient{rows: 24, cols: 80, reported: true}
		b := &fakeClient{rows: 10, cols: 40, reported: true}
		Expect(sess.AddClient(a)).To(Succeed())
		Expect(sess.AddClient(b)).To(Succeed())
		Expect(sess.ResizeToSmallest()).To(Succeed())

		sess.RemoveClient(b)
		Expect(sess.ResizeToSmallest()).To(Succeed())
		Expect(sess.lastRows).To(Equal(24))
		Expect(sess.lastCols).To(Equal(80))
	})

	It("ignores clients that have not reported", func() {
		a := &fakeClient{rows: 24, cols: 80, reported: true}
		b := &fakeClient{} // unreported
		Expect(sess.AddClient(a)).To(Succeed())
		Expect(sess.AddClient(b)).To(Succeed())
		Expect(sess.ResizeToSmallest()).To(Succeed())
		Expect(sess.lastRows).To(Equal(24))
		Expect(sess.lastCols).To(Equal(80))
	})
})

var _ = Describe("Session client attachment", func() {
	It("preserves insertion order and supports detach", func() {
		r, w, err := os.Pipe()
		Expect(err).ToNot(HaveOccurred())
		defer r.Close()
		defer w.Close()

		sess, err := Spawn(SpawnOptions{Command: []string{"sleep", "30"}, Service: &pipeService{master: r}})
		Expect(err).ToNot(HaveOccurred())
		defer sess.Close()

		a, b, c := &fakeClient{}, &fakeClient{}, &fakeClient{}
		Expect(sess.AddClient(a)).To(Succeed())
		Expect(sess.AddClient(b)).To(Succeed())
		Expect(sess.AddClient(c)).To(Succeed())

		got := sess.Clients()
		Expect(got).To(Equal([]Client{a, b, c}))

		sess.RemoveClient(b)
		Expect(sess.Clients()).To(Equal([]Client{a, c}))
	})

	It("rejects attachment once the session is closed", func() {
		r, w, err := os.Pipe()
		Expect(err).ToNot(HaveOccurred())
		defer r.Close()
		defer w.Close()

		sess, err := Spawn(SpawnOptions{Command: []string{"sleep", "30"}, Service: &pipeService{master: r}})
		Expect(err).ToNot(HaveOccurred())
		Expect(sess.Close()).To(Succeed())

		err = sess.AddClient(&fakeClient{})
		Expect(err).To(MatchError(ErrClosed))
	})
})

var _ = Describe("Session.Write", func() {
	It("splits data larger than 4096 bytes into multiple chunked writes", func() {
		r, w, err := os.Pipe()
		Expect(err).ToNot(HaveOccurred())
		defer r.Close()

		sess, err := Spawn(SpawnOptions{Command: []string{"sleep", "30"}, Service: &pipeService{master: w}})
		Expect(err).ToNot(HaveOccurred())
		defer sess.Close()

		payload := make([]byte, 9000)
		for i := range payload {
			payload[i] = byte(i % 256)
		}

		go func() {
			_, _ = sess.Write(payload)
		}()

		got := make([]byte, 0, len(payload))
		buf := make([]byte, 4096)
		for len(got) < len(payload) {
			n, err := r.Read(buf)
			Expect(err).ToNot(HaveOccurred())
			got = append(got, buf[:n]...)
		}
		Expect(got).To(Equal(payload))
	})
})

var _ = Describe("Session.ReadNonblocking", func() {
	It("returns io.EOF once the writer end is closed", func() {
		r, w, err := os.Pipe()
		Expect(err).ToNot(HaveOccurred())

		sess, err := Spawn(SpawnOptions{Command: []string{"sleep", "30"}, Service: &pipeService{master: r}})
		Expect(err).ToNot(HaveOccurred())
		defer sess.Close()

		Expect(w.Close()).To(Succeed())

		_, err = sess.ReadNonblocking()
		Expect(err).To(Equal(io.EOF))
	})

	It("returns the bytes written by the child", func() {
		r, w, err := os.Pipe()
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		sess, err := Spawn(SpawnOptions{Command: []string{"sleep", "30"}, Service: &pipeService{master: r}})
		Expect(err).ToNot(HaveOccurred())
		defer sess.Close()

		_, err = w.Write([]byte("hello\n"))
		Expect(err).ToNot(HaveOccurred())

		chunk, err := sess.ReadNonblocking()
		Expect(err).ToNot(HaveOccurred())
		Expect(string(chunk)).To(Equal("hello\n"))
	})
})

var _ = Describe("Session.Terminate", func() {
	It("confirms the child dead once the escalation ladder stops it (sleep exits on the first HUP)", func() {
		r, w, err := os.Pipe()
		Expect(err).ToNot(HaveOccurred())
		defer r.Close()
		defer w.Close()

		sess, err := Spawn(SpawnOptions{Command: []string{"sleep", "30"}, Service: &pipeService{master: r}})
		Expect(err).ToNot(HaveOccurred())
		defer sess.Close()
		sess.afterTerminate = time.Millisecond

		dead := sess.Terminate(true)
		Expect(dead).To(BeTrue())
	})
})

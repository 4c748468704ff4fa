package faktory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
)

// mockServer is a minimal in-memory Faktory server speaking just enough of
// the wire protocol (HI/HELLO, FETCH/PUSH/PUSHB/ACK/FAIL/BEAT/INFO/FLUSH/
// MUTATE) to exercise Client and Worker end to end without a real server.
type mockServer struct {
	ln net.Listener

	mu        sync.Mutex
	jobs      map[string][]*JobPayload
	acked     []string
	failed    []map[string]interface{}
	events    []string
	beatState string // "", "quiet", or "terminate"
}

func startMockServer(t *testing.T) (*mockServer, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := &mockServer{ln: ln, jobs: make(map[string][]*JobPayload)}
	go m.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return m, "tcp://" + ln.Addr().String()
}

func (m *mockServer) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		go m.handleConn(conn)
	}
}

func (m *mockServer) handleConn(conn net.Conn) {
	defer conn.Close()
	fmt.Fprint(conn, "+HI {\"v\":2}\r\n")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		parts := strings.SplitN(line, " ", 2)
		cmd := parts[0]
		var arg string
		if len(parts) > 1 {
			arg = parts[1]
		}

		switch cmd {
		case "HELLO":
			fmt.Fprint(conn, "+OK\r\n")
		case "FETCH":
			m.recordEvent("FETCH")
			job := m.popJob(strings.Fields(arg))
			if job == nil {
				fmt.Fprint(conn, "$-1\r\n")
				continue
			}
			b, _ := json.Marshal(job)
			fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(b), b)
		case "PUSH":
			var job JobPayload
			json.Unmarshal([]byte(arg), &job)
			m.pushJob(&job)
			fmt.Fprint(conn, "+OK\r\n")
		case "PUSHB":
			var jobs []*JobPayload
			json.Unmarshal([]byte(arg), &jobs)
			for _, j := range jobs {
				m.pushJob(j)
			}
			fmt.Fprint(conn, "+OK\r\n")
		case "ACK":
			m.recordAck(arg)
			fmt.Fprint(conn, "+OK\r\n")
		case "FAIL":
			m.recordEvent("FAIL")
			m.recordFail(arg)
			fmt.Fprint(conn, "+OK\r\n")
		case "BEAT":
			m.mu.Lock()
			state := m.beatState
			m.mu.Unlock()
			if state == "" {
				fmt.Fprint(conn, "+OK\r\n")
			} else {
				b, _ := json.Marshal(map[string]string{"state": state})
				fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(b), b)
			}
		case "INFO":
			fmt.Fprint(conn, "$2\r\n{}\r\n")
		case "FLUSH":
			fmt.Fprint(conn, "+OK\r\n")
		case "MUTATE":
			fmt.Fprint(conn, "+OK\r\n")
		case "END":
			return
		default:
			fmt.Fprintf(conn, "-ERR unknown command %s\r\n", cmd)
		}
	}
}

func (m *mockServer) pushJob(j *JobPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := j.Queue
	if q == "" {
		q = DefaultQueue
	}
	m.jobs[q] = append(m.jobs[q], j)
}

func (m *mockServer) popJob(queues []string) *JobPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range queues {
		if len(m.jobs[q]) > 0 {
			j := m.jobs[q][0]
			m.jobs[q] = m.jobs[q][1:]
			return j
		}
	}
	return nil
}

func (m *mockServer) recordAck(arg string) {
	var body struct {
		Jid string `json:"jid"`
	}
	json.Unmarshal([]byte(arg), &body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, body.Jid)
}

func (m *mockServer) recordFail(arg string) {
	var body map[string]interface{}
	json.Unmarshal([]byte(arg), &body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, body)
}

func (m *mockServer) recordEvent(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, name)
}

func (m *mockServer) setBeatState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beatState = state
}

func (m *mockServer) ackedJids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.acked))
	copy(out, m.acked)
	return out
}

func (m *mockServer) failedBodies() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.failed))
	copy(out, m.failed)
	return out
}

func (m *mockServer) eventLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

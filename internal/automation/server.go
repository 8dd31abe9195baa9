package automation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"supervibing/internal/apperr"
	"supervibing/internal/workspace"
)

const (
	headerReadTimeout = 1500 * time.Millisecond
	maxRequestBytes   = 64 * 1024
)

// Server is the automation bridge's HTTP listener: a single-threaded accept
// loop on loopback, handling each connection inline rather than spawning a
// goroutine per request, favoring explicit, bounded concurrency in this hot
// path.
type Server struct {
	listener net.Listener
	bind     string
	token    string

	store      *Store
	queue      *Queue
	workspaces *workspace.Registry

	closeOnce sync.Once
}

// NewServer binds the loopback listener, falling back across a port range
// when the preferred port is taken, and returns a Server ready to Serve.
// host/port come from parsing the SUPERVIBING_AUTOMATION_BIND env var (see
// bind.go); token is the optional bearer token from
// SUPERVIBING_AUTOMATION_TOKEN.
func NewServer(bindAddr, token string, store *Store, queue *Queue, workspaces *workspace.Registry) (*Server, error) {
	host, port, err := parseBind(bindAddr)
	if err != nil {
		return nil, err
	}
	ln, addr, err := listenLoopback(host, port)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener:   ln,
		bind:       addr,
		token:      strings.TrimSpace(token),
		store:      store,
		queue:      queue,
		workspaces: workspaces,
	}, nil
}

// Bind returns the address the server actually bound to, which may differ
// from the preferred bind if a fallback port was used.
func (s *Server) Bind() string { return s.bind }

// Serve runs the single-threaded accept loop until ctx is done or the
// listener is closed. Each accepted connection is handled inline before the
// loop accepts the next one.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("[automation] accept failed", "error", err)
			return
		}
		s.handleConn(conn)
	}
}

// Close closes the listener, unblocking Accept in Serve. Idempotent.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		_ = s.listener.Close()
	})
}

// parsedRequest is the minimal HTTP/1.1 request shape this listener
// understands: a request line, CRLF-separated headers (names treated
// case-insensitively), a blank line, and an optional body sized by
// Content-Length.
type parsedRequest struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func (r parsedRequest) header(name string) string {
	return r.headers[strings.ToLower(name)]
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(headerReadTimeout)); err != nil {
		slog.Debug("[automation] set read deadline failed", "error", err)
		return
	}

	reader := bufio.NewReaderSize(conn, 4096)
	req, err := parseRequest(reader)
	if err != nil {
		if errors.Is(err, errRequestTooLarge) {
			writeStatus(conn, 413, nil)
		} else {
			writeStatus(conn, 400, nil)
		}
		return
	}

	if !s.authorize(req) {
		writeStatus(conn, 401, nil)
		return
	}

	status, payload := s.route(req)
	writeStatus(conn, status, payload)
}

// errRequestTooLarge signals that headers+body exceeded maxRequestBytes.
var errRequestTooLarge = errors.New("automation: request exceeds size limit")

// parseRequest reads and parses one HTTP/1.1 request from reader, enforcing
// the combined header+body size cap.
func parseRequest(reader *bufio.Reader) (parsedRequest, error) {
	var total int

	requestLine, err := readLimitedLine(reader, &total)
	if err != nil {
		return parsedRequest{}, err
	}
	parts := strings.SplitN(strings.TrimRight(requestLine, "\r\n"), " ", 3)
	if len(parts) != 3 {
		return parsedRequest{}, fmt.Errorf("automation: malformed request line")
	}
	method, rawPath := parts[0], parts[1]

	parsedURL, err := url.Parse(rawPath)
	if err != nil {
		return parsedRequest{}, fmt.Errorf("automation: malformed request path: %w", err)
	}

	headers := make(map[string]string)
	for {
		line, err := readLimitedLine(reader, &total)
		if err != nil {
			return parsedRequest{}, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		name, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	var body []byte
	if cl := headers["content-length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return parsedRequest{}, fmt.Errorf("automation: invalid content-length")
		}
		if total+n > maxRequestBytes {
			return parsedRequest{}, errRequestTooLarge
		}
		body = make([]byte, n)
		if _, err := io.ReadFull(reader, body); err != nil {
			return parsedRequest{}, fmt.Errorf("automation: short body read: %w", err)
		}
		total += n
	}

	return parsedRequest{method: method, path: parsedURL.Path, headers: headers, body: body}, nil
}

// readLimitedLine reads one CRLF- or LF-terminated line, tracking the
// cumulative byte count in total and failing once it exceeds
// maxRequestBytes.
func readLimitedLine(reader *bufio.Reader, total *int) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			// Fall through: treat a final unterminated line as-is.
		} else {
			return "", fmt.Errorf("automation: read request: %w", err)
		}
	}
	*total += len(line)
	if *total > maxRequestBytes {
		return "", errRequestTooLarge
	}
	return line, nil
}

// authorize enforces the optional bearer-token policy. If no token is
// configured, every request is authorized.
func (s *Server) authorize(req parsedRequest) bool {
	if s.token == "" {
		return true
	}
	auth := strings.TrimSpace(req.header("authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	return presented == s.token
}

func (s *Server) route(req parsedRequest) (int, []byte) {
	switch {
	case req.method == "GET" && req.path == "/v1/health":
		return s.handleHealth()
	case req.method == "GET" && req.path == "/v1/workspaces":
		return s.handleWorkspaces()
	case req.method == "POST" && req.path == "/v1/commands":
		return s.handleCommands(req)
	case req.method == "GET" && strings.HasPrefix(req.path, "/v1/jobs/"):
		return s.handleGetJob(strings.TrimPrefix(req.path, "/v1/jobs/"))
	default:
		return 404, nil
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	Bind       string `json:"bind"`
	QueuedJobs int64  `json:"queuedJobs"`
}

func (s *Server) handleHealth() (int, []byte) {
	payload, _ := json.Marshal(healthResponse{Status: "ok", Bind: s.bind, QueuedJobs: s.queue.Depth()})
	return 200, payload
}

type workspacesResponse struct {
	Workspaces []workspace.Snapshot `json:"workspaces"`
}

func (s *Server) handleWorkspaces() (int, []byte) {
	payload, _ := json.Marshal(workspacesResponse{Workspaces: s.workspaces.List()})
	return 200, payload
}

type commandAcceptedResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (s *Server) handleCommands(req parsedRequest) (int, []byte) {
	cmdReq, err := DecodeRequest(req.body)
	if err != nil {
		return statusForError(err), errorBody(err)
	}

	if _, err := validateRequest(cmdReq, s.workspaces, s.queue); err != nil {
		return statusForError(err), errorBody(err)
	}

	jobID := uuid.NewString()
	if _, ok := s.store.Insert(jobID, cmdReq); !ok {
		return 500, errorBody(apperr.New(apperr.KindSystem, "job id collision"))
	}
	if !s.queue.Enqueue(jobID) {
		s.store.Remove(jobID)
		return 500, errorBody(apperr.New(apperr.KindSystem, "failed to enqueue job"))
	}

	payload, _ := json.Marshal(commandAcceptedResponse{JobID: jobID, Status: string(StatusQueued)})
	return 202, payload
}

func (s *Server) handleGetJob(id string) (int, []byte) {
	job, ok := s.store.Get(id)
	if !ok {
		return 404, nil
	}
	payload, _ := json.Marshal(job)
	return 200, payload
}

// statusForError maps a domain error to an HTTP status code.
// errQueueFull is special-cased to 429 ahead of the general Conflict ->
// 409 mapping (see errors.go for why queue-full is not just another
// Conflict).
func statusForError(err error) int {
	if errors.Is(err, errQueueFull) {
		return 429
	}
	kind, ok := apperr.KindOf(err)
	if !ok {
		return 400
	}
	switch kind {
	case apperr.KindValidation:
		return 400
	case apperr.KindConflict:
		return 409
	case apperr.KindNotFound:
		return 404
	default:
		return 500
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorBody(err error) []byte {
	payload, _ := json.Marshal(errorResponse{Error: err.Error()})
	return payload
}

// statusText is the fixed status-line text mapping this listener uses.
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 202:
		return "Accepted"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 404:
		return "Not Found"
	case 409:
		return "Conflict"
	case 413:
		return "Payload Too Large"
	case 429:
		return "Too Many Requests"
	default:
		return "Internal Server Error"
	}
}

func writeStatus(conn net.Conn, code int, body []byte) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", code, statusText(code))
	buf.WriteString("Content-Type: application/json\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	buf.WriteString("Connection: close\r\n\r\n")
	buf.Write(body)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		slog.Debug("[automation] write response failed", "error", err)
	}
}

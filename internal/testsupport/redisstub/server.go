// Package redisstub runs a minimal in-process Redis server implementing the
// stream and counter commands the transcode queue and the upload rate limiter
// depend on. Tests dial it with a real client instead of requiring a broker.
package redisstub

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password  string
	EnableTLS bool
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	streams  map[string]*stream
	counters map[string]*counter
	seq      int64
	closed   chan struct{}
	certPEM  []byte
	keyPEM   []byte
}

type stream struct {
	entries []entry
	groups  map[string]*group
}

type entry struct {
	id     string
	values map[string]string
}

type group struct {
	nextIndex int
	pending   map[string]struct{}
}

type counter struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:     opts,
		streams:  make(map[string]*stream),
		counters: make(map[string]*counter),
		closed:   make(chan struct{}),
	}
	var ln net.Listener
	var err error
	if opts.EnableTLS {
		certPEM, keyPEM, cert, certErr := selfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		server.certPEM = certPEM
		server.keyPEM = keyPEM
		ln, err = tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) CertPEM() []byte {
	return s.certPEM
}

func (s *Server) KeyPEM() []byte {
	return s.keyPEM
}

// StreamLen reports how many entries a stream holds, for test assertions.
func (s *Server) StreamLen(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm, ok := s.streams[name]
	if !ok {
		return 0
	}
	return len(strm.entries)
}

// PendingLen reports how many delivered-but-unacked entries a group holds.
func (s *Server) PendingLen(streamName, groupName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm, ok := s.streams[streamName]
	if !ok {
		return 0
	}
	grp, ok := strm.groups[groupName]
	if !ok {
		return 0
	}
	return len(grp.pending)
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR empty command") != nil {
				return
			}
			continue
		}
		var replyErr error
		switch strings.ToUpper(args[0]) {
		case "PING":
			replyErr = writeSimpleString(writer, "PONG")
		case "AUTH":
			authenticated, replyErr = s.handleAuth(writer, args)
		case "HELLO":
			// Clients fall back to RESP2 when HELLO is rejected.
			replyErr = writeError(writer, "ERR unknown command 'hello'")
		case "CLIENT", "SELECT":
			replyErr = writeSimpleString(writer, "OK")
		default:
			if !authenticated {
				replyErr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			replyErr = s.dispatch(writer, args)
		}
		if replyErr != nil {
			return
		}
	}
}

func (s *Server) handleAuth(writer *bufio.Writer, args []string) (bool, error) {
	password := ""
	switch len(args) {
	case 2:
		password = args[1]
	case 3:
		password = args[2]
	default:
		return false, writeError(writer, "ERR wrong number of arguments for 'auth'")
	}
	if s.opts.Password == "" || password == s.opts.Password {
		return true, writeSimpleString(writer, "OK")
	}
	return false, writeError(writer, "WRONGPASS invalid username-password pair")
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) error {
	switch strings.ToUpper(args[0]) {
	case "XADD":
		return s.handleXAdd(writer, args)
	case "XGROUP":
		return s.handleXGroup(writer, args)
	case "XREADGROUP":
		return s.handleXReadGroup(writer, args)
	case "XACK":
		return s.handleXAck(writer, args)
	case "INCR":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'incr'")
		}
		return writeInteger(writer, s.incr(args[1]))
	case "EXPIRE":
		if len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments for 'expire'")
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return writeError(writer, "ERR value is not an integer or out of range")
		}
		s.expire(args[1], time.Duration(seconds)*time.Second)
		return writeInteger(writer, 1)
	case "TTL":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'ttl'")
		}
		return writeInteger(writer, s.ttl(args[1]))
	default:
		return writeError(writer, fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(args[0])))
	}
}

func (s *Server) handleXAdd(writer *bufio.Writer, args []string) error {
	if len(args) < 5 || len(args)%2 == 0 {
		return writeError(writer, "ERR wrong number of arguments for 'xadd'")
	}
	id := args[2]
	values := make(map[string]string)
	for i := 3; i+1 < len(args); i += 2 {
		values[args[i]] = args[i+1]
	}
	s.mu.Lock()
	if id == "*" {
		s.seq++
		id = fmt.Sprintf("%d-%d", time.Now().UnixMilli(), s.seq)
	}
	strm := s.ensureStream(args[1])
	strm.entries = append(strm.entries, entry{id: id, values: values})
	s.mu.Unlock()
	return writeBulkString(writer, id)
}

func (s *Server) handleXGroup(writer *bufio.Writer, args []string) error {
	if len(args) < 5 || !strings.EqualFold(args[1], "CREATE") {
		return writeError(writer, "ERR unsupported XGROUP subcommand")
	}
	streamName, groupName, start := args[2], args[3], args[4]
	s.mu.Lock()
	strm := s.ensureStream(streamName)
	if _, exists := strm.groups[groupName]; exists {
		s.mu.Unlock()
		return writeError(writer, "BUSYGROUP Consumer Group name already exists")
	}
	grp := &group{pending: make(map[string]struct{})}
	if start == "$" {
		grp.nextIndex = len(strm.entries)
	}
	strm.groups[groupName] = grp
	s.mu.Unlock()
	return writeSimpleString(writer, "OK")
}

func (s *Server) handleXReadGroup(writer *bufio.Writer, args []string) error {
	var groupName, streamName string
	count := 1
	blockMs := 0
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if i+2 >= len(args) {
				return writeError(writer, "ERR syntax error")
			}
			groupName = args[i+1]
			i += 2
		case "COUNT":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error")
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(writer, "ERR value is not an integer or out of range")
			}
			count = v
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return writeError(writer, "ERR timeout is not an integer or out of range")
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(writer, "ERR timeout is not an integer or out of range")
			}
			blockMs = v
			i++
		case "STREAMS":
			if i+2 >= len(args) {
				return writeError(writer, "ERR syntax error")
			}
			streamName = args[i+1]
			i = len(args)
		}
	}
	if streamName == "" || groupName == "" {
		return writeError(writer, "ERR syntax error")
	}
	deadline := time.Now().Add(time.Duration(blockMs) * time.Millisecond)
	for {
		records := s.readGroup(streamName, groupName, count)
		if len(records) > 0 {
			return writeArray(writer, []interface{}{
				[]interface{}{streamName, records},
			})
		}
		if blockMs <= 0 || time.Now().After(deadline) {
			return writeBulkNil(writer)
		}
		select {
		case <-s.closed:
			return writeBulkNil(writer)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *Server) handleXAck(writer *bufio.Writer, args []string) error {
	if len(args) < 4 {
		return writeError(writer, "ERR wrong number of arguments for 'xack'")
	}
	s.mu.Lock()
	acked := 0
	if strm, ok := s.streams[args[1]]; ok {
		if grp, ok := strm.groups[args[2]]; ok {
			for _, id := range args[3:] {
				if _, pending := grp.pending[id]; pending {
					delete(grp.pending, id)
					acked++
				}
			}
		}
	}
	s.mu.Unlock()
	return writeInteger(writer, int64(acked))
}

func (s *Server) ensureStream(name string) *stream {
	strm, ok := s.streams[name]
	if !ok {
		strm = &stream{groups: make(map[string]*group)}
		s.streams[name] = strm
	}
	return strm
}

func (s *Server) readGroup(streamName, groupName string, count int) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm := s.ensureStream(streamName)
	grp, ok := strm.groups[groupName]
	if !ok {
		grp = &group{pending: make(map[string]struct{})}
		strm.groups[groupName] = grp
	}
	start := grp.nextIndex
	if start >= len(strm.entries) {
		return nil
	}
	end := start + count
	if end > len(strm.entries) {
		end = len(strm.entries)
	}
	records := make([]interface{}, 0, end-start)
	for i := start; i < end; i++ {
		e := strm.entries[i]
		grp.pending[e.id] = struct{}{}
		fields := make([]interface{}, 0, len(e.values)*2)
		for k, v := range e.values {
			fields = append(fields, k, v)
		}
		records = append(records, []interface{}{e.id, fields})
	}
	grp.nextIndex = end
	return records
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[key]
	if c == nil || (!c.expiry.IsZero() && time.Now().After(c.expiry)) {
		c = &counter{}
		s.counters[key] = c
	}
	c.value++
	return c.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[key]
	if c == nil {
		c = &counter{}
		s.counters[key] = c
	}
	c.expiry = time.Now().Add(ttl)
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[key]
	if c == nil || c.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(c.expiry)
	if remaining <= 0 {
		delete(s.counters, key)
		return -2
	}
	seconds := int64(remaining / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func selfSignedCert() ([]byte, []byte, tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	return certPEM, keyPEM, cert, nil
}

func readCommand(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if err := writeArrayRaw(w, values); err != nil {
		return err
	}
	return w.Flush()
}

func writeArrayRaw(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		switch v := value.(type) {
		case string:
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v); err != nil {
				return err
			}
		case int64:
			if _, err := fmt.Fprintf(w, ":%d\r\n", v); err != nil {
				return err
			}
		case []interface{}:
			if err := writeArrayRaw(w, v); err != nil {
				return err
			}
		default:
			formatted := fmt.Sprint(v)
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(formatted), formatted); err != nil {
				return err
			}
		}
	}
	return nil
}

package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(method string, params json.RawMessage) (any, *rpcError)

// fakeServer speaks the wire protocol over an in-memory pipe.
type fakeServer struct {
	mu      sync.Mutex
	methods []string
	params  map[string]json.RawMessage
}

func (f *fakeServer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeServer) paramsOf(method string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[method]
}

func writeFrame(t *testing.T, w io.Writer, m *message) {
	t.Helper()
	m.JSONRPC = "2.0"
	body, err := json.Marshal(m)
	require.NoError(t, err)
	_, err = fmt.Fprintf(w, "Content-Length: %d\r\n\r\n%s", len(body), body)
	require.NoError(t, err)
}

func newFakeServer(t *testing.T, handle handlerFunc) (*fakeServer, Transport) {
	t.Helper()
	f := &fakeServer{params: make(map[string]json.RawMessage)}
	transport := func(context.Context) (io.ReadWriteCloser, error) {
		clientEnd, serverEnd := net.Pipe()
		go func() {
			defer serverEnd.Close()
			r := bufio.NewReader(serverEnd)
			for {
				m, err := readMessage(r)
				if err != nil {
					return
				}
				f.mu.Lock()
				f.methods = append(f.methods, m.Method)
				f.params[m.Method] = m.Params
				f.mu.Unlock()
				if m.ID == nil {
					continue
				}
				var result any
				var rpcErr *rpcError
				if handle != nil {
					result, rpcErr = handle(m.Method, m.Params)
				}
				resp := &message{ID: m.ID, Error: rpcErr}
				if rpcErr == nil {
					b, _ := json.Marshal(result)
					resp.Result = b
				}
				body, _ := json.Marshal(resp)
				if _, err := fmt.Fprintf(serverEnd, "Content-Length: %d\r\n\r\n%s", len(body), body); err != nil {
					return
				}
			}
		}()
		return clientEnd, nil
	}
	return f, transport
}

func writeSource(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func rng(line, char int) Range {
	return Range{Start: Position{Line: line, Character: char}, End: Position{Line: line, Character: char + 3}}
}

func TestClient_FindDefinition_LocationLinks(t *testing.T) {
	// Given: a server that answers definition with location links
	root := t.TempDir()
	writeSource(t, root, "src/lib.rs", "fn a() { b() }\nfn b() {}\n")
	target := pathToURI(filepath.Join(root, "src/lib.rs"))
	srv, transport := newFakeServer(t, func(method string, _ json.RawMessage) (any, *rpcError) {
		if method == "textDocument/definition" {
			return []map[string]any{{"targetUri": target, "targetSelectionRange": rng(1, 3)}}, nil
		}
		return map[string]any{}, nil
	})
	c := NewClientWithTransport(ServerConfig{Language: "rust"}, root, transport, nil)
	defer c.Close()

	// When: requesting the definition at a 1-based position
	locs, err := c.FindDefinition(context.Background(), "src/lib.rs", 1, 10)

	// Then: the link is decoded and the wire position is zero-based
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, target, locs[0].URI)
	assert.Equal(t, 1, locs[0].Range.Start.Line)

	var p textDocumentPositionParams
	require.NoError(t, json.Unmarshal(srv.paramsOf("textDocument/definition"), &p))
	assert.Equal(t, Position{Line: 0, Character: 9}, p.Position)
	assert.Equal(t, []string{"initialize", "initialized", "textDocument/didOpen", "textDocument/definition"}, srv.seen())
}

func TestClient_ReopenSendsDidChange(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.rs", "fn a() {}\n")
	srv, transport := newFakeServer(t, func(string, json.RawMessage) (any, *rpcError) {
		return []Location{}, nil
	})
	c := NewClientWithTransport(ServerConfig{Language: "rust"}, root, transport, nil)
	defer c.Close()

	_, err := c.FindReferences(context.Background(), "a.rs", 1, 4)
	require.NoError(t, err)
	_, err = c.FindReferences(context.Background(), "a.rs", 1, 4)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"initialize", "initialized",
		"textDocument/didOpen", "textDocument/references",
		"textDocument/didChange", "textDocument/references",
	}, srv.seen())
}

func TestClient_FindCallsAndCallers(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "main.rs", "fn main() { run() }\nfn run() {}\n")
	uri := pathToURI(filepath.Join(root, "main.rs"))
	item := callHierarchyItem{Name: "main", Kind: 12, URI: uri, Range: rng(0, 0), SelectionRange: rng(0, 3)}
	_, transport := newFakeServer(t, func(method string, _ json.RawMessage) (any, *rpcError) {
		switch method {
		case "textDocument/prepareCallHierarchy":
			return []callHierarchyItem{item}, nil
		case "callHierarchy/outgoingCalls":
			return []callHierarchyOutgoingCall{{To: callHierarchyItem{Name: "run", URI: uri, SelectionRange: rng(1, 3)}}}, nil
		case "callHierarchy/incomingCalls":
			return []callHierarchyIncomingCall{{
				From:       callHierarchyItem{Name: "start", URI: uri, SelectionRange: rng(5, 3)},
				FromRanges: []Range{rng(6, 4)},
			}}, nil
		}
		return nil, nil
	})
	c := NewClientWithTransport(ServerConfig{Language: "rust"}, root, transport, nil)
	defer c.Close()

	calls, err := c.FindCalls(context.Background(), "main.rs", 1, 4)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "run", calls[0].Name)
	assert.Equal(t, 1, calls[0].Location.Range.Start.Line)

	// Callers point at the call expression, not the caller's name
	callers, err := c.FindCallers(context.Background(), "main.rs", 1, 4)
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "start", callers[0].Name)
	assert.Equal(t, 6, callers[0].Location.Range.Start.Line)
}

func TestClient_DocumentSymbols_Hierarchical(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "lib.rs", "struct S;\nimpl S { fn m(&self) {} }\n")
	_, transport := newFakeServer(t, func(method string, _ json.RawMessage) (any, *rpcError) {
		if method == "textDocument/documentSymbol" {
			return []documentSymbol{{
				Name: "S", Kind: 23, SelectionRange: rng(0, 7),
				Children: []documentSymbol{{Name: "m", Kind: 6, SelectionRange: rng(1, 12)}},
			}}, nil
		}
		return nil, nil
	})
	c := NewClientWithTransport(ServerConfig{Language: "rust"}, root, transport, nil)
	defer c.Close()

	syms, err := c.DocumentSymbols(context.Background(), "lib.rs")

	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "S", syms[0].Name)
	assert.Equal(t, "struct", syms[0].Kind)
	assert.Equal(t, "m", syms[1].Name)
	assert.Equal(t, "method", syms[1].Kind)
	assert.Equal(t, pathToURI(filepath.Join(root, "lib.rs")), syms[1].Location.URI)
}

func TestClient_WorkspaceSymbols(t *testing.T) {
	_, transport := newFakeServer(t, func(method string, _ json.RawMessage) (any, *rpcError) {
		if method == "workspace/symbol" {
			return []symbolInformation{{Name: "Parser", Kind: 23, Location: Location{URI: "file:///w/p.rs"}}}, nil
		}
		return nil, nil
	})
	c := NewClientWithTransport(ServerConfig{Language: "rust"}, t.TempDir(), transport, nil)
	defer c.Close()

	syms, err := c.WorkspaceSymbols(context.Background(), "Pars")

	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "Parser", syms[0].Name)
	assert.Equal(t, "struct", syms[0].Kind)
}

func TestClient_ErrorsPropagate(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.rs", "fn a() {}\n")
	_, transport := newFakeServer(t, func(method string, _ json.RawMessage) (any, *rpcError) {
		if method == "textDocument/references" {
			return nil, &rpcError{Code: -32601, Message: "method not found"}
		}
		return nil, nil
	})
	c := NewClientWithTransport(ServerConfig{Language: "rust"}, root, transport, nil)
	defer c.Close()

	_, err := c.FindReferences(context.Background(), "a.rs", 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")

	// A missing document fails before reaching the server
	_, err = c.FindReferences(context.Background(), "missing.rs", 1, 1)
	assert.Error(t, err)
}

func TestClient_TransportFailure(t *testing.T) {
	c := NewClientWithTransport(ServerConfig{Language: "rust"}, t.TempDir(), func(context.Context) (io.ReadWriteCloser, error) {
		return nil, fmt.Errorf("not installed")
	}, nil)

	_, err := c.WorkspaceSymbols(context.Background(), "x")
	assert.ErrorContains(t, err, "not installed")
	assert.NoError(t, c.Close())
}

func TestClient_CloseSendsShutdownAndExit(t *testing.T) {
	srv, transport := newFakeServer(t, nil)
	c := NewClientWithTransport(ServerConfig{Language: "rust"}, t.TempDir(), transport, nil)
	_, err := c.WorkspaceSymbols(context.Background(), "x")
	require.NoError(t, err)

	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		seen := srv.seen()
		return len(seen) >= 2 && seen[len(seen)-2] == "shutdown" && seen[len(seen)-1] == "exit"
	}, time.Second, 10*time.Millisecond)
}

func TestClient_MissingExecutable(t *testing.T) {
	c := NewClient(ServerConfig{Language: "none", Command: "codesearch-no-such-language-server"}, t.TempDir(), nil)

	_, err := c.WorkspaceSymbols(context.Background(), "x")
	assert.ErrorContains(t, err, "not installed")
}

func TestConn_AnswersConfigurationRequests(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	c := newConn(clientEnd, testLogger())
	defer c.close()

	// Given: the server asks for two configuration items
	id := json.RawMessage("7")
	params, _ := json.Marshal(map[string]any{"items": []any{map[string]string{}, map[string]string{}}})
	writeFrame(t, serverEnd, &message{ID: &id, Method: "workspace/configuration", Params: params})

	// Then: the client answers with one null per item
	resp, err := readMessage(bufio.NewReader(serverEnd))
	require.NoError(t, err)
	assert.Equal(t, "7", string(*resp.ID))
	assert.JSONEq(t, "[null,null]", string(resp.Result))
}

func TestConn_CallFailsWhenPeerCloses(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	c := newConn(clientEnd, testLogger())
	go func() {
		r := bufio.NewReader(serverEnd)
		_, _ = readMessage(r)
		_ = serverEnd.Close()
	}()

	err := c.call(context.Background(), "initialize", nil, nil)

	require.Error(t, err)
	err = c.call(context.Background(), "again", nil, nil)
	assert.Error(t, err)
}

func TestConn_CallHonorsContext(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	c := newConn(clientEnd, testLogger())
	defer c.close()
	go func() {
		_, _ = readMessage(bufio.NewReader(serverEnd))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.call(ctx, "slow", nil, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeLocations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"null", "null", 0},
		{"single", `{"uri":"file:///a","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":1}}}`, 1},
		{"array", `[{"uri":"file:///a"},{"uri":"file:///b"}]`, 2},
		{"links", `[{"targetUri":"file:///a","targetSelectionRange":{"start":{"line":2,"character":0},"end":{"line":2,"character":1}}}]`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locs, err := decodeLocations(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Len(t, locs, tt.want)
		})
	}
}

func TestURIRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "dir with space", "a.rs")
	assert.Equal(t, p, uriToPath(pathToURI(p)))
}

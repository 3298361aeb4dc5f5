// Package proxy implements the Proxy Engine: the HTTP handler that
// receives client requests, dispatches them to the configured upstream
// OpenAI-compatible API (buffered or streaming), and emits audit log
// events before and after dispatch via the Log Writer.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/plens/plens/internal/config"
	"github.com/plens/plens/internal/logwriter"
	"github.com/plens/plens/internal/payload"
)

// Proxy is the http.Handler mounted at the server root. It forwards
// every path and method to upstream.base_url + path, logging an input
// event before dispatch and an output event after response.
type Proxy struct {
	baseURL        string
	extraHeaders   map[string]string
	maxPromptBytes int
	writer         *logwriter.Writer
	client         *http.Client
}

// New constructs a Proxy from a validated AppConfig, a Log Writer, and a
// shared upstream HTTP client built once at server startup.
func New(cfg *config.AppConfig, writer *logwriter.Writer, client *http.Client) *Proxy {
	return &Proxy{
		baseURL:        cfg.Upstream.BaseURL,
		extraHeaders:   cfg.Upstream.Headers,
		maxPromptBytes: cfg.Logging.MaxPromptBytes,
		writer:         writer,
		client:         client,
	}
}

// ServeHTTP implements the request lifecycle of SPEC_FULL.md §4.E.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var bodyObj map[string]any
	isObject := json.Unmarshal(body, &bodyObj) == nil && bodyObj != nil

	family := payload.ClassifyFamily(r.URL.Path)
	streaming := isObject && isStreamRequest(bodyObj)

	if isObject {
		p.logInput(family, bodyObj)
	}

	upstreamReq, err := p.buildUpstreamRequest(r, body)
	if err != nil {
		writeUpstreamFailure(w, err)
		return
	}

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		writeUpstreamFailure(w, err)
		return
	}
	defer resp.Body.Close()

	if streaming {
		p.handleStreaming(w, resp, family)
		return
	}
	p.handleBuffered(w, resp, family)
}

// isStreamRequest reports whether the decoded request body asks for a
// streaming response: a JSON object with stream == true.
func isStreamRequest(body map[string]any) bool {
	v, ok := body["stream"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// buildUpstreamRequest constructs the outbound request to
// baseURL + r.URL.Path (+ query), with the original method, the raw
// request body bytes, and the forward-filtered header set plus any
// configured extra headers.
func (p *Proxy) buildUpstreamRequest(r *http.Request, body []byte) (*http.Request, error) {
	target := p.baseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}

	copyForwardHeaders(req.Header, r.Header)
	for k, v := range p.extraHeaders {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(len(body))

	return req, nil
}

// handleBuffered implements the non-streaming path of SPEC_FULL.md §4.E:
// await the full response, extract and log it, then return it verbatim.
func (p *Proxy) handleBuffered(w http.ResponseWriter, resp *http.Response, family payload.Family) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		writeUpstreamFailure(w, err)
		return
	}

	p.logBufferedOutput(family, respBody)

	copyReturnHeaders(w.Header(), resp.Header)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(respBody)))
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

// handleStreaming implements the streaming path of SPEC_FULL.md §4.E: a
// dual-purpose iterator forwards each upstream chunk to the client while
// accumulating it in memory, and the accumulated bytes feed the final
// log emission once the stream ends (normally or on error).
func (p *Proxy) handleStreaming(w http.ResponseWriter, resp *http.Response, family payload.Family) {
	copyReturnHeaders(w.Header(), resp.Header)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)

	var accumulated bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			accumulated.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}

	p.logStreamingOutputTail(family, accumulated.Bytes())
}

// logInput extracts and logs the user-input record for a request whose
// body decoded as a JSON object. Occurs before upstream dispatch so it
// is observable even if upstream later fails.
func (p *Proxy) logInput(family payload.Family, bodyObj map[string]any) {
	content := payload.ExtractPrompt(family, bodyObj)
	tr := payload.Truncate(content, p.maxPromptBytes)

	_, err := p.writer.WriteEvent(logwriter.Event{
		Input: &logwriter.InputPayload{
			Role:    "user",
			Type:    string(family),
			Content: tr.Content,
		},
		Truncated: tr.Truncated,
	})
	if err != nil {
		slog.Error("audit log write failed", "error", err)
	}
}

// logBufferedOutput extracts the non-streaming assistant output record
// and logs it if extraction yielded anything.
func (p *Proxy) logBufferedOutput(family payload.Family, respBody []byte) {
	var respObj map[string]any
	_ = json.Unmarshal(respBody, &respObj) // failure leaves respObj nil; extraction then silently yields nothing

	extraction := payload.ExtractResponse(family, respObj)
	if !extraction.Yielded {
		return
	}
	p.emitOutput(family, extraction.Content, extraction.ToolCalls, extraction.Refusal)
}

// logStreamingOutputTail synthesizes and logs the assistant output
// record from the accumulated stream bytes. Any failure here is
// swallowed so it cannot disturb the already-delivered client response.
func (p *Proxy) logStreamingOutputTail(family payload.Family, accumulated []byte) {
	if family == payload.FamilyChat {
		recon := payload.ReconstructChatStream(accumulated)
		if !recon.Yielded {
			p.emitOutput(family, string(bytes.ToValidUTF8(accumulated, []byte("�"))), nil, nil)
			return
		}
		var toolCalls any
		if len(recon.ToolCalls) > 0 {
			toolCalls = recon.ToolCalls
		}
		var content any
		if recon.Content != "" {
			content = recon.Content
		}
		p.emitOutput(family, content, toolCalls, nil)
		return
	}
	p.emitOutput(family, string(bytes.ToValidUTF8(accumulated, []byte("�"))), nil, nil)
}

// emitOutput marshals tool calls/refusal to raw JSON (never interpreting
// their contents) and writes the assistant output event.
func (p *Proxy) emitOutput(family payload.Family, content, toolCalls, refusal any) {
	tr := payload.Truncate(content, p.maxPromptBytes)

	var toolCallsRaw json.RawMessage
	if toolCalls != nil {
		toolCallsRaw, _ = json.Marshal(toolCalls)
	}
	var refusalRaw json.RawMessage
	if refusal != nil {
		refusalRaw, _ = json.Marshal(refusal)
	}

	_, err := p.writer.WriteEvent(logwriter.Event{
		Output: &logwriter.OutputPayload{
			Role:      "assistant",
			Type:      string(family),
			Content:   tr.Content,
			ToolCalls: toolCallsRaw,
			Refusal:   refusalRaw,
		},
		Truncated: tr.Truncated,
	})
	if err != nil {
		slog.Error("audit log write failed", "error", err)
	}
}

// writeUpstreamFailure writes the structured 502 body of SPEC_FULL.md
// §4.E / §7 error kind 3.
func writeUpstreamFailure(w http.ResponseWriter, err error) {
	slog.Error("upstream request failed", "error", err)

	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": "Upstream request failed",
			"type":    fmt.Sprintf("%T", err),
		},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	w.Write(body)
}

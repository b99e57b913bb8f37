package slimweb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func startTestServer(t *testing.T, cfg func(*Server)) *Server {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if cfg != nil {
		cfg(srv)
	}
	go func() { _ = srv.Run() }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func textHandler(code int, text string) Handler {
	return func(req *ServerRequest) (*ServerResponse, error) {
		resp, err := NewServerResponse(code)
		if err != nil {
			return nil, err
		}
		resp.SetBody(TextBody(text))
		return resp, nil
	}
}

func echoHandler(req *ServerRequest) (*ServerResponse, error) {
	resp, err := NewServerResponse(200)
	if err != nil {
		return nil, err
	}
	resp.SetBody(BytesBody(req.Body))
	return resp, nil
}

func TestServerClient_GET(t *testing.T) {
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("GET", "/hello", textHandler(200, "world"))
	})

	res, err := Get("http://" + srv.Addr() + "/hello").Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status() != 200 {
		t.Fatalf("status=%d", res.Status())
	}
	if res.Text() != "world" {
		t.Fatalf("body=%q", res.Text())
	}
}

func TestServerClient_PostEcho(t *testing.T) {
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("POST", "/echo", echoHandler)
	})

	res, err := Post("http://" + srv.Addr() + "/echo").
		SetBody(TextBody("ping pong")).
		Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Text() != "ping pong" {
		t.Fatalf("body=%q", res.Text())
	}
}

func TestServerClient_NotFound(t *testing.T) {
	srv := startTestServer(t, nil)

	res, err := Get("http://" + srv.Addr() + "/missing").Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status() != 404 {
		t.Fatalf("status=%d, want 404", res.Status())
	}
}

func TestServerClient_ChunkedResponse(t *testing.T) {
	long := strings.Repeat("0123456789", 300)
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("GET", "/chunky", func(req *ServerRequest) (*ServerResponse, error) {
			resp, err := NewServerResponse(200)
			if err != nil {
				return nil, err
			}
			resp.SetBody(TextBody(long)).SetChunkSize(7)
			return resp, nil
		})
	})

	res, err := Get("http://" + srv.Addr() + "/chunky").Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Text() != long {
		t.Fatalf("body mismatch: %d bytes vs %d", len(res.Body), len(long))
	}
	if _, ok := res.Header("Transfer-Encoding"); ok {
		t.Fatal("Transfer-Encoding still visible after de-chunking")
	}
}

func TestServerClient_ChunkedRequest(t *testing.T) {
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("POST", "/echo", echoHandler)
	})

	payload := strings.Repeat("chunk me ", 100)
	res, err := Post("http://" + srv.Addr() + "/echo").
		SetBody(TextBody(payload)).
		SetChunkSize(13).
		Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Text() != payload {
		t.Fatalf("body mismatch: %d bytes vs %d", len(res.Body), len(payload))
	}
}

func TestServerClient_GzipResponse(t *testing.T) {
	long := strings.Repeat("A", 4096)
	srv := startTestServer(t, func(s *Server) {
		s.EnableCompression()
		s.AddHandler("GET", "/big", func(req *ServerRequest) (*ServerResponse, error) {
			resp, err := NewServerResponse(200)
			if err != nil {
				return nil, err
			}
			resp.SetBody(TextBody(long)).SetCompressionLevel(gzip.DefaultCompression)
			return resp, nil
		})
	})

	res, err := Get("http://" + srv.Addr() + "/big").
		EnableCompression().
		Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got, _ := res.Header("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding=%q", got)
	}
	if res.Text() != long {
		t.Fatalf("body mismatch: %d bytes vs %d", len(res.Body), len(long))
	}
}

func TestServerClient_GzipRequest(t *testing.T) {
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("POST", "/echo", echoHandler)
	})

	payload := strings.Repeat("squeeze ", 600)
	res, err := Post("http://" + srv.Addr() + "/echo").
		SetBody(TextBody(payload)).
		EnableCompression().
		Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Text() != payload {
		t.Fatalf("body mismatch: %d bytes vs %d", len(res.Body), len(payload))
	}
}

func TestServerClient_JSON(t *testing.T) {
	type msg struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("POST", "/bump", func(req *ServerRequest) (*ServerResponse, error) {
			var in msg
			if err := req.JSON(&in); err != nil {
				return nil, err
			}
			in.Count++
			body, err := JSONBody(in)
			if err != nil {
				return nil, err
			}
			resp, err := NewServerResponse(200)
			if err != nil {
				return nil, err
			}
			resp.SetBody(body)
			return resp, nil
		})
	})

	body, err := JSONBody(msg{Name: "n", Count: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res, err := Post("http://" + srv.Addr() + "/bump").SetBody(body).Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ct, _ := res.Header("Content-Type"); ct != "application/json;charset=UTF-8" {
		t.Fatalf("Content-Type=%q", ct)
	}
	var out msg
	if err := res.JSON(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 {
		t.Fatalf("count=%d, want 2", out.Count)
	}
}

func TestServerClient_Multipart(t *testing.T) {
	var seen *Multipart
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("POST", "/upload", func(req *ServerRequest) (*ServerResponse, error) {
			seen = req.Multipart
			return NewServerResponse(204)
		})
	})

	body, contentType, err := NewMultipart().
		AddText("tag", "v1").
		AddFile("doc", "readme.txt", []byte("hi there")).
		Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res, err := Post("http://"+srv.Addr()+"/upload").
		SetHeader("Content-Type", contentType).
		SetBody(body).
		Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status() != 204 {
		t.Fatalf("status=%d", res.Status())
	}
	if seen == nil || len(seen.Parts()) != 2 {
		t.Fatalf("multipart not parsed: %+v", seen)
	}
	if seen.Parts()[1].Filename != "readme.txt" || string(seen.Parts()[1].Data) != "hi there" {
		t.Fatalf("file part=%+v", seen.Parts()[1])
	}
}

func redirectHandler(location string) Handler {
	return func(req *ServerRequest) (*ServerResponse, error) {
		resp, err := NewServerResponse(302)
		if err != nil {
			return nil, err
		}
		resp.SetHeader("Location", location)
		return resp, nil
	}
}

func TestServerClient_RedirectChainWithinLimit(t *testing.T) {
	srv := startTestServer(t, func(s *Server) {
		for i := 1; i < 5; i++ {
			s.AddHandler("GET", fmt.Sprintf("/r/%d", i), redirectHandler(fmt.Sprintf("/r/%d", i+1)))
		}
		s.AddHandler("GET", "/r/5", redirectHandler("/done"))
		s.AddHandler("GET", "/done", textHandler(200, "made it"))
	})

	res, err := Get("http://" + srv.Addr() + "/r/1").Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Text() != "made it" {
		t.Fatalf("body=%q", res.Text())
	}
}

func TestServerClient_RedirectChainOverLimit(t *testing.T) {
	srv := startTestServer(t, func(s *Server) {
		for i := 1; i < 6; i++ {
			s.AddHandler("GET", fmt.Sprintf("/r/%d", i), redirectHandler(fmt.Sprintf("/r/%d", i+1)))
		}
		s.AddHandler("GET", "/r/6", redirectHandler("/done"))
		s.AddHandler("GET", "/done", textHandler(200, "made it"))
	})

	_, err := Get("http://" + srv.Addr() + "/r/1").Send()
	if !errors.Is(err, ErrMaxRedirects) {
		t.Fatalf("err=%v, want ErrMaxRedirects", err)
	}

	// The same chain passes once the limit is raised.
	res, err := Get("http://" + srv.Addr() + "/r/1").SetMaxRedirects(6).Send()
	if err != nil {
		t.Fatalf("send with limit 6: %v", err)
	}
	if res.Text() != "made it" {
		t.Fatalf("body=%q", res.Text())
	}
}

func TestServerClient_RedirectWithoutLocation(t *testing.T) {
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("GET", "/lost", func(req *ServerRequest) (*ServerResponse, error) {
			return NewServerResponse(302)
		})
	})

	_, err := Get("http://" + srv.Addr() + "/lost").Send()
	if !errors.Is(err, ErrNoLocation) {
		t.Fatalf("err=%v, want ErrNoLocation", err)
	}
}

func TestServerClient_RedirectDowngradesMethod(t *testing.T) {
	var finalMethod string
	var finalBody []byte
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("POST", "/submit", redirectHandler("/after"))
		s.AddHandler("GET", "/after", func(req *ServerRequest) (*ServerResponse, error) {
			finalMethod = req.Method()
			finalBody = req.Body
			return textHandler(200, "ok")(req)
		})
	})

	res, err := Post("http://" + srv.Addr() + "/submit").
		SetBody(TextBody("form data")).
		Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status() != 200 {
		t.Fatalf("status=%d", res.Status())
	}
	if finalMethod != "GET" {
		t.Fatalf("method=%q, want GET", finalMethod)
	}
	if len(finalBody) != 0 {
		t.Fatalf("body carried across downgrade: %q", finalBody)
	}
}

func TestServerClient_DeadlineOnSlowHandler(t *testing.T) {
	srv := startTestServer(t, func(s *Server) {
		s.AddHandler("GET", "/slow", func(req *ServerRequest) (*ServerResponse, error) {
			time.Sleep(1500 * time.Millisecond)
			return textHandler(200, "late")(req)
		})
	})

	start := time.Now()
	_, err := Get("http://" + srv.Addr() + "/slow").
		SetDeadline(300 * time.Millisecond).
		Send()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 1200*time.Millisecond {
		t.Fatalf("gave up after %v, deadline was 300ms", elapsed)
	}
}

func TestServerClient_Expect100Accepted(t *testing.T) {
	var got []byte
	srv := startTestServer(t, func(s *Server) {
		s.AddExpectation(func(info *GeneralInfo) (int, string) { return 100, "" })
		s.AddHandler("POST", "/data", func(req *ServerRequest) (*ServerResponse, error) {
			got = req.Body
			return NewServerResponse(204)
		})
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "POST /data HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\n")

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read interim: %v", err)
	}
	if !strings.HasPrefix(line, "HTTP/1.1 100") {
		t.Fatalf("interim=%q", line)
	}
	// Blank line after the interim head.
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatalf("read interim blank: %v", err)
	}

	if _, err := io.WriteString(conn, "hello"); err != nil {
		t.Fatalf("write body: %v", err)
	}
	line, err = br.ReadString('\n')
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if !strings.HasPrefix(line, "HTTP/1.1 204") {
		t.Fatalf("final=%q", line)
	}
	if string(got) != "hello" {
		t.Fatalf("server saw body %q", got)
	}
}

func TestServerClient_ExpectRejected(t *testing.T) {
	handled := false
	srv := startTestServer(t, func(s *Server) {
		s.AddExpectation(func(info *GeneralInfo) (int, string) {
			if v, _ := info.Header("Content-Length"); v == "5" {
				return 417, "nope"
			}
			return 100, ""
		})
		s.AddHandler("POST", "/data", func(req *ServerRequest) (*ServerResponse, error) {
			handled = true
			return NewServerResponse(204)
		})
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "POST /data HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\n")

	raw, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	resp := string(raw)
	if !strings.HasPrefix(resp, "HTTP/1.1 417 Expectation Failed") {
		t.Fatalf("response=%q", resp)
	}
	if !strings.HasSuffix(resp, "nope") {
		t.Fatalf("response body missing: %q", resp)
	}
	if handled {
		t.Fatal("handler ran despite a failed expectation")
	}
}

func TestClient_CloseDelimitedBody(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		io.WriteString(conn, "HTTP/1.1 200 OK\r\n\r\nuntil close")
		conn.Close()
	}()

	res, err := Get("http://" + ln.Addr().String() + "/").Send()
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Text() != "until close" {
		t.Fatalf("body=%q", res.Text())
	}
}

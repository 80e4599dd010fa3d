package ratelimit

import (
	"context"
	"net/url"
	"testing"
	"time"
)

func TestReply_CompletesOnce(t *testing.T) {
	r := NewReply()
	calls := 0
	r.OnComplete(func(*Response) { calls++ })

	if !r.Complete(&Response{StatusCode: 200}) {
		t.Fatal("first complete should win")
	}
	if r.Complete(&Response{StatusCode: 500}) {
		t.Fatal("second complete should be ignored")
	}
	if calls != 1 {
		t.Fatalf("callback calls: got %d, want 1", calls)
	}
	if got := r.Response().StatusCode; got != 200 {
		t.Fatalf("StatusCode: got %d, want 200", got)
	}

	late := 0
	r.OnComplete(func(resp *Response) {
		if resp.StatusCode == 200 {
			late++
		}
	})
	if late != 1 {
		t.Fatal("callback registered after completion should run immediately")
	}
}

func TestReply_WaitHonorsContext(t *testing.T) {
	r := NewReply()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}

	r.Complete(&Response{StatusCode: 204})
	resp, err := r.Wait(context.Background())
	if err != nil || resp.StatusCode != 204 {
		t.Fatalf("Wait: resp=%+v err=%v", resp, err)
	}
}

func TestResponseOK(t *testing.T) {
	if (&Response{StatusCode: 200}).OK() != true {
		t.Fatal("200 should be OK")
	}
	if (&Response{StatusCode: 404}).OK() {
		t.Fatal("404 should not be OK")
	}
	var nilResp *Response
	if nilResp.OK() {
		t.Fatal("nil response should not be OK")
	}
}

func TestEndpointFromURL(t *testing.T) {
	u, _ := url.Parse("https://api.example.com/stash/Standard/abc?foo=1")
	if got := EndpointFromURL(u); got != "https://api.example.com/stash/Standard/abc" {
		t.Fatalf("got %q", got)
	}
}

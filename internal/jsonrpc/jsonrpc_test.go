package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRequest_NotificationVersusRequest(t *testing.T) {
	cases := []struct {
		body   string
		notify bool
		id     string
	}{
		{`{"jsonrpc":"2.0","method":"notifications/initialized"}`, true, ""},
		{`{"jsonrpc":"2.0","id":1,"method":"ping"}`, false, "1"},
		{`{"jsonrpc":"2.0","id":"abc","method":"ping"}`, false, `"abc"`},
		{`{"jsonrpc":"2.0","id":null,"method":"ping"}`, false, "null"},
		{`{"jsonrpc":"2.0","id":1.50,"method":"ping"}`, false, "1.50"},
		{`{"jsonrpc":"2.0","id":true,"method":"ping"}`, false, "true"},
		{`{"jsonrpc":"2.0","id":{ "a" : [1, 2] },"method":"ping"}`, false, `{"a":[1,2]}`},
		{`{"jsonrpc":"2.0","id":["x"],"method":"ping"}`, false, `["x"]`},
	}
	for _, tc := range cases {
		req, err := ParseRequest([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if req.IsNotification() != tc.notify {
			t.Fatalf("%s: notification=%v", tc.body, req.IsNotification())
		}
		if tc.notify {
			continue
		}
		got, err := json.Marshal(req.ID)
		if err != nil {
			t.Fatalf("marshal id: %v", err)
		}
		if string(got) != tc.id {
			t.Fatalf("%s: id echoed as %s, want %s", tc.body, got, tc.id)
		}
	}
}

func TestParseRequest_Errors(t *testing.T) {
	cases := []struct {
		body string
		want error
	}{
		{`{"jsonrpc":`, ErrParse},
		{`not json`, ErrParse},
		{`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, ErrInvalidRequest},
		{`"ping"`, ErrInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":7}`, ErrInvalidRequest},
	}
	for _, tc := range cases {
		_, err := ParseRequest([]byte(tc.body))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: want %v, got %v", tc.body, tc.want, err)
		}
	}
}

func TestParseRequest_NullParamsDropped(t *testing.T) {
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Params != nil {
		t.Fatalf("want nil params, got %s", req.Params)
	}
}

func TestResponse_NilIDIsNull(t *testing.T) {
	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeParseError, "Parse error: Invalid JSON", nil))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error: Invalid JSON"}}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
}

func TestResultResponseEchoesID(t *testing.T) {
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":"req-1","method":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := NewResultResponse(req.ID, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(resp)
	want := `{"jsonrpc":"2.0","id":"req-1","result":{}}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
	if req.ID.String() != "req-1" {
		t.Fatalf("want log form req-1, got %q", req.ID.String())
	}
}

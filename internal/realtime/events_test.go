package realtime

import (
	"encoding/json"
	"testing"
)

func TestDecodeIDArg(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "bare string", data: `"c1"`, want: "c1"},
		{name: "bare number", data: `42`, want: "42"},
		{name: "object", data: `{"conversationId":"c9"}`, want: "c9"},
		{name: "object number", data: `{"conversationId":17}`, want: "17"},
		{name: "empty string", data: `""`, wantErr: true},
		{name: "missing field", data: `{"other":1}`, wantErr: true},
		{name: "array", data: `[1]`, wantErr: true},
		{name: "absent", data: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeIDArg(json.RawMessage(tt.data), "conversationId")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got=%q err=%v", got, err)
			}
		})
	}
}

func TestMessageRefKey(t *testing.T) {
	var a, b messageRef
	_ = json.Unmarshal([]byte(`{"id":12,"text":"x"}`), &a)
	_ = json.Unmarshal([]byte(`{"_id":"abc"}`), &b)
	if a.key() != "12" || b.key() != "abc" {
		t.Fatalf("keys=%q %q", a.key(), b.key())
	}
}

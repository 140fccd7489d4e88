package rpcmsg

import "testing"

func TestCodecRoundTrip(t *testing.T) {
	want := &StreamResponse{
		SessionToken: "tok",
		Content:      "hello",
		Done:         true,
		Token:        "hello",
		CreatedAt:    12345,
		Metadata:     map[string]string{"model": "llama3"},
	}

	data, err := Codec.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got := &StreamResponse{}
	if err := Codec.Unmarshal(data, got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got.Content != want.Content || got.Done != want.Done || got.Metadata["model"] != "llama3" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCodecName(t *testing.T) {
	if Codec.Name() != "json" {
		t.Errorf("Name() = %q, want json", Codec.Name())
	}
}

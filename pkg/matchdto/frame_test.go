package matchdto

import (
	"encoding/json"
	"testing"
)

func TestFatalFrameDecodes(t *testing.T) {
	raw := `{"type":"error","error":{"code":"match_closed","message":"bye","fatal":true}}`
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != FrameFatal || f.Error == nil || !f.Error.Fatal || f.Error.Code != "match_closed" {
		t.Fatalf("frame=%+v err=%+v", f, f.Error)
	}

	// error acks carry the same error body without the fatal flag
	ack := Frame{Type: FrameAck, ID: "r1", Error: &FrameError{Code: CodeNotYourTurn, Message: "wait"}}
	b, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var back Frame
	if err := json.Unmarshal(b, &back); err != nil || back.Error == nil || back.Error.Fatal || back.Type != FrameAck {
		t.Fatalf("ack=%s err=%v", b, err)
	}
}

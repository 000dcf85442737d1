package telephony

import (
	"context"
	"errors"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type stubCreator struct {
	lastParams *api.CreateCallParams
	sid        string
	err        error
}

func (s *stubCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.lastParams = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func TestDialerDial(t *testing.T) {
	stub := &stubCreator{sid: testCallSID}
	d := NewDialer("AC123", "token")
	d.client = stub

	sid, err := d.Dial(context.Background(), "+15550002222", "+15550001111", "https://example.com/voice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if sid != testCallSID {
		t.Fatalf("expected sid %q, got %q", testCallSID, sid)
	}
	if stub.lastParams == nil || stub.lastParams.To == nil || *stub.lastParams.To != "+15550002222" {
		t.Fatalf("expected to param set, got %+v", stub.lastParams)
	}
	if stub.lastParams.Url == nil || *stub.lastParams.Url != "https://example.com/voice" {
		t.Fatalf("expected voice url param set, got %+v", stub.lastParams)
	}
}

func TestDialerValidation(t *testing.T) {
	d := NewDialer("AC123", "token")
	d.client = &stubCreator{sid: testCallSID}

	if _, err := d.Dial(context.Background(), "", "+15550001111", "https://example.com/voice"); err == nil {
		t.Fatalf("expected error for missing to")
	}
	if _, err := d.Dial(context.Background(), "+15550002222", "+15550001111", ""); err == nil {
		t.Fatalf("expected error for missing voice url")
	}

	d.client = &stubCreator{err: errors.New("boom")}
	if _, err := d.Dial(context.Background(), "+15550002222", "+15550001111", "https://example.com/voice"); err == nil {
		t.Fatalf("expected error on create failure")
	}
}

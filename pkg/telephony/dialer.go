package telephony

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dialer places outbound calls via the provider REST API.
type Dialer struct {
	accountSID string
	authToken  string
	client     callCreator
}

func NewDialer(accountSID, authToken string) *Dialer {
	return &Dialer{accountSID: accountSID, authToken: authToken}
}

// Dial creates an outbound call pointed at the given voice-webhook URL
// and returns the provider call id.
func (d *Dialer) Dial(ctx context.Context, to, from, voiceURL string) (string, error) {
	_ = ctx
	if to == "" || from == "" {
		return "", errors.New("to/from required")
	}
	if voiceURL == "" {
		return "", errors.New("voice url required")
	}
	client := d.client
	if client == nil {
		if d.accountSID == "" || d.authToken == "" {
			return "", errors.New("missing twilio credentials")
		}
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.accountSID,
			Password: d.authToken,
		})
		client = rest.Api
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(voiceURL)
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("missing call sid")
	}
	return *resp.Sid, nil
}

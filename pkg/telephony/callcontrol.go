package telephony

import (
	"context"
	"errors"
	"strings"

	"github.com/harunnryd/voxbridge/pkg/errorsx"
	"github.com/harunnryd/voxbridge/pkg/resilience"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

const callSIDLength = 34

type callFetcher interface {
	FetchCall(sid string, params *api.FetchCallParams) (*api.ApiV2010Call, error)
}

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// CallControl drives the provider REST API for call teardown. Both
// operations are best-effort from the coordinator's perspective; errors
// carry reason codes so callers can log and continue.
type CallControl struct {
	accountSID string
	authToken  string
	retry      resilience.RetryPolicy

	fetcher callFetcher
	updater callUpdater
}

func NewCallControl(accountSID, authToken string, retry resilience.RetryPolicy) *CallControl {
	return &CallControl{
		accountSID: accountSID,
		authToken:  authToken,
		retry:      retry,
	}
}

func (cc *CallControl) rest() (callFetcher, callUpdater, error) {
	if cc.fetcher != nil && cc.updater != nil {
		return cc.fetcher, cc.updater, nil
	}
	if cc.accountSID == "" || cc.authToken == "" {
		return nil, nil, errors.New("missing twilio credentials")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cc.accountSID,
		Password: cc.authToken,
	})
	return rest.Api, rest.Api, nil
}

// FetchStatus fetches a call and returns its current status.
func (cc *CallControl) FetchStatus(ctx context.Context, callSID string) (string, error) {
	_ = ctx
	fetcher, _, err := cc.rest()
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonProviderFetch)
	}
	sid, ok := SanitizeCallSID(callSID)
	if !ok {
		return "", errorsx.Wrap(errors.New("malformed call sid"), errorsx.ReasonProviderFetch)
	}
	var status string
	err = cc.retry.Do(func() error {
		call, err := fetcher.FetchCall(sid, &api.FetchCallParams{})
		if err != nil {
			return err
		}
		if call != nil && call.Status != nil {
			status = *call.Status
		}
		return nil
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonProviderFetch)
	}
	return status, nil
}

// EndCall updates the provider call status to completed.
func (cc *CallControl) EndCall(ctx context.Context, callSID string) error {
	_ = ctx
	_, updater, err := cc.rest()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonProviderUpdate)
	}
	sid, ok := SanitizeCallSID(callSID)
	if !ok {
		return errorsx.Wrap(errors.New("malformed call sid"), errorsx.ReasonProviderUpdate)
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	err = cc.retry.Do(func() error {
		_, err := updater.UpdateCall(sid, params)
		return err
	})
	return errorsx.Wrap(err, errorsx.ReasonProviderUpdate)
}

// SanitizeCallSID extracts the first well-formed 34-character CA token
// from a raw identifier. Provider ids are fixed-width; anything longer
// has been concatenated with other context upstream.
func SanitizeCallSID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) == callSIDLength && strings.HasPrefix(raw, "CA") {
		return raw, true
	}
	idx := strings.Index(raw, "CA")
	for idx >= 0 {
		if len(raw)-idx >= callSIDLength {
			candidate := raw[idx : idx+callSIDLength]
			if isCallSID(candidate) {
				return candidate, true
			}
		}
		next := strings.Index(raw[idx+1:], "CA")
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return "", false
}

func isCallSID(s string) bool {
	if len(s) != callSIDLength || !strings.HasPrefix(s, "CA") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

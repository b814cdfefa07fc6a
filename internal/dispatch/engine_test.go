package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/auth"
)

var now = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	err     error
	counter int
}

func (f *fakeRefresher) EnsureFresh(ctx context.Context, cred auth.Credential) (auth.Credential, error) {
	if !cred.Expired(now, 0) {
		return cred, nil
	}
	return f.Refresh(ctx, cred)
}

func (f *fakeRefresher) Refresh(_ context.Context, cred auth.Credential) (auth.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if cred.RefreshToken == "" {
		return cred, auth.ErrNoRefreshToken
	}
	if f.err != nil {
		return cred, f.err
	}
	if f.fail {
		cred.LastError = auth.RefreshAccessTokenError
		return cred, nil
	}
	f.counter++
	cred.AccessToken = "fresh-" + string(rune('0'+f.counter))
	cred.AccessTokenExpiresAt = now.Add(time.Hour)
	cred.LastError = ""
	return cred, nil
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// scriptedCapability returns the scripted errors in order, then succeeds.
type scriptedCapability struct {
	action    actions.Action
	errs      []error
	payload   Payload
	tokens    []string
	followErr error
	followed  int
	followCtx context.Context
	onInvoke  func()
}

func (c *scriptedCapability) Action() actions.Action { return c.action }

func (c *scriptedCapability) Invoke(_ context.Context, token string, _ *actions.Request) (Payload, error) {
	c.tokens = append(c.tokens, token)
	if c.onInvoke != nil {
		c.onInvoke()
	}
	if n := len(c.tokens); n <= len(c.errs) && c.errs[n-1] != nil {
		return nil, c.errs[n-1]
	}
	return c.payload, nil
}

type followingCapability struct {
	*scriptedCapability
}

func (c followingCapability) FollowUp(ctx context.Context, _ string, _ *actions.Request, _ Payload) error {
	c.followed++
	c.followCtx = ctx
	return c.followErr
}

func validCredential() auth.Credential {
	return auth.Credential{
		Subject:              "ana@example.com",
		AccessToken:          "stale",
		RefreshToken:         "refresh",
		AccessTokenExpiresAt: now.Add(30 * time.Minute),
	}
}

func newTestEngine(t *testing.T, r Refresher, caps ...Capability) *Engine {
	t.Helper()
	e, err := NewEngine(Config{Refresher: r, Now: func() time.Time { return now }}, caps...)
	require.NoError(t, err)
	return e
}

var sendRequest = &actions.Request{
	Action: actions.SendEmail,
	Fields: actions.EmailFields{To: []string{"bob@example.com"}, Subject: "Hi", Body: "Hello"},
}

func TestDispatch_SendSucceedsWhenLabelingFails(t *testing.T) {
	c := followingCapability{&scriptedCapability{
		action:    actions.SendEmail,
		payload:   Payload{"messageId": "m-1"},
		followErr: errors.New("label update: 500"),
	}}
	e := newTestEngine(t, &fakeRefresher{}, c)

	res, _ := e.Dispatch(context.Background(), sendRequest, validCredential())

	assert.True(t, res.Success)
	assert.True(t, res.Degraded)
	assert.Equal(t, "m-1", res.Data["messageId"])
	assert.Empty(t, res.Error)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "label update")
	assert.Equal(t, 1, c.followed)
	assert.Equal(t, 1, res.Attempts)
}

func TestDispatch_FollowUpSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := followingCapability{&scriptedCapability{
		action:   actions.SendEmail,
		payload:  Payload{"messageId": "m-1"},
		onInvoke: cancel,
	}}
	e := newTestEngine(t, &fakeRefresher{}, c)

	res, _ := e.Dispatch(ctx, sendRequest, validCredential())

	assert.True(t, res.Success)
	assert.False(t, res.Degraded)
	require.NotNil(t, c.followCtx)
	assert.NoError(t, c.followCtx.Err())
}

func TestDispatch_AuthFailureRefreshesOnceAndRetries(t *testing.T) {
	c := &scriptedCapability{
		action:  actions.SendEmail,
		errs:    []error{Unauthorized("invalid credentials", nil)},
		payload: Payload{"messageId": "m-2"},
	}
	r := &fakeRefresher{}
	e := newTestEngine(t, r, c)

	res, cred := e.Dispatch(context.Background(), sendRequest, validCredential())

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, r.Calls())
	assert.Equal(t, []string{"stale", "fresh-1"}, c.tokens)
	assert.Equal(t, "fresh-1", cred.AccessToken)
}

func TestDispatch_AuthFailureAfterRefreshIsTerminal(t *testing.T) {
	unauthorized := Unauthorized("invalid credentials", nil)
	c := &scriptedCapability{action: actions.SendEmail, errs: []error{unauthorized, unauthorized, unauthorized}}
	r := &fakeRefresher{}
	e := newTestEngine(t, r, c)

	res, _ := e.Dispatch(context.Background(), sendRequest, validCredential())

	assert.False(t, res.Success)
	assert.Equal(t, KindAuthorization, res.Kind)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, r.Calls())

	var authErr *AuthorizationError
	require.True(t, errors.As(res.Err, &authErr))
	assert.Equal(t, actions.SendEmail, authErr.Action)
}

func TestDispatch_AuthFailureWithFailedRefresh(t *testing.T) {
	c := &scriptedCapability{action: actions.SendEmail, errs: []error{Unauthorized("expired", nil)}}
	e := newTestEngine(t, &fakeRefresher{fail: true}, c)

	res, cred := e.Dispatch(context.Background(), sendRequest, validCredential())

	assert.Equal(t, KindAuthorization, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, cred.NeedsReauth())
	assert.Len(t, c.tokens, 1)
}

func TestDispatch_AuthFailureWithoutRefreshToken(t *testing.T) {
	c := &scriptedCapability{action: actions.SendEmail, errs: []error{Unauthorized("expired", nil)}}
	e := newTestEngine(t, &fakeRefresher{}, c)

	cred := validCredential()
	cred.RefreshToken = ""
	res, _ := e.Dispatch(context.Background(), sendRequest, cred)

	assert.Equal(t, KindAuthorization, res.Kind)
	assert.ErrorIs(t, res.Err, auth.ErrNoRefreshToken)
}

func TestDispatch_TransientRetriedOnce(t *testing.T) {
	t.Run("second attempt succeeds", func(t *testing.T) {
		c := &scriptedCapability{
			action:  actions.CreateEvent,
			errs:    []error{Transient("503 backend error", nil)},
			payload: Payload{"eventId": "e-1"},
		}
		e := newTestEngine(t, &fakeRefresher{}, c)

		res, _ := e.Dispatch(context.Background(), &actions.Request{Action: actions.CreateEvent}, validCredential())
		assert.True(t, res.Success)
		assert.Equal(t, 2, res.Attempts)
	})

	t.Run("second failure surfaces", func(t *testing.T) {
		c := &scriptedCapability{
			action: actions.CreateEvent,
			errs:   []error{Transient("503", nil), errors.New("connection reset"), nil},
		}
		e := newTestEngine(t, &fakeRefresher{}, c)

		res, _ := e.Dispatch(context.Background(), &actions.Request{Action: actions.CreateEvent}, validCredential())
		assert.False(t, res.Success)
		assert.Equal(t, KindTransient, res.Kind)
		assert.Equal(t, 2, res.Attempts)
		assert.Len(t, c.tokens, 2)

		var transient *TransientError
		assert.True(t, errors.As(res.Err, &transient))
	})
}

func TestDispatch_RejectedNotRetried(t *testing.T) {
	c := &scriptedCapability{action: actions.SendEmail, errs: []error{Rejected("Invalid To header", nil)}}
	r := &fakeRefresher{}
	e := newTestEngine(t, r, c)

	res, _ := e.Dispatch(context.Background(), sendRequest, validCredential())

	assert.Equal(t, KindRejected, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 0, r.Calls())

	var rejected *ProviderRejectedError
	require.True(t, errors.As(res.Err, &rejected))
	assert.Equal(t, "Invalid To header", rejected.Detail)
	assert.Contains(t, res.Error, "Invalid To header")
}

func TestDispatch_Unsupported(t *testing.T) {
	e := newTestEngine(t, &fakeRefresher{})

	res, _ := e.Dispatch(context.Background(), &actions.Request{Action: actions.DriveSearch}, validCredential())

	assert.Equal(t, KindUnsupported, res.Kind)
	assert.Equal(t, 0, res.Attempts)
	var unsupported *actions.UnsupportedActionError
	assert.True(t, errors.As(res.Err, &unsupported))
}

func TestDispatch_CredentialWithRefreshError(t *testing.T) {
	cred := validCredential()
	cred.LastError = auth.RefreshAccessTokenError

	t.Run("one refresh then success", func(t *testing.T) {
		c := &scriptedCapability{action: actions.SendEmail, payload: Payload{"messageId": "m-3"}}
		r := &fakeRefresher{}
		e := newTestEngine(t, r, c)

		res, out := e.Dispatch(context.Background(), sendRequest, cred)
		assert.True(t, res.Success)
		assert.Equal(t, 1, r.Calls())
		assert.False(t, out.NeedsReauth())
		assert.Equal(t, []string{"fresh-1"}, c.tokens)
	})

	t.Run("refresh fails again", func(t *testing.T) {
		c := &scriptedCapability{action: actions.SendEmail}
		r := &fakeRefresher{fail: true}
		e := newTestEngine(t, r, c)

		res, _ := e.Dispatch(context.Background(), sendRequest, cred)
		assert.Equal(t, KindAuthorization, res.Kind)
		assert.Equal(t, 1, r.Calls())
		assert.Empty(t, c.tokens)
	})

	t.Run("auth failure after the refresh is terminal", func(t *testing.T) {
		c := &scriptedCapability{action: actions.SendEmail, errs: []error{Unauthorized("nope", nil)}}
		r := &fakeRefresher{}
		e := newTestEngine(t, r, c)

		res, _ := e.Dispatch(context.Background(), sendRequest, cred)
		assert.Equal(t, KindAuthorization, res.Kind)
		assert.Equal(t, 1, r.Calls())
		assert.Len(t, c.tokens, 1)
	})
}

func TestDispatch_ExpiredCredentialRefreshedUpFront(t *testing.T) {
	cred := validCredential()
	cred.AccessTokenExpiresAt = now.Add(-time.Minute)

	c := &scriptedCapability{action: actions.SendEmail, payload: Payload{"messageId": "m-4"}}
	r := &fakeRefresher{}
	e := newTestEngine(t, r, c)

	res, out := e.Dispatch(context.Background(), sendRequest, cred)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"fresh-1"}, c.tokens)
	assert.Equal(t, "fresh-1", out.AccessToken)
	assert.Equal(t, 1, r.Calls())

	// The up-front refresh used the one refresh this dispatch gets.
	c = &scriptedCapability{action: actions.SendEmail, errs: []error{Unauthorized("nope", nil)}}
	r = &fakeRefresher{}
	e = newTestEngine(t, r, c)

	res, _ = e.Dispatch(context.Background(), sendRequest, cred)
	assert.Equal(t, KindAuthorization, res.Kind)
	assert.Equal(t, 1, r.Calls())
}

func TestDispatch_ExpiredWithoutRefreshTokenStillTries(t *testing.T) {
	cred := validCredential()
	cred.RefreshToken = ""
	cred.AccessTokenExpiresAt = now.Add(-time.Minute)

	c := &scriptedCapability{action: actions.SendEmail, payload: Payload{"messageId": "m-5"}}
	e := newTestEngine(t, &fakeRefresher{}, c)

	res, _ := e.Dispatch(context.Background(), sendRequest, cred)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"stale"}, c.tokens)
}

func TestEngine_Register(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)

	e := newTestEngine(t, &fakeRefresher{},
		CapabilityFunc{Name: actions.DriveGet, Fn: func(context.Context, string, *actions.Request) (Payload, error) { return nil, nil }},
		&scriptedCapability{action: actions.SendEmail},
	)
	assert.Equal(t, []actions.Action{actions.DriveGet, actions.SendEmail}, e.Actions())
	assert.Error(t, e.Register(&scriptedCapability{action: actions.SendEmail}))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindRejected, classify(Rejected("bad", nil)).Kind)
	assert.Equal(t, KindTransient, classify(errors.New("boom")).Kind)
	assert.Equal(t, KindTransient, classify(&ProviderError{Kind: "weird"}).Kind)

	wrapped := errors.Join(errors.New("context"), Unauthorized("401", nil))
	assert.Equal(t, KindAuthorization, classify(wrapped).Kind)
}

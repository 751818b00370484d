package push

import (
	"context"
	"testing"

	"prayerreminder/internal/client"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOneSignalAPI struct {
	created      []client.OneSignalUser
	createResp   client.OneSignalUser
	createErr    error
	getResp      client.OneSignalUser
	enabledCalls []string
}

func (f *fakeOneSignalAPI) OneSignalCreateUser(_ context.Context, _ string, u client.OneSignalUser) (client.OneSignalUser, error) {
	f.created = append(f.created, u)
	return f.createResp, f.createErr
}

func (f *fakeOneSignalAPI) OneSignalGetUser(context.Context, string, string, string) (client.OneSignalUser, error) {
	return f.getResp, nil
}

func (f *fakeOneSignalAPI) OneSignalSetSubscriptionEnabled(_ context.Context, _ string, id string, _ bool) error {
	f.enabledCalls = append(f.enabledCalls, id)
	return nil
}

func boolPtr(b bool) *bool { return &b }

func newTestRESTSDK(api *fakeOneSignalAPI, token string) *RESTSDK {
	return &RESTSDK{API: api, Tokens: StaticToken(token), Permissions: StaticPermission(true)}
}

func TestRESTSDK_RequiresInitialize(t *testing.T) {
	s := newTestRESTSDK(&fakeOneSignalAPI{}, "tok")
	ctx := context.Background()

	assert.Error(t, s.Login(ctx, "ext"))
	assert.Error(t, s.OptIn(ctx))
	_, err := s.Subscription(ctx)
	assert.Error(t, err)
	assert.Error(t, s.Initialize(ctx, ""))
}

func TestRESTSDK_LoginAndSubscription(t *testing.T) {
	ctx := context.Background()
	api := &fakeOneSignalAPI{createResp: client.OneSignalUser{
		Identity:      map[string]string{"onesignal_id": "os-1"},
		Subscriptions: []client.OneSignalSubscription{{ID: "sub-1", Type: "AndroidPush", Token: "tok", Enabled: boolPtr(true)}},
	}}
	s := newTestRESTSDK(api, "tok")
	require.NoError(t, s.Initialize(ctx, "app-1"))

	sub, err := s.Subscription(ctx)
	require.NoError(t, err)
	assert.Nil(t, sub)

	require.NoError(t, s.OptIn(ctx))
	require.NoError(t, s.Login(ctx, "ext-1"))

	require.Len(t, api.created, 1)
	assert.Equal(t, "ext-1", api.created[0].Identity[client.AliasExternalID])
	require.Len(t, api.created[0].Subscriptions, 1)
	assert.Equal(t, "tok", api.created[0].Subscriptions[0].Token)
	assert.True(t, *api.created[0].Subscriptions[0].Enabled)

	sub, err = s.Subscription(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Subscription{ID: "sub-1", Token: "tok", OptedIn: true}, sub)

	id, err := s.PushSubscriptionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", id)

	osID, err := s.OnesignalID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "os-1", osID)
}

func TestRESTSDK_LoginWithoutToken(t *testing.T) {
	ctx := context.Background()
	api := &fakeOneSignalAPI{}
	s := newTestRESTSDK(api, "")
	require.NoError(t, s.Initialize(ctx, "app-1"))
	require.NoError(t, s.Login(ctx, "ext-1"))
	require.Len(t, api.created, 1)
	assert.Empty(t, api.created[0].Subscriptions)
}

func TestRESTSDK_LoginError(t *testing.T) {
	ctx := context.Background()
	s := newTestRESTSDK(&fakeOneSignalAPI{createErr: errors.New("unreachable")}, "tok")
	require.NoError(t, s.Initialize(ctx, "app-1"))
	assert.Error(t, s.Login(ctx, "ext-1"))
}

func TestRESTSDK_OptInEnablesDisabledSubscription(t *testing.T) {
	ctx := context.Background()
	api := &fakeOneSignalAPI{createResp: client.OneSignalUser{
		Subscriptions: []client.OneSignalSubscription{{ID: "sub-1", Type: "AndroidPush", Token: "tok", Enabled: boolPtr(false)}},
	}}
	s := newTestRESTSDK(api, "tok")
	require.NoError(t, s.Initialize(ctx, "app-1"))
	require.NoError(t, s.Login(ctx, "ext-1"))

	sub, err := s.Subscription(ctx)
	require.NoError(t, err)
	assert.False(t, sub.OptedIn)

	require.NoError(t, s.OptIn(ctx))
	assert.Equal(t, []string{"sub-1"}, api.enabledCalls)

	sub, err = s.Subscription(ctx)
	require.NoError(t, err)
	assert.True(t, sub.OptedIn)
}

func TestRESTSDK_Refresh(t *testing.T) {
	ctx := context.Background()
	api := &fakeOneSignalAPI{getResp: client.OneSignalUser{
		Subscriptions: []client.OneSignalSubscription{{ID: "sub-2", Type: "AndroidPush", Token: "tok"}},
	}}
	s := newTestRESTSDK(api, "tok")
	require.NoError(t, s.Initialize(ctx, "app-1"))
	assert.Error(t, s.Refresh(ctx))

	require.NoError(t, s.Login(ctx, "ext-1"))
	require.NoError(t, s.Refresh(ctx))
	id, err := s.PushSubscriptionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sub-2", id)
}

func TestRESTSDK_Deliver(t *testing.T) {
	s := newTestRESTSDK(&fakeOneSignalAPI{}, "tok")
	var clicked []string
	s.OnClick(func(n Notification) { clicked = append(clicked, n.ID) })
	s.OnForegroundWillDisplay(func(n Notification) bool { return n.ID != "quiet" })

	assert.True(t, s.Deliver(Notification{ID: "n1"}, true))
	assert.Equal(t, []string{"n1"}, clicked)
	assert.True(t, s.Deliver(Notification{ID: "n2"}, false))
	assert.False(t, s.Deliver(Notification{ID: "quiet"}, false))
}

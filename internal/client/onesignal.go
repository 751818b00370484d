package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const AliasExternalID = "external_id"

type OneSignalSubscription struct {
	ID                string `json:"id,omitempty"`
	Type              string `json:"type,omitempty"`
	Token             string `json:"token,omitempty"`
	Enabled           *bool  `json:"enabled,omitempty"`
	NotificationTypes int    `json:"notification_types,omitempty"`
}

type OneSignalUser struct {
	Identity      map[string]string       `json:"identity"`
	Subscriptions []OneSignalSubscription `json:"subscriptions,omitempty"`
}

// OneSignalID is the SDK-assigned user id, "" until the user exists.
func (u OneSignalUser) OneSignalID() string {
	return u.Identity["onesignal_id"]
}

// PushSubscription returns the first subscription of the given type.
func (u OneSignalUser) PushSubscription(subscriptionType string) (OneSignalSubscription, bool) {
	for _, s := range u.Subscriptions {
		if s.Type == subscriptionType {
			return s, true
		}
	}
	return OneSignalSubscription{}, false
}

func (c Client) oneSignalURL(appID string, path string) string {
	return fmt.Sprintf("%s/apps/%s%s", strings.TrimRight(c.OneSignalURL, "/"), url.PathEscape(appID), path)
}

// OneSignalCreateUser creates the user, or returns the existing one when the
// aliases already belong to a user, together with its subscriptions.
func (c Client) OneSignalCreateUser(ctx context.Context, appID string, user OneSignalUser) (OneSignalUser, error) {
	var resp OneSignalUser
	err := c.doJSON(ctx, "OneSignalCreateUser", http.MethodPost, c.oneSignalURL(appID, "/users"), user, &resp)
	return resp, err
}

func (c Client) OneSignalGetUser(ctx context.Context, appID string, aliasLabel string, aliasID string) (OneSignalUser, error) {
	var resp OneSignalUser
	u := c.oneSignalURL(appID, fmt.Sprintf("/users/by/%s/%s", url.PathEscape(aliasLabel), url.PathEscape(aliasID)))
	err := c.doJSON(ctx, "OneSignalGetUser", http.MethodGet, u, nil, &resp)
	return resp, err
}

func (c Client) OneSignalSetSubscriptionEnabled(ctx context.Context, appID string, subscriptionID string, enabled bool) error {
	body := struct {
		Subscription OneSignalSubscription `json:"subscription"`
	}{Subscription: OneSignalSubscription{Enabled: &enabled}}
	var resp struct{}
	u := c.oneSignalURL(appID, "/subscriptions/"+url.PathEscape(subscriptionID))
	return c.doJSON(ctx, "OneSignalSetSubscriptionEnabled", http.MethodPatch, u, body, &resp)
}

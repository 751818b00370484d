package client

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"net/http"
	"net/url"
	"prayerreminder/internal/model"
	"strings"
)

const methodOverridePatch = "PATCH"

func (c Client) schedulerURL(path string) string {
	return strings.TrimRight(c.SchedulerURL, "/") + path
}

// RegisterDevice creates or refreshes the device on the scheduler. The
// response is returned even alongside an *APIError so callers can read the
// backend's message.
func (c Client) RegisterDevice(ctx context.Context, req model.RegisterDeviceRequest) (model.DeviceResponse, error) {
	var resp model.DeviceResponse
	err := c.doJSON(ctx, "RegisterDevice", http.MethodPost, c.schedulerURL("/devices/register"), req, &resp)
	return resp, err
}

// UpdateDeviceSettings sends a partial settings update. PATCH is expressed as
// a POST with a "_method" override.
func (c Client) UpdateDeviceSettings(ctx context.Context, deviceID string, update model.SettingsUpdate) (model.DeviceResponse, error) {
	var resp model.DeviceResponse
	if deviceID == "" {
		return resp, errors.New("UpdateDeviceSettings: empty device id")
	}
	body := model.UpdateSettingsRequest{Method: methodOverridePatch, SettingsUpdate: update}
	u := c.schedulerURL(fmt.Sprintf("/devices/%s/settings", url.PathEscape(deviceID)))
	err := c.doJSON(ctx, "UpdateDeviceSettings", http.MethodPost, u, body, &resp)
	return resp, err
}

func (c Client) GetDeviceSchedule(ctx context.Context, deviceID string, days int) (model.ScheduleResponse, error) {
	var resp model.ScheduleResponse
	if deviceID == "" {
		return resp, errors.New("GetDeviceSchedule: empty device id")
	}
	u := c.schedulerURL(fmt.Sprintf("/devices/%s/schedule?days=%d", url.PathEscape(deviceID), days))
	err := c.doJSON(ctx, "GetDeviceSchedule", http.MethodGet, u, nil, &resp)
	return resp, err
}

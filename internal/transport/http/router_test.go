package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwulff/indieclock-go/internal/devices"
	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/messages"
	"github.com/jwulff/indieclock-go/internal/provision"
	"github.com/jwulff/indieclock-go/internal/publisher"
	"github.com/jwulff/indieclock-go/internal/rabbitmq"
	"github.com/jwulff/indieclock-go/internal/reconcile"
	"github.com/jwulff/indieclock-go/internal/storage"
)

const testToken = "operator-token"

type fakeDevices struct {
	restoreOpts []bool
	notified    []messages.Notification
	series      domain.ContributionSeries
	removed     []string
	msgLimit    int
	delivered   int
	err         error
}

func (f *fakeDevices) RegisterDevice(_ context.Context, ownerID, name string) (*domain.Device, domain.Credentials, error) {
	if f.err != nil {
		return nil, domain.Credentials{}, f.err
	}
	creds := domain.Credentials{Username: "awtrix_" + ownerID + "_abc", Secret: "s3cret", TopicPrefix: "awtrix_" + ownerID + "_abc"}
	device := domain.NewDevice("dev-1", ownerID, name, creds)
	device.CreatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return device, creds, nil
}

func (f *fakeDevices) Devices(_ context.Context, ownerID string) ([]*domain.Device, error) {
	return []*domain.Device{domain.NewDevice("dev-1", ownerID, "Desk", domain.Credentials{Username: "p", TopicPrefix: "p"})}, f.err
}

func (f *fakeDevices) RemoveDevice(_ context.Context, ownerID, deviceID string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, ownerID+"/"+deviceID)
	return nil
}

func (f *fakeDevices) RepairDevicePermissions(context.Context, string, string) error {
	return f.err
}

func (f *fakeDevices) PublishContributions(_ context.Context, _ string, series domain.ContributionSeries) (int, error) {
	f.series = series
	return f.delivered, f.err
}

func (f *fakeDevices) RequestSync(context.Context, string) (int, error) {
	return f.delivered, f.err
}

func (f *fakeDevices) NotifyOwner(_ context.Context, _ string, n messages.Notification) (int, error) {
	f.notified = append(f.notified, n)
	return f.delivered, f.err
}

func (f *fakeDevices) SwitchApp(context.Context, string, string) (int, error) {
	return f.delivered, f.err
}

func (f *fakeDevices) RecentMessages(_ context.Context, ownerID string, limit int) ([]*domain.OutboundMessage, error) {
	f.msgLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []*domain.OutboundMessage{
		{ID: 2, OwnerID: ownerID, Topic: "awtrix_u1_abc/notify", Kind: domain.MessageKindNotify,
			Payload: []byte(`{"text":"hi"}`), SentAt: time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)},
		{ID: 1, OwnerID: ownerID, Topic: "awtrix_u1_abc/custom/github-contributions", Kind: domain.MessageKindDisplay,
			Payload: []byte(`not json`), SentAt: time.Date(2024, 1, 7, 11, 0, 0, 0, time.UTC)},
	}, nil
}

func (f *fakeDevices) RestoreAllDevices(context.Context) (*reconcile.Report, error) {
	f.restoreOpts = append(f.restoreOpts, false)
	return &reconcile.Report{Total: 3, Restored: 2, Failures: []reconcile.Failure{{Username: "awtrix_u1_b", Reason: "boom"}}}, f.err
}

func (f *fakeDevices) RepairAllDevices(context.Context) (*reconcile.Report, error) {
	f.restoreOpts = append(f.restoreOpts, true)
	return &reconcile.Report{Total: 1, Repaired: 1, Failures: []reconcile.Failure{}}, f.err
}

type fakeBroker struct {
	err error
}

func (f *fakeBroker) Overview(context.Context) (*rabbitmq.Overview, error) {
	return &rabbitmq.Overview{ClusterName: "rabbit@test", RabbitMQVersion: "3.13.0"}, f.err
}

func (f *fakeBroker) MQTTEnabled(context.Context) (bool, error) { return true, nil }

func (f *fakeBroker) ListPrincipals(context.Context) ([]rabbitmq.User, error) {
	return []rabbitmq.User{{Name: "admin"}, {Name: "awtrix_u1_abc"}, {Name: "awtrix_u2_def"}}, nil
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func newTestRouter(d *fakeDevices, connected bool) http.Handler {
	return NewRouter(d, &fakeBroker{}, fakeConn(connected), testToken)
}

func do(t *testing.T, h http.Handler, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{}, false), http.MethodGet, "/healthz", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, do(t, newTestRouter(&fakeDevices{}, true), http.MethodGet, "/readyz", "", false).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, newTestRouter(&fakeDevices{}, false), http.MethodGet, "/readyz", "", false).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{}, true), http.MethodGet, "/metrics", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	h := newTestRouter(&fakeDevices{}, true)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/admin/restore", "", false).Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/restore", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := NewRouter(&fakeDevices{}, &fakeBroker{}, fakeConn(true), "")

	req := httptest.NewRequest(http.MethodPost, "/admin/restore", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRestore(t *testing.T) {
	d := &fakeDevices{}
	h := newTestRouter(d, true)

	rec := do(t, h, http.MethodPost, "/admin/restore", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var report reconcile.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Restored)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "boom", report.Failures[0].Reason)

	rec = do(t, h, http.MethodPost, "/admin/restore?repair=true", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{false, true}, d.restoreOpts)
}

func TestBrokerStatus(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{}, true), http.MethodGet, "/admin/broker", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var status BrokerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.MQTTEnabled)
	assert.Equal(t, 3, status.Principals)
	assert.Equal(t, 2, status.DevicePrincipals)
	assert.Equal(t, "3.13.0", status.RabbitMQVersion)
	assert.True(t, status.PublisherOnline)
}

func TestBrokerStatusUpstreamFailure(t *testing.T) {
	h := NewRouter(&fakeDevices{}, &fakeBroker{err: &rabbitmq.RequestError{StatusCode: 401}}, fakeConn(true), testToken)

	rec := do(t, h, http.MethodGet, "/admin/broker", "", true)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRegisterDevice(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{}, true), http.MethodPost, "/admin/owners/u1/devices", `{"name":"Desk"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.Device.OwnerID)
	assert.Equal(t, "Desk", resp.Device.Name)
	assert.Equal(t, "2024-01-02T03:04:05Z", resp.Device.CreatedAt)
	assert.Equal(t, "s3cret", resp.Credentials.Secret)
}

func TestListDevices(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{}, true), http.MethodGet, "/admin/owners/u1/devices", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []deviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestRemoveDevice(t *testing.T) {
	d := &fakeDevices{}
	rec := do(t, newTestRouter(d, true), http.MethodDelete, "/admin/owners/u1/devices/dev-1", "", true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u1/dev-1"}, d.removed)
}

func TestPublishContributions(t *testing.T) {
	d := &fakeDevices{delivered: 2}
	body := `[{"date":"2024-01-01","contributionCount":0},{"date":"2024-01-02","contributionCount":7}]`

	rec := do(t, newTestRouter(d, true), http.MethodPost, "/admin/owners/u1/contributions", body, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered":2}`, rec.Body.String())
	require.Len(t, d.series, 2)
	assert.Equal(t, 7, d.series[1].Count)
}

func TestPublishContributionsShortShape(t *testing.T) {
	d := &fakeDevices{delivered: 1}
	body := `[{"date":"2024-01-01","count":0},{"day":"2024-01-02","count":7}]`

	rec := do(t, newTestRouter(d, true), http.MethodPost, "/admin/owners/u1/contributions", body, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.series, 2)
	assert.Equal(t, "2024-01-02", d.series[1].Date)
	assert.Equal(t, 7, d.series[1].Count)
}

func TestListMessages(t *testing.T) {
	d := &fakeDevices{}

	rec := do(t, newTestRouter(d, true), http.MethodGet, "/admin/owners/u1/messages?limit=5", "", true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, d.msgLimit)
	assert.JSONEq(t, `[
		{"id":2,"topic":"awtrix_u1_abc/notify","kind":"notify","payload":{"text":"hi"},"sentAt":"2024-01-07T12:00:00Z"},
		{"id":1,"topic":"awtrix_u1_abc/custom/github-contributions","kind":"display","payload":"not json","sentAt":"2024-01-07T11:00:00Z"}
	]`, rec.Body.String())
}

func TestListMessagesBadLimit(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{}, true), http.MethodGet, "/admin/owners/u1/messages?limit=lots", "", true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyBadBody(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{}, true), http.MethodPost, "/admin/owners/u1/notify", `{not json`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyPartialDelivery(t *testing.T) {
	d := &fakeDevices{delivered: 1, err: fmt.Errorf("device dev-2: %w", publisher.ErrNotConnected)}

	rec := do(t, newTestRouter(d, true), http.MethodPost, "/admin/owners/u1/notify", `{"text":"hi"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp deliveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Delivered)
	assert.Contains(t, resp.Error, "not connected")
	require.Len(t, d.notified, 1)
	assert.Equal(t, "hi", d.notified[0].Text)
}

func TestSwitchAppRequiresName(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{}, true), http.MethodPost, "/admin/owners/u1/switch", `{}`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound{Resource: "device", ID: "x"}, http.StatusNotFound},
		{devices.ErrNoDevices, http.StatusNotFound},
		{messages.ErrEmptyText, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", provision.ErrNamespaceConflict), http.StatusConflict},
		{storage.ErrConflict, http.StatusConflict},
		{publisher.ErrNotConnected, http.StatusServiceUnavailable},
		{&rabbitmq.RequestError{StatusCode: 500}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestSyncNoDevices(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDevices{err: devices.ErrNoDevices}, true), http.MethodPost, "/admin/owners/u1/sync", "", true)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
